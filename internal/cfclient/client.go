package cfclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	// Large enough to cover the lookback window for active users.
	submissionFetchCount = 10000
)

// ErrNotFound is returned when Codeforces does not know the handle.
var ErrNotFound = errors.New("codeforces handle not found")

// RatingInfo is the basic rating snapshot from user.info.
type RatingInfo struct {
	CurrentRating int `json:"currentRating"`
	MaxRating     int `json:"maxRating"`
}

// ContestEntry is one rated contest participation.
type ContestEntry struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Date         string `json:"date"` // YYYY-MM-DD, UTC
	Rank         int    `json:"rank"`
	OldRating    int    `json:"oldRating"`
	NewRating    int    `json:"newRating"`
	RatingChange int    `json:"ratingChange"`
}

// RatingPoint is one point of the rating graph.
type RatingPoint struct {
	Date   string `json:"date"`
	Rating int    `json:"rating"`
}

// ContestData bundles contests and the derived rating history,
// both ordered most recent first.
type ContestData struct {
	Contests      []ContestEntry `json:"contests"`
	RatingHistory []RatingPoint  `json:"ratingHistory"`
}

// Problem is a solved problem kept for the dashboard.
type Problem struct {
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Tags      []string  `json:"tags"`
	ContestID int       `json:"contestId"`
	Index     string    `json:"index"`
	SolvedAt  time.Time `json:"solvedAt"`
}

// HardestProblem is the max-rating solved problem in the window.
type HardestProblem struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
	URL    string `json:"url"`
}

// RatingBucket is one bar of the difficulty histogram.
type RatingBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// HeatmapDay is one calendar day of submission activity.
type HeatmapDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ProblemStats aggregates solved-problem statistics over a lookback window.
type ProblemStats struct {
	TotalSolved        int            `json:"totalSolved"`
	AverageRating      int            `json:"averageRating"`
	AveragePerDay      float64        `json:"averagePerDay"`
	HardestProblem     HardestProblem `json:"mostDifficultProblem"`
	RatingDistribution []RatingBucket `json:"ratingDistribution"`
	SubmissionHeatmap  []HeatmapDay   `json:"submissionHeatmap"`
	Problems           []Problem      `json:"problems"`
}

// Comprehensive bundles contest and problem data for one handle.
type Comprehensive struct {
	ContestData *ContestData  `json:"contestData"`
	ProblemData *ProblemStats `json:"problemData"`
	FetchedAt   time.Time     `json:"fetchedAt"`
}

// Client calls the Codeforces public API.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	now func() time.Time // injected for tests
}

// New creates a client. A zero timeout falls back to 30s; Codeforces is slow
// under load and an unbounded call would stall a whole sync run.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// envelope mirrors the top-level Codeforces API response.
type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// get performs one API call and unwraps the result payload.
func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	reqURL := c.BaseURL + "/" + method + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("codeforces request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("codeforces returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if env.Status != "OK" {
		if strings.Contains(strings.ToLower(env.Comment), "not found") {
			return fmt.Errorf("%w: %s", ErrNotFound, env.Comment)
		}
		return fmt.Errorf("codeforces api: %s", env.Comment)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// FetchRating returns the current and max rating for a handle via user.info.
func (c *Client) FetchRating(ctx context.Context, handle string) (*RatingInfo, error) {
	if handle == "" {
		return nil, errors.New("handle required")
	}
	params := url.Values{}
	params.Set("handles", handle)

	var users []struct {
		Rating    int `json:"rating"`
		MaxRating int `json:"maxRating"`
	}
	if err := c.get(ctx, "user.info", params, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &RatingInfo{CurrentRating: users[0].Rating, MaxRating: users[0].MaxRating}, nil
}

// rawContest mirrors one user.rating entry.
type rawContest struct {
	ContestID               int    `json:"contestId"`
	ContestName             string `json:"contestName"`
	Rank                    int    `json:"rank"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
	OldRating               int    `json:"oldRating"`
	NewRating               int    `json:"newRating"`
}

// FetchContests returns rated contests within the lookback window plus the
// derived rating history, both ordered most recent first.
func (c *Client) FetchContests(ctx context.Context, handle string, lookbackDays int) (*ContestData, error) {
	if handle == "" {
		return nil, errors.New("handle required")
	}
	params := url.Values{}
	params.Set("handle", handle)

	var raw []rawContest
	if err := c.get(ctx, "user.rating", params, &raw); err != nil {
		return nil, err
	}

	cutoff := c.now().AddDate(0, 0, -lookbackDays)

	// user.rating is chronological; keep the window, then flip to newest-first.
	data := &ContestData{
		Contests:      []ContestEntry{},
		RatingHistory: []RatingPoint{},
	}
	for i := len(raw) - 1; i >= 0; i-- {
		rc := raw[i]
		when := time.Unix(rc.RatingUpdateTimeSeconds, 0).UTC()
		if when.Before(cutoff) {
			continue
		}
		data.Contests = append(data.Contests, ContestEntry{
			ID:           rc.ContestID,
			Name:         rc.ContestName,
			Date:         when.Format("2006-01-02"),
			Rank:         rc.Rank,
			OldRating:    rc.OldRating,
			NewRating:    rc.NewRating,
			RatingChange: rc.NewRating - rc.OldRating,
		})
		data.RatingHistory = append(data.RatingHistory, RatingPoint{
			Date:   when.Format("2006-01-02"),
			Rating: rc.NewRating,
		})
	}
	return data, nil
}

// rawSubmission mirrors one user.status entry.
type rawSubmission struct {
	CreationTimeSeconds int64  `json:"creationTimeSeconds"`
	Verdict             string `json:"verdict"`
	Problem             struct {
		ContestID int      `json:"contestId"`
		Index     string   `json:"index"`
		Name      string   `json:"name"`
		Rating    int      `json:"rating"`
		Tags      []string `json:"tags"`
	} `json:"problem"`
}

// FetchSubmissions returns solved-problem statistics over the lookback window.
// The derivation is deterministic for a fixed submission set and window.
func (c *Client) FetchSubmissions(ctx context.Context, handle string, lookbackDays int) (*ProblemStats, error) {
	if handle == "" {
		return nil, errors.New("handle required")
	}
	params := url.Values{}
	params.Set("handle", handle)
	params.Set("from", "1")
	params.Set("count", fmt.Sprintf("%d", submissionFetchCount))

	var raw []rawSubmission
	if err := c.get(ctx, "user.status", params, &raw); err != nil {
		return nil, err
	}
	return deriveProblemStats(raw, lookbackDays, c.now()), nil
}

// FetchComprehensive fetches contest and submission data concurrently.
// Each side may fail independently; the call errors only when neither
// produced usable data.
func (c *Client) FetchComprehensive(ctx context.Context, handle string, contestDays, problemDays int) (*Comprehensive, error) {
	var (
		wg          sync.WaitGroup
		contests    *ContestData
		problems    *ProblemStats
		contestsErr error
		problemsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		contests, contestsErr = c.FetchContests(ctx, handle, contestDays)
	}()
	go func() {
		defer wg.Done()
		problems, problemsErr = c.FetchSubmissions(ctx, handle, problemDays)
	}()
	wg.Wait()

	if contestsErr != nil && problemsErr != nil {
		return nil, fmt.Errorf("comprehensive fetch for %s: %w", handle, contestsErr)
	}
	return &Comprehensive{
		ContestData: contests,
		ProblemData: problems,
		FetchedAt:   c.now().UTC(),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
