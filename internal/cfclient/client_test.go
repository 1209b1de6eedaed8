package cfclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

// newTestServer serves canned Codeforces API envelopes per method.
func newTestServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for method, result := range results {
		method, result := method, result
		mux.HandleFunc("/"+method, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "OK",
				"result": result,
			})
		})
	}
	return httptest.NewServer(mux)
}

func newTestClient(baseURL string) *Client {
	c := New(baseURL, 5*time.Second)
	c.now = func() time.Time { return fixedNow }
	return c
}

func daysAgo(n int) int64 {
	return fixedNow.AddDate(0, 0, -n).Unix()
}

// ── FetchRating ────────────────────────────────────────────────────────────

func TestFetchRating(t *testing.T) {
	srv := newTestServer(t, map[string]interface{}{
		"user.info": []map[string]interface{}{
			{"handle": "tourist", "rating": 3779, "maxRating": 3979},
		},
	})
	defer srv.Close()

	info, err := newTestClient(srv.URL).FetchRating(context.Background(), "tourist")
	if err != nil {
		t.Fatalf("FetchRating returned unexpected error: %v", err)
	}
	if info.CurrentRating != 3779 || info.MaxRating != 3979 {
		t.Errorf("FetchRating = %+v, want {3779 3979}", info)
	}
}

func TestFetchRating_HandleNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "FAILED",
			"comment": "handles: User with handle nosuchuser not found",
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchRating(context.Background(), "nosuchuser")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchRating error = %v, want ErrNotFound", err)
	}
}

func TestFetchRating_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	_, err := newTestClient(srv.URL).FetchRating(context.Background(), "tourist")
	if err == nil {
		t.Fatal("FetchRating expected error for unreachable server, got nil")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("network failure must not map to ErrNotFound, got %v", err)
	}
}

// ── FetchContests ──────────────────────────────────────────────────────────

func contestFixture() []map[string]interface{} {
	// Chronological, like the real user.rating endpoint.
	return []map[string]interface{}{
		{"contestId": 100, "contestName": "Old Round", "rank": 120,
			"ratingUpdateTimeSeconds": daysAgo(400), "oldRating": 1200, "newRating": 1250},
		{"contestId": 200, "contestName": "Round A", "rank": 80,
			"ratingUpdateTimeSeconds": daysAgo(60), "oldRating": 1250, "newRating": 1400},
		{"contestId": 300, "contestName": "Round B", "rank": 300,
			"ratingUpdateTimeSeconds": daysAgo(10), "oldRating": 1400, "newRating": 1350},
	}
}

func TestFetchContests_WindowAndOrder(t *testing.T) {
	srv := newTestServer(t, map[string]interface{}{"user.rating": contestFixture()})
	defer srv.Close()

	data, err := newTestClient(srv.URL).FetchContests(context.Background(), "someone", 365)
	if err != nil {
		t.Fatalf("FetchContests returned unexpected error: %v", err)
	}

	if len(data.Contests) != 2 {
		t.Fatalf("got %d contests, want 2 (the 400-day-old one is outside the window)", len(data.Contests))
	}
	if data.Contests[0].ID != 300 || data.Contests[1].ID != 200 {
		t.Errorf("contests not ordered most recent first: %v, %v", data.Contests[0].ID, data.Contests[1].ID)
	}
	if got := data.Contests[0].RatingChange; got != -50 {
		t.Errorf("RatingChange = %d, want -50", got)
	}
	if len(data.RatingHistory) != 2 || data.RatingHistory[0].Rating != 1350 {
		t.Errorf("rating history = %+v, want newest-first starting at 1350", data.RatingHistory)
	}
}

func TestFetchContests_EmptyHistory(t *testing.T) {
	srv := newTestServer(t, map[string]interface{}{"user.rating": []map[string]interface{}{}})
	defer srv.Close()

	data, err := newTestClient(srv.URL).FetchContests(context.Background(), "newbie", 365)
	if err != nil {
		t.Fatalf("FetchContests returned unexpected error: %v", err)
	}
	if len(data.Contests) != 0 || len(data.RatingHistory) != 0 {
		t.Errorf("expected empty contest data, got %+v", data)
	}
}

// ── FetchSubmissions ───────────────────────────────────────────────────────

func submission(days int, verdict string, contestID int, index, name string, rating int) map[string]interface{} {
	return map[string]interface{}{
		"creationTimeSeconds": daysAgo(days),
		"verdict":             verdict,
		"problem": map[string]interface{}{
			"contestId": contestID,
			"index":     index,
			"name":      name,
			"rating":    rating,
			"tags":      []string{"implementation"},
		},
	}
}

func TestFetchSubmissions_Aggregates(t *testing.T) {
	fixture := []map[string]interface{}{
		submission(2, "OK", 1, "A", "Easy", 800),
		submission(3, "OK", 1, "A", "Easy", 800),              // duplicate problem, dropped
		submission(4, "WRONG_ANSWER", 2, "B", "Medium", 1500), // not accepted
		submission(5, "OK", 2, "B", "Medium", 1500),
		submission(6, "OK", 3, "C", "Hard", 1900),
		submission(120, "OK", 4, "D", "Ancient", 2400), // outside window
	}
	srv := newTestServer(t, map[string]interface{}{"user.status": fixture})
	defer srv.Close()

	stats, err := newTestClient(srv.URL).FetchSubmissions(context.Background(), "someone", 90)
	if err != nil {
		t.Fatalf("FetchSubmissions returned unexpected error: %v", err)
	}

	if stats.TotalSolved != 3 {
		t.Errorf("TotalSolved = %d, want 3 (dedup + accepted-only + window)", stats.TotalSolved)
	}
	if want := 1400; stats.AverageRating != want { // (800+1500+1900)/3
		t.Errorf("AverageRating = %d, want %d", stats.AverageRating, want)
	}
	if stats.HardestProblem.Name != "Hard" || stats.HardestProblem.Rating != 1900 {
		t.Errorf("HardestProblem = %+v, want Hard/1900", stats.HardestProblem)
	}
	if stats.HardestProblem.URL != "https://codeforces.com/problemset/problem/3/C" {
		t.Errorf("HardestProblem.URL = %q", stats.HardestProblem.URL)
	}
}

func TestFetchSubmissions_RatingBuckets(t *testing.T) {
	fixture := []map[string]interface{}{
		submission(1, "OK", 1, "A", "Unrated", 0), // unrated lands in lowest bucket
		submission(2, "OK", 2, "A", "P850", 850),
		submission(3, "OK", 3, "A", "P1250", 1250),
		submission(4, "OK", 4, "A", "P1800", 1800),
		submission(5, "OK", 5, "A", "P2400", 2400),
	}
	srv := newTestServer(t, map[string]interface{}{"user.status": fixture})
	defer srv.Close()

	stats, err := newTestClient(srv.URL).FetchSubmissions(context.Background(), "someone", 30)
	if err != nil {
		t.Fatalf("FetchSubmissions returned unexpected error: %v", err)
	}

	counts := map[string]int{}
	for _, b := range stats.RatingDistribution {
		counts[b.Range] = b.Count
	}
	want := map[string]int{"800-900": 2, "1200-1300": 1, "1800+": 2}
	for r, n := range want {
		if counts[r] != n {
			t.Errorf("bucket %s = %d, want %d", r, counts[r], n)
		}
	}
	if len(stats.RatingDistribution) != 11 {
		t.Errorf("got %d buckets, want 11", len(stats.RatingDistribution))
	}
}

func TestFetchSubmissions_HeatmapCompleteness(t *testing.T) {
	const days = 30
	fixture := []map[string]interface{}{
		submission(0, "OK", 1, "A", "Today", 800),
		submission(0, "WRONG_ANSWER", 2, "B", "AlsoToday", 900), // heatmap counts every verdict
		submission(5, "OK", 3, "C", "LastWeek", 1000),
	}
	srv := newTestServer(t, map[string]interface{}{"user.status": fixture})
	defer srv.Close()

	stats, err := newTestClient(srv.URL).FetchSubmissions(context.Background(), "someone", days)
	if err != nil {
		t.Fatalf("FetchSubmissions returned unexpected error: %v", err)
	}

	heatmap := stats.SubmissionHeatmap
	if len(heatmap) != days {
		t.Fatalf("heatmap has %d entries, want %d", len(heatmap), days)
	}
	if heatmap[len(heatmap)-1].Date != fixedNow.Format("2006-01-02") {
		t.Errorf("last heatmap day = %s, want today (%s)", heatmap[len(heatmap)-1].Date, fixedNow.Format("2006-01-02"))
	}
	if heatmap[0].Date != fixedNow.AddDate(0, 0, -(days-1)).Format("2006-01-02") {
		t.Errorf("first heatmap day = %s, want oldest day of window", heatmap[0].Date)
	}
	if got := heatmap[len(heatmap)-1].Count; got != 2 {
		t.Errorf("today count = %d, want 2", got)
	}
	if got := heatmap[len(heatmap)-6].Count; got != 1 {
		t.Errorf("5-days-ago count = %d, want 1", got)
	}
	zeroDays := 0
	for _, day := range heatmap {
		if day.Count == 0 {
			zeroDays++
		}
	}
	if zeroDays != days-2 {
		t.Errorf("zero-count days = %d, want %d (zero days must be explicit)", zeroDays, days-2)
	}
}

func TestFetchSubmissions_Deterministic(t *testing.T) {
	fixture := []map[string]interface{}{
		submission(1, "OK", 1, "A", "One", 900),
		submission(2, "OK", 2, "B", "Two", 1100),
		submission(3, "OK", 3, "C", "Three", 1300),
	}
	srv := newTestServer(t, map[string]interface{}{"user.status": fixture})
	defer srv.Close()

	c := newTestClient(srv.URL)
	first, err := c.FetchSubmissions(context.Background(), "someone", 30)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := c.FetchSubmissions(context.Background(), "someone", 30)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs over the same window must derive identical statistics")
	}
}

func TestFetchSubmissions_NoSolvedProblems(t *testing.T) {
	srv := newTestServer(t, map[string]interface{}{"user.status": []map[string]interface{}{}})
	defer srv.Close()

	stats, err := newTestClient(srv.URL).FetchSubmissions(context.Background(), "idle", 14)
	if err != nil {
		t.Fatalf("FetchSubmissions returned unexpected error: %v", err)
	}
	if stats.TotalSolved != 0 || stats.AverageRating != 0 || stats.AveragePerDay != 0 {
		t.Errorf("empty stats = %+v, want zeros", stats)
	}
	if stats.HardestProblem.Name != "None" {
		t.Errorf("HardestProblem.Name = %q, want None", stats.HardestProblem.Name)
	}
	if len(stats.SubmissionHeatmap) != 14 {
		t.Errorf("heatmap has %d entries, want 14 even with no submissions", len(stats.SubmissionHeatmap))
	}
}

// ── FetchComprehensive ─────────────────────────────────────────────────────

func TestFetchComprehensive_MergesBothSides(t *testing.T) {
	srv := newTestServer(t, map[string]interface{}{
		"user.rating": contestFixture(),
		"user.status": []map[string]interface{}{submission(1, "OK", 1, "A", "Easy", 800)},
	})
	defer srv.Close()

	data, err := newTestClient(srv.URL).FetchComprehensive(context.Background(), "someone", 365, 90)
	if err != nil {
		t.Fatalf("FetchComprehensive returned unexpected error: %v", err)
	}
	if data.ContestData == nil || data.ProblemData == nil {
		t.Fatal("both sides should be populated")
	}
	if data.ProblemData.TotalSolved != 1 {
		t.Errorf("TotalSolved = %d, want 1", data.ProblemData.TotalSolved)
	}
}

func TestFetchComprehensive_OneSideFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user.rating", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "OK", "result": contestFixture()})
	})
	mux.HandleFunc("/user.status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	data, err := newTestClient(srv.URL).FetchComprehensive(context.Background(), "someone", 365, 90)
	if err != nil {
		t.Fatalf("one failing side must not fail the call: %v", err)
	}
	if data.ContestData == nil {
		t.Error("contest side should be populated")
	}
	if data.ProblemData != nil {
		t.Error("problem side should be nil after its fetch failed")
	}
}

func TestFetchComprehensive_BothSidesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchComprehensive(context.Background(), "someone", 365, 90)
	if err == nil {
		t.Fatal("expected error when both fetches fail")
	}
}
