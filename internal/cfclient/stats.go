package cfclient

import (
	"fmt"
	"math"
	"time"
)

// bucketRanges are the fixed histogram buckets, lowest first.
var bucketRanges = []string{
	"800-900", "900-1000", "1000-1100", "1100-1200",
	"1200-1300", "1300-1400", "1400-1500", "1500-1600",
	"1600-1700", "1700-1800", "1800+",
}

const maxProblemsKept = 50

// deriveProblemStats restricts submissions to the lookback window, keeps
// accepted ones deduplicated by problem identity (first occurrence wins),
// and computes the aggregate statistics the dashboard charts are built from.
func deriveProblemStats(subs []rawSubmission, lookbackDays int, now time.Time) *ProblemStats {
	cutoff := now.AddDate(0, 0, -lookbackDays)

	var recent []rawSubmission
	for _, s := range subs {
		if !time.Unix(s.CreationTimeSeconds, 0).UTC().Before(cutoff) {
			recent = append(recent, s)
		}
	}

	seen := make(map[string]struct{})
	var problems []Problem
	for _, s := range recent {
		if s.Verdict != "OK" {
			continue
		}
		key := fmt.Sprintf("%d-%s", s.Problem.ContestID, s.Problem.Index)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags := s.Problem.Tags
		if tags == nil {
			tags = []string{}
		}
		problems = append(problems, Problem{
			Name:      s.Problem.Name,
			Rating:    s.Problem.Rating,
			Tags:      tags,
			ContestID: s.Problem.ContestID,
			Index:     s.Problem.Index,
			SolvedAt:  time.Unix(s.CreationTimeSeconds, 0).UTC(),
		})
	}

	stats := &ProblemStats{
		TotalSolved:        len(problems),
		HardestProblem:     HardestProblem{Name: "None"},
		RatingDistribution: make([]RatingBucket, len(bucketRanges)),
		SubmissionHeatmap:  buildHeatmap(recent, lookbackDays, now),
	}
	for i, r := range bucketRanges {
		stats.RatingDistribution[i] = RatingBucket{Range: r}
	}

	if len(problems) == 0 {
		stats.Problems = []Problem{}
		return stats
	}

	sum := 0
	hardest := problems[0]
	for _, p := range problems {
		sum += p.Rating
		if p.Rating > hardest.Rating {
			hardest = p
		}
		stats.RatingDistribution[bucketIndex(p.Rating)].Count++
	}

	stats.AverageRating = int(math.Round(float64(sum) / float64(len(problems))))
	stats.AveragePerDay = math.Round(float64(len(problems))/float64(lookbackDays)*10) / 10
	stats.HardestProblem = HardestProblem{
		Name:   hardest.Name,
		Rating: hardest.Rating,
		URL:    fmt.Sprintf("https://codeforces.com/problemset/problem/%d/%s", hardest.ContestID, hardest.Index),
	}

	if len(problems) > maxProblemsKept {
		problems = problems[:maxProblemsKept]
	}
	stats.Problems = problems
	return stats
}

// bucketIndex maps a problem rating to its histogram bucket. Unrated
// problems (rating 0) land in the lowest bucket.
func bucketIndex(rating int) int {
	switch {
	case rating >= 1800:
		return 10
	case rating < 900:
		return 0
	default:
		return (rating - 800) / 100
	}
}

// buildHeatmap produces one entry per calendar day of the window, oldest
// first, counting every submission regardless of verdict. Zero-activity
// days are present explicitly so the chart renders a full grid.
func buildHeatmap(subs []rawSubmission, days int, now time.Time) []HeatmapDay {
	perDay := make(map[string]int, len(subs))
	for _, s := range subs {
		date := time.Unix(s.CreationTimeSeconds, 0).UTC().Format("2006-01-02")
		perDay[date]++
	}

	heatmap := make([]HeatmapDay, 0, days)
	today := now.UTC()
	for i := days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format("2006-01-02")
		heatmap = append(heatmap, HeatmapDay{Date: date, Count: perDay[date]})
	}
	return heatmap
}
