package student

import (
	"time"

	"cfprogress/internal/cfclient"
)

// Student is a tracked individual identified by a Codeforces handle.
// The snapshot fields (contest history, rating history, problem stats) hold
// the latest synchronized Codeforces data and are replaced wholesale on each
// successful sync; a failed sync leaves them untouched.
type Student struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Email            string                  `json:"email"`
	Phone            string                  `json:"phone"`
	Handle           string                  `json:"codeforcesHandle"`
	CurrentRating    int                     `json:"currentRating"`
	MaxRating        int                     `json:"maxRating"`
	RemindersEnabled bool                    `json:"emailRemindersEnabled"`
	ContestHistory   []cfclient.ContestEntry `json:"contestHistory"`
	RatingHistory    []cfclient.RatingPoint  `json:"ratingHistory"`
	ProblemStats     *cfclient.ProblemStats  `json:"problemStats,omitempty"`
	LastSyncTime     *time.Time              `json:"lastSyncTime,omitempty"`
	ReminderCount    int                     `json:"reminderEmailCount"`
	LastReminderSent *time.Time              `json:"lastReminderSent,omitempty"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// Snapshot is the result of one successful per-student sync.
type Snapshot struct {
	CurrentRating  int
	MaxRating      int
	ContestHistory []cfclient.ContestEntry
	RatingHistory  []cfclient.RatingPoint
	ProblemStats   *cfclient.ProblemStats
}
