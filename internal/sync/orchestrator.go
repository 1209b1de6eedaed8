// Package sync implements the bulk Codeforces refresh: one run walks every
// student with a handle, sequentially and rate-limited, stores fresh
// snapshots, and hands the inactive ones to the notification dispatcher.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"cfprogress/internal/cfclient"
	"cfprogress/internal/notify"
	"cfprogress/internal/student"
)

const (
	// Lookback windows are wider than the UI defaults so the inactivity
	// check always has enough signal.
	contestLookbackDays = 365
	problemLookbackDays = 90

	// Zero submissions across this many trailing heatmap days marks a
	// student inactive.
	inactivityWindowDays = 7
)

// SyncError records one student whose refresh failed.
type SyncError struct {
	Student string `json:"student"`
	Handle  string `json:"handle"`
	Error   string `json:"error"`
}

// Report aggregates one complete run.
type Report struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message,omitempty"`
	Total            int               `json:"total"`
	Successful       int               `json:"successful"`
	Failed           int               `json:"failed"`
	Errors           []SyncError       `json:"errors"`
	InactiveStudents []notify.Inactive `json:"inactiveStudents"`
	EmailResults     *notify.Result    `json:"emailResults,omitempty"`
	Duration         float64           `json:"duration"` // seconds
	Timestamp        time.Time         `json:"timestamp"`
}

// Store is the slice of the student store the orchestrator needs.
type Store interface {
	ListSyncable(ctx context.Context) ([]student.Student, error)
	SaveSnapshot(ctx context.Context, id string, snap student.Snapshot) error
}

// Fetcher fetches combined Codeforces data for one handle.
type Fetcher interface {
	FetchComprehensive(ctx context.Context, handle string, contestDays, problemDays int) (*cfclient.Comprehensive, error)
}

// Notifier dispatches reminder emails to inactive students.
type Notifier interface {
	SendBulk(ctx context.Context, list []notify.Inactive) notify.Result
}

// ReportSink receives the serialized report after each run. Optional.
type ReportSink interface {
	SaveLastRun(ctx context.Context, report []byte) error
}

// Orchestrator executes synchronization passes. At most one run is in
// flight per process; the guard is an atomic compare-and-set because runs
// can be triggered concurrently from the cron timer and the HTTP API.
type Orchestrator struct {
	store      Store
	cf         Fetcher
	dispatcher Notifier
	sink       ReportSink
	delay      time.Duration

	inProgress atomic.Bool
	lastReport atomic.Pointer[Report]

	sleep func(time.Duration) // injected for tests
	now   func() time.Time
}

// New builds an orchestrator. delay is the pause between consecutive
// students (default 1s); sink may be nil.
func New(store Store, cf Fetcher, dispatcher Notifier, sink ReportSink, delay time.Duration) *Orchestrator {
	if delay < 0 {
		delay = time.Second
	}
	return &Orchestrator{
		store:      store,
		cf:         cf,
		dispatcher: dispatcher,
		sink:       sink,
		delay:      delay,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// InProgress reports whether a run is currently executing.
func (o *Orchestrator) InProgress() bool { return o.inProgress.Load() }

// LastReport returns the most recent run report, or nil before the first run.
func (o *Orchestrator) LastReport() *Report { return o.lastReport.Load() }

// Run executes one complete pass over all students with a handle. It never
// panics or returns an error: every failure mode is data in the report. A
// second Run while one is in flight returns immediately with a non-fatal
// "already in progress" report and touches nothing.
func (o *Orchestrator) Run(ctx context.Context) (report Report) {
	if !o.inProgress.CompareAndSwap(false, true) {
		log.Println("[sync] run already in progress, skipping")
		return Report{
			Success:          false,
			Message:          "sync already in progress",
			Errors:           []SyncError{},
			InactiveStudents: []notify.Inactive{},
			Timestamp:        o.now().UTC(),
		}
	}

	start := o.now()
	defer func() {
		o.inProgress.Store(false)
		if r := recover(); r != nil {
			report = Report{
				Success:          false,
				Message:          fmt.Sprintf("sync panicked: %v", r),
				Errors:           []SyncError{},
				InactiveStudents: []notify.Inactive{},
				Duration:         o.now().Sub(start).Seconds(),
				Timestamp:        start.UTC(),
			}
			o.finish(ctx, report)
		}
	}()

	log.Println("[sync] starting bulk sync of all student data")
	runsTotal.WithLabelValues("started").Inc()

	students, err := o.store.ListSyncable(ctx)
	if err != nil {
		log.Printf("[sync] loading students failed: %v", err)
		runsTotal.WithLabelValues("error").Inc()
		report = Report{
			Success:          false,
			Message:          err.Error(),
			Errors:           []SyncError{},
			InactiveStudents: []notify.Inactive{},
			Duration:         o.now().Sub(start).Seconds(),
			Timestamp:        start.UTC(),
		}
		o.finish(ctx, report)
		return report
	}

	log.Printf("[sync] found %d student(s) to sync", len(students))
	report = Report{
		Total:            len(students),
		Errors:           []SyncError{},
		InactiveStudents: []notify.Inactive{},
		Timestamp:        start.UTC(),
	}

	for i, s := range students {
		log.Printf("[sync] %d/%d: %s (%s)", i+1, len(students), s.Name, s.Handle)

		if inactive, err := o.syncOne(ctx, s); err != nil {
			log.Printf("[sync] failed to sync %s: %v", s.Name, err)
			report.Failed++
			report.Errors = append(report.Errors, SyncError{
				Student: s.Name,
				Handle:  s.Handle,
				Error:   err.Error(),
			})
			studentsTotal.WithLabelValues("failed").Inc()
		} else {
			report.Successful++
			studentsTotal.WithLabelValues("synced").Inc()
			if inactive {
				report.InactiveStudents = append(report.InactiveStudents, notify.Inactive{
					ID:     s.ID,
					Name:   s.Name,
					Email:  s.Email,
					Handle: s.Handle,
				})
			}
		}

		// Pause between students to respect the Codeforces rate limit,
		// but not after the last one.
		if i < len(students)-1 && o.delay > 0 {
			o.sleep(o.delay)
		}
	}

	if len(report.InactiveStudents) > 0 {
		log.Printf("[sync] %d inactive student(s), dispatching reminders", len(report.InactiveStudents))
		emailResults := o.dispatcher.SendBulk(ctx, report.InactiveStudents)
		report.EmailResults = &emailResults
	}

	report.Success = true
	report.Duration = o.now().Sub(start).Seconds()
	runsTotal.WithLabelValues("completed").Inc()
	lastRunDuration.Set(report.Duration)
	log.Printf("[sync] completed in %.2fs: %d successful, %d failed, %d inactive",
		report.Duration, report.Successful, report.Failed, len(report.InactiveStudents))

	o.finish(ctx, report)
	return report
}

// syncOne refreshes a single student and reports whether they are inactive.
func (o *Orchestrator) syncOne(ctx context.Context, s student.Student) (bool, error) {
	data, err := o.cf.FetchComprehensive(ctx, s.Handle, contestLookbackDays, problemLookbackDays)
	if err != nil {
		return false, err
	}
	if data == nil || data.ContestData == nil || data.ProblemData == nil {
		return false, errors.New("no data received from Codeforces API")
	}

	snap := student.Snapshot{
		CurrentRating:  currentRating(data.ContestData.RatingHistory),
		MaxRating:      maxRating(data.ContestData.RatingHistory),
		ContestHistory: data.ContestData.Contests,
		RatingHistory:  data.ContestData.RatingHistory,
		ProblemStats:   data.ProblemData,
	}
	if err := o.store.SaveSnapshot(ctx, s.ID, snap); err != nil {
		return false, fmt.Errorf("save snapshot: %w", err)
	}

	return isInactive(data.ProblemData.SubmissionHeatmap), nil
}

// currentRating is the most recent rating point. The history is ordered
// most recent first.
func currentRating(history []cfclient.RatingPoint) int {
	if len(history) == 0 {
		return 0
	}
	return history[0].Rating
}

func maxRating(history []cfclient.RatingPoint) int {
	max := 0
	for _, p := range history {
		if p.Rating > max {
			max = p.Rating
		}
	}
	return max
}

// isInactive sums the submission counts of the trailing inactivity window.
// The heatmap is ordered oldest first, so the window is its tail.
func isInactive(heatmap []cfclient.HeatmapDay) bool {
	from := len(heatmap) - inactivityWindowDays
	if from < 0 {
		from = 0
	}
	sum := 0
	for _, day := range heatmap[from:] {
		sum += day.Count
	}
	return sum == 0
}

// finish records the report in memory and mirrors it to the sink.
func (o *Orchestrator) finish(ctx context.Context, report Report) {
	o.lastReport.Store(&report)
	if o.sink == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		log.Printf("[sync] encode report: %v", err)
		return
	}
	if err := o.sink.SaveLastRun(ctx, payload); err != nil {
		log.Printf("[sync] persist report: %v", err)
	}
}
