// Package sched owns the recurring-timer lifecycle around the sync
// orchestrator: a validated cron expression, start/stop/update operations,
// and next-fire bookkeeping.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"

	"cfprogress/internal/sync"
)

// ErrInvalidSchedule is returned when a cron expression does not parse.
var ErrInvalidSchedule = errors.New("invalid cron expression")

// Presets returns the named schedule shortcuts exposed by the API.
func Presets() map[string]string {
	return map[string]string{
		"every_hour":     "0 * * * *",
		"every_2_hours":  "0 */2 * * *",
		"every_6_hours":  "0 */6 * * *",
		"daily_2am":      "0 2 * * *",
		"daily_midnight": "0 0 * * *",
		"twice_daily":    "0 0,12 * * *",
		"weekly":         "0 2 * * 0",
	}
}

// Runner is the orchestrator surface the controller drives.
type Runner interface {
	Run(ctx context.Context) sync.Report
	InProgress() bool
}

// Status is the schedule state snapshot served by GET /api/cron/status.
type Status struct {
	IsRunning       bool       `json:"isRunning"`
	CurrentSchedule string     `json:"currentSchedule"`
	LastRunTime     *time.Time `json:"lastRunTime"`
	NextRunTime     *time.Time `json:"nextRunTime"`
	SyncInProgress  bool       `json:"syncInProgress"`
}

// Controller registers the recurring sync job on a cron timer. All state
// transitions happen under one mutex; the fires themselves run on the cron
// goroutine and rely on the orchestrator's single-flight guard.
type Controller struct {
	runner Runner

	mu       gosync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	hasEntry bool
	schedule string
	parsed   cron.Schedule
	running  bool
	lastRun  *time.Time
	nextRun  *time.Time

	now func() time.Time
}

// NewController creates a stopped controller with the given default
// schedule expression. The cron timer runs in UTC; a panicking fire is
// recovered so it cannot kill the process or silence future fires.
func NewController(runner Runner, defaultSchedule string) *Controller {
	c := &Controller{
		runner:   runner,
		schedule: defaultSchedule,
		now:      time.Now,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
	}
	c.cron.Start()
	return c
}

// Validate parses a cron expression with standard 5-field semantics.
func Validate(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return schedule, nil
}

// Start validates the expression and registers the recurring sync job.
// Starting while already running replaces the previous registration.
func (c *Controller) Start(expr string) error {
	if expr == "" {
		c.mu.Lock()
		expr = c.schedule
		c.mu.Unlock()
	}
	schedule, err := Validate(expr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntryLocked()

	id, err := c.cron.AddFunc(expr, c.fire)
	if err != nil {
		// Parse already succeeded; AddFunc should not fail, but keep the
		// stopped state coherent if it ever does.
		c.running = false
		c.nextRun = nil
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	c.entryID = id
	c.hasEntry = true
	c.schedule = expr
	c.parsed = schedule
	c.running = true
	c.recomputeNextLocked()

	log.Printf("[scheduler] started with schedule %q, next run %s", expr, formatTime(c.nextRun))
	return nil
}

// Stop cancels the recurring job. Stopping a stopped controller is a no-op.
// A run already in flight completes; only future fires are prevented.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running && !c.hasEntry {
		return
	}
	c.removeEntryLocked()
	c.running = false
	c.nextRun = nil
	log.Println("[scheduler] stopped")
}

// Update replaces the schedule: stop, then start with the new expression.
// Not atomic: when validation of the new expression fails the controller
// stays stopped rather than rolling back to the previous schedule.
func (c *Controller) Update(expr string) error {
	c.Stop()
	return c.Start(expr)
}

// RunNow triggers a sync pass immediately, outside the timer. The
// orchestrator's single-flight guard turns overlapping calls into
// "already in progress" reports.
func (c *Controller) RunNow(ctx context.Context) sync.Report {
	c.markRunStarted()
	report := c.runner.Run(ctx)
	c.recomputeNext()
	return report
}

// Status returns the schedule state snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		IsRunning:       c.running,
		CurrentSchedule: c.schedule,
		LastRunTime:     c.lastRun,
		NextRunTime:     c.nextRun,
		SyncInProgress:  c.runner.InProgress(),
	}
}

// Shutdown stops the underlying cron timer and waits for a running fire.
func (c *Controller) Shutdown() {
	c.Stop()
	<-c.cron.Stop().Done()
}

// fire is the cron callback.
func (c *Controller) fire() {
	log.Println("[scheduler] cron fired, syncing Codeforces data")
	c.markRunStarted()
	c.runner.Run(context.Background())
	c.recomputeNext()
}

func (c *Controller) markRunStarted() {
	c.mu.Lock()
	now := c.now().UTC()
	c.lastRun = &now
	c.mu.Unlock()
}

func (c *Controller) recomputeNext() {
	c.mu.Lock()
	c.recomputeNextLocked()
	c.mu.Unlock()
}

func (c *Controller) recomputeNextLocked() {
	if !c.running || c.parsed == nil {
		c.nextRun = nil
		return
	}
	next := c.parsed.Next(c.now().In(time.UTC))
	c.nextRun = &next
}

func (c *Controller) removeEntryLocked() {
	if c.hasEntry {
		c.cron.Remove(c.entryID)
		c.hasEntry = false
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
