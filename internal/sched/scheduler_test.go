package sched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cfprogress/internal/sched"
	"cfprogress/internal/sync"
)

type fakeRunner struct {
	report     sync.Report
	calls      int
	inProgress bool
}

func (f *fakeRunner) Run(context.Context) sync.Report {
	f.calls++
	return f.report
}

func (f *fakeRunner) InProgress() bool { return f.inProgress }

func newController(t *testing.T) (*sched.Controller, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{}
	c := sched.NewController(runner, "0 2 * * *")
	t.Cleanup(c.Shutdown)
	return c, runner
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"daily at 2am", "0 2 * * *", false},
		{"every five minutes", "*/5 * * * *", false},
		{"descriptor", "@hourly", false},
		{"garbage", "not a schedule", true},
		{"too few fields", "0 2 *", true},
		{"out of range", "0 25 * * *", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sched.Validate(tc.expr)
			if tc.wantErr {
				if !errors.Is(err, sched.ErrInvalidSchedule) {
					t.Errorf("Validate(%q) = %v, want ErrInvalidSchedule", tc.expr, err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate(%q) = %v, want nil", tc.expr, err)
			}
		})
	}
}

func TestPresetsAllParse(t *testing.T) {
	presets := sched.Presets()
	if len(presets) == 0 {
		t.Fatal("no presets")
	}
	for name, expr := range presets {
		if _, err := sched.Validate(expr); err != nil {
			t.Errorf("preset %s (%q) does not parse: %v", name, expr, err)
		}
	}
	if presets["daily_2am"] != "0 2 * * *" {
		t.Errorf("daily_2am = %q", presets["daily_2am"])
	}
}

func TestStartPublishesNextRun(t *testing.T) {
	c, _ := newController(t)

	if err := c.Start("0 * * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := c.Status()
	if !st.IsRunning {
		t.Error("IsRunning = false after Start")
	}
	if st.CurrentSchedule != "0 * * * *" {
		t.Errorf("CurrentSchedule = %q", st.CurrentSchedule)
	}
	if st.NextRunTime == nil {
		t.Fatal("NextRunTime = nil after Start")
	}
	if !st.NextRunTime.After(time.Now().Add(-time.Minute)) {
		t.Errorf("NextRunTime = %s, want in the future", st.NextRunTime)
	}
}

func TestStartEmptyUsesDefaultSchedule(t *testing.T) {
	c, _ := newController(t)

	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.Status().CurrentSchedule; got != "0 2 * * *" {
		t.Errorf("CurrentSchedule = %q, want the constructor default", got)
	}
}

func TestStartInvalidLeavesRunningStateUntouched(t *testing.T) {
	c, _ := newController(t)
	if err := c.Start("0 2 * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := c.Start("bogus")
	if !errors.Is(err, sched.ErrInvalidSchedule) {
		t.Fatalf("Start(bogus) = %v, want ErrInvalidSchedule", err)
	}

	st := c.Status()
	if !st.IsRunning || st.CurrentSchedule != "0 2 * * *" {
		t.Errorf("status after failed Start = %+v, want previous schedule still running", st)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c, _ := newController(t)
	if err := c.Start("0 2 * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Stop()
	c.Stop()

	st := c.Status()
	if st.IsRunning {
		t.Error("IsRunning = true after Stop")
	}
	if st.NextRunTime != nil {
		t.Errorf("NextRunTime = %s, want nil after Stop", st.NextRunTime)
	}
}

func TestUpdateReplacesSchedule(t *testing.T) {
	c, _ := newController(t)
	if err := c.Start("0 2 * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Update("0 */6 * * *"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	st := c.Status()
	if !st.IsRunning || st.CurrentSchedule != "0 */6 * * *" {
		t.Errorf("status after Update = %+v", st)
	}
}

func TestUpdateInvalidLeavesControllerStopped(t *testing.T) {
	c, _ := newController(t)
	if err := c.Start("0 2 * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := c.Update("bogus")
	if !errors.Is(err, sched.ErrInvalidSchedule) {
		t.Fatalf("Update(bogus) = %v, want ErrInvalidSchedule", err)
	}

	// Update stops first and does not roll back on a bad expression.
	if st := c.Status(); st.IsRunning {
		t.Errorf("status after failed Update = %+v, want stopped", st)
	}
}

func TestRunNow(t *testing.T) {
	c, runner := newController(t)
	runner.report = sync.Report{Success: true, Total: 3, Successful: 3}

	report := c.RunNow(context.Background())

	if runner.calls != 1 {
		t.Errorf("runner called %d times, want 1", runner.calls)
	}
	if !report.Success || report.Successful != 3 {
		t.Errorf("report = %+v, want the runner's report passed through", report)
	}
	st := c.Status()
	if st.LastRunTime == nil {
		t.Error("LastRunTime = nil after RunNow")
	}
}

func TestStatusReflectsRunnerProgress(t *testing.T) {
	c, runner := newController(t)

	if c.Status().SyncInProgress {
		t.Error("SyncInProgress = true before any run")
	}
	runner.inProgress = true
	if !c.Status().SyncInProgress {
		t.Error("SyncInProgress = false while the runner reports a run")
	}
}
