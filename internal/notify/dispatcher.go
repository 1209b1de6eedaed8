package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cfprogress/internal/student"
)

var remindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cfprogress_reminders_total",
	Help: "Reminder email attempts by outcome.",
}, []string{"outcome"})

// ErrCooldown is returned by SendOne when the student was reminded recently.
var ErrCooldown = errors.New("reminder sent recently")

// ErrDisabled is returned by SendOne when reminders are disabled for the student.
var ErrDisabled = errors.New("reminders disabled for student")

// Inactive identifies a student flagged by the sync run as inactive.
type Inactive struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Handle string `json:"handle"`
}

// SendError records one failed reminder.
type SendError struct {
	Student string `json:"student"`
	Error   string `json:"error"`
}

// Result aggregates one bulk dispatch.
type Result struct {
	Total   int         `json:"total"`
	Sent    int         `json:"sent"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Errors  []SendError `json:"errors"`
	// Delivered is false when the mailer runs in log-only mode; Sent then
	// means "logged", not "reached an inbox".
	Delivered bool `json:"delivered"`
}

// Directory is the slice of the student store the dispatcher needs.
type Directory interface {
	Get(ctx context.Context, id string) (*student.Student, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

// Dispatcher sends rate-limited reminder batches to inactive students.
type Dispatcher struct {
	store    Directory
	mailer   Mailer
	cooldown time.Duration
	delay    time.Duration

	sleep func(time.Duration) // injected for tests
	now   func() time.Time
}

// NewDispatcher builds a dispatcher. Cooldown defaults to 72h and the
// inter-send delay to 1s when zero.
func NewDispatcher(store Directory, mailer Mailer, cooldown, delay time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = 72 * time.Hour
	}
	if delay < 0 {
		delay = time.Second
	}
	return &Dispatcher{
		store:    store,
		mailer:   mailer,
		cooldown: cooldown,
		delay:    delay,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// SendBulk processes the inactive list sequentially. Per student, in order:
// the student must still exist (missing counts as failed), reminders must be
// enabled (disabled counts as skipped, not failed), and the cooldown window
// must have elapsed (recent counts as skipped). Counters are bumped only
// after a successful send. A delay separates consecutive send attempts to
// respect outbound rate limits; skips do not delay.
func (d *Dispatcher) SendBulk(ctx context.Context, list []Inactive) Result {
	res := Result{
		Total:     len(list),
		Errors:    []SendError{},
		Delivered: d.mailer.Delivers(),
	}
	if len(list) > 0 {
		log.Printf("[notify] sending reminders to %d inactive student(s) via %s", len(list), d.mailer.Name())
	}

	attempted := false
	for _, entry := range list {
		s, err := d.store.Get(ctx, entry.ID)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, SendError{Student: entry.Name, Error: errMessage(err)})
			remindersTotal.WithLabelValues("failed").Inc()
			continue
		}
		if !s.RemindersEnabled {
			log.Printf("[notify] reminders disabled for %s, skipping", s.Name)
			res.Skipped++
			remindersTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if s.LastReminderSent != nil && d.now().Sub(*s.LastReminderSent) < d.cooldown {
			log.Printf("[notify] %s reminded recently, skipping", s.Name)
			res.Skipped++
			remindersTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if attempted && d.delay > 0 {
			d.sleep(d.delay)
		}
		attempted = true

		if err := d.send(ctx, s); err != nil {
			log.Printf("[notify] reminder to %s failed: %v", s.Name, err)
			res.Failed++
			res.Errors = append(res.Errors, SendError{Student: s.Name, Error: errMessage(err)})
			remindersTotal.WithLabelValues("failed").Inc()
			continue
		}
		res.Sent++
		remindersTotal.WithLabelValues("sent").Inc()
	}

	if res.Total > 0 {
		log.Printf("[notify] reminders done: %d sent, %d failed, %d skipped", res.Sent, res.Failed, res.Skipped)
	}
	return res
}

// SendOne sends a single reminder, applying the same gates as SendBulk.
// Used by the manual per-student reminder endpoint.
func (d *Dispatcher) SendOne(ctx context.Context, id string) error {
	s, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.RemindersEnabled {
		return ErrDisabled
	}
	if s.LastReminderSent != nil && d.now().Sub(*s.LastReminderSent) < d.cooldown {
		return fmt.Errorf("%w (last sent %s)", ErrCooldown, s.LastReminderSent.Format(time.RFC3339))
	}
	if err := d.send(ctx, s); err != nil {
		remindersTotal.WithLabelValues("failed").Inc()
		return err
	}
	remindersTotal.WithLabelValues("sent").Inc()
	return nil
}

// Delivers reports whether the underlying mailer actually delivers.
func (d *Dispatcher) Delivers() bool { return d.mailer.Delivers() }

// MailerName reports the selected transport, for the status endpoint.
func (d *Dispatcher) MailerName() string { return d.mailer.Name() }

func (d *Dispatcher) send(ctx context.Context, s *student.Student) error {
	reminder := Reminder{
		Name:           s.Name,
		Email:          s.Email,
		Handle:         s.Handle,
		CurrentRating:  s.CurrentRating,
		MaxRating:      s.MaxRating,
		ReminderNumber: s.ReminderCount + 1,
	}
	if s.ProblemStats != nil {
		reminder.TotalSolved = s.ProblemStats.TotalSolved
	}
	if err := d.mailer.Send(ctx, reminder); err != nil {
		return err
	}
	if err := d.store.MarkReminded(ctx, s.ID, d.now().UTC()); err != nil {
		// The email went out; losing the counter bump only shortens the
		// effective cooldown, so log and carry on.
		log.Printf("[notify] failed to record reminder for %s: %v", s.Name, err)
	}
	return nil
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
