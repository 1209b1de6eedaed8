package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Reminder carries everything a reminder email needs about one student.
type Reminder struct {
	Name           string
	Email          string
	Handle         string
	CurrentRating  int
	MaxRating      int
	TotalSolved    int
	ReminderNumber int // 1-based, for the footer
}

// Mailer delivers reminder emails. Implementations are selected at
// construction time: sendgrid when an API key is configured, a log-only
// mailer otherwise.
type Mailer interface {
	Send(ctx context.Context, r Reminder) error
	// Delivers reports whether Send actually reaches an inbox.
	Delivers() bool
	Name() string
}

// NewMailer picks the transport based on credential presence.
func NewMailer(sendgridKey, fromEmail, fromName string) Mailer {
	if sendgridKey == "" {
		log.Println("[notify] SENDGRID_API_KEY not set, reminders will be logged only")
		return &logMailer{}
	}
	return &sendgridMailer{
		client: sendgrid.NewSendClient(sendgridKey),
		from:   sgmail.NewEmail(fromName, fromEmail),
	}
}

type sendgridMailer struct {
	client *sendgrid.Client
	from   *sgmail.Email
}

func (m *sendgridMailer) Send(ctx context.Context, r Reminder) error {
	to := sgmail.NewEmail(r.Name, r.Email)
	subject := "Time to get back to coding!"
	msg := sgmail.NewSingleEmail(m.from, subject, to, reminderText(r), reminderHTML(r))

	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (m *sendgridMailer) Delivers() bool { return true }
func (m *sendgridMailer) Name() string   { return "sendgrid" }

// logMailer writes the reminder to the log instead of sending it. Counters
// are still updated by the dispatcher, so the cooldown keeps working in
// environments without delivery credentials.
type logMailer struct{}

func (m *logMailer) Send(_ context.Context, r Reminder) error {
	log.Printf("[notify] demo mode: would send reminder #%d to %s <%s> (handle %s)",
		r.ReminderNumber, r.Name, r.Email, r.Handle)
	return nil
}

func (m *logMailer) Delivers() bool { return false }
func (m *logMailer) Name() string   { return "log" }

func reminderText(r Reminder) string {
	return fmt.Sprintf(
		"Hi %s,\n\n"+
			"We noticed you haven't made any Codeforces submissions in the last 7 days.\n\n"+
			"Your stats:\n"+
			"  Handle:          %s\n"+
			"  Current rating:  %d\n"+
			"  Max rating:      %d\n"+
			"  Problems solved: %d\n\n"+
			"Even one problem a day keeps your skills sharp: https://codeforces.com/problemset\n\n"+
			"This is reminder #%d. Ask your instructor to disable these if you no longer want them.\n",
		r.Name, r.Handle, r.CurrentRating, r.MaxRating, r.TotalSolved, r.ReminderNumber)
}

func reminderHTML(r Reminder) string {
	return fmt.Sprintf(
		`<p>Hi <strong>%s</strong>,</p>`+
			`<p>We noticed you haven't made any Codeforces submissions in the last 7 days.</p>`+
			`<ul>`+
			`<li><strong>Handle:</strong> %s</li>`+
			`<li><strong>Current rating:</strong> %d</li>`+
			`<li><strong>Max rating:</strong> %d</li>`+
			`<li><strong>Problems solved:</strong> %d</li>`+
			`</ul>`+
			`<p><a href="https://codeforces.com/problemset">Start solving problems</a></p>`+
			`<p><small>This is reminder #%d. Ask your instructor to disable these if you no longer want them.</small></p>`,
		r.Name, r.Handle, r.CurrentRating, r.MaxRating, r.TotalSolved, r.ReminderNumber)
}
