package student

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cfprogress/internal/cfclient"
)

// ErrNotFound is returned when a student id does not exist.
var ErrNotFound = errors.New("student not found")

// Repository persists students in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the students table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS students (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			email              TEXT NOT NULL UNIQUE,
			phone              TEXT NOT NULL DEFAULT '',
			cf_handle          TEXT NOT NULL DEFAULT '',
			current_rating     INT  NOT NULL DEFAULT 0,
			max_rating         INT  NOT NULL DEFAULT 0,
			reminders_enabled  BOOLEAN NOT NULL DEFAULT TRUE,
			contest_history    JSONB,
			rating_history     JSONB,
			problem_stats      JSONB,
			last_sync_time     TIMESTAMPTZ,
			reminder_count     INT NOT NULL DEFAULT 0,
			last_reminder_sent TIMESTAMPTZ,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_students_cf_handle ON students (cf_handle);
		CREATE INDEX IF NOT EXISTS idx_students_last_sync ON students (last_sync_time);
	`)
	return err
}

const studentColumns = `
	id, name, email, phone, cf_handle, current_rating, max_rating,
	reminders_enabled, contest_history, rating_history, problem_stats,
	last_sync_time, reminder_count, last_reminder_sent, created_at, updated_at`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var (
		s                                  Student
		contestJSON, ratingJSON, statsJSON []byte
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Email, &s.Phone, &s.Handle, &s.CurrentRating, &s.MaxRating,
		&s.RemindersEnabled, &contestJSON, &ratingJSON, &statsJSON,
		&s.LastSyncTime, &s.ReminderCount, &s.LastReminderSent, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return Student{}, err
	}
	s.ContestHistory = []cfclient.ContestEntry{}
	s.RatingHistory = []cfclient.RatingPoint{}
	if len(contestJSON) > 0 {
		if err := json.Unmarshal(contestJSON, &s.ContestHistory); err != nil {
			return Student{}, fmt.Errorf("decode contest history: %w", err)
		}
	}
	if len(ratingJSON) > 0 {
		if err := json.Unmarshal(ratingJSON, &s.RatingHistory); err != nil {
			return Student{}, fmt.Errorf("decode rating history: %w", err)
		}
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &s.ProblemStats); err != nil {
			return Student{}, fmt.Errorf("decode problem stats: %w", err)
		}
	}
	return s, nil
}

// List returns all students, newest first.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM students ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListSyncable returns students that have a non-empty Codeforces handle.
func (r *Repository) ListSyncable(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE cf_handle <> '' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Get returns a single student by id.
func (r *Repository) Get(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a new student.
func (r *Repository) Create(ctx context.Context, s Student) (Student, error) {
	if s.Name == "" || s.Email == "" || s.Handle == "" {
		return Student{}, errors.New("name, email and codeforces handle required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, name, email, phone, cf_handle, reminders_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, s.ID, s.Name, s.Email, s.Phone, s.Handle, true)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return Student{}, err
	}
	s.RemindersEnabled = true
	s.ContestHistory = []cfclient.ContestEntry{}
	s.RatingHistory = []cfclient.RatingPoint{}
	return s, nil
}

// Update modifies the editable fields of a student.
func (r *Repository) Update(ctx context.Context, id string, s Student) (*Student, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET name = $2, email = $3, phone = $4, cf_handle = $5, updated_at = NOW()
		WHERE id = $1
	`, id, s.Name, s.Email, s.Phone, s.Handle)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes a student.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSnapshot replaces the Codeforces snapshot after a successful sync.
func (r *Repository) SaveSnapshot(ctx context.Context, id string, snap Snapshot) error {
	contestJSON, err := json.Marshal(snap.ContestHistory)
	if err != nil {
		return fmt.Errorf("encode contest history: %w", err)
	}
	ratingJSON, err := json.Marshal(snap.RatingHistory)
	if err != nil {
		return fmt.Errorf("encode rating history: %w", err)
	}
	statsJSON, err := json.Marshal(snap.ProblemStats)
	if err != nil {
		return fmt.Errorf("encode problem stats: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET current_rating = $2, max_rating = $3,
		    contest_history = $4::jsonb, rating_history = $5::jsonb, problem_stats = $6::jsonb,
		    last_sync_time = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, snap.CurrentRating, snap.MaxRating, string(contestJSON), string(ratingJSON), string(statsJSON))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRating updates only the rating pair (single-student refresh).
func (r *Repository) SetRating(ctx context.Context, id string, current, max int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET current_rating = $2, max_rating = $3, updated_at = NOW()
		WHERE id = $1
	`, id, current, max)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRemindersEnabled toggles the per-student reminder opt-out.
func (r *Repository) SetRemindersEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET reminders_enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReminded bumps the reminder counter and timestamp after a send.
func (r *Repository) MarkReminded(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET reminder_count = reminder_count + 1, last_reminder_sent = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
