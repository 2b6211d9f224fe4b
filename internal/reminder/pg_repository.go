package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

const reminderColumns = `id, appointment_id, stage, scheduled_at, status, message, response,
	attempts, last_error, sent_at, created_at, updated_at`

type PgRepository struct {
	db db.DB
}

func NewPgRepository(conn db.DB) *PgRepository {
	return &PgRepository{db: conn}
}

var _ Repository = (*PgRepository)(nil)

func scanReminder(row pgx.Row) (*Reminder, error) {
	var (
		r                          Reminder
		stage, status              string
		message, response, lastErr *string
	)
	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&stage,
		&r.ScheduledAt,
		&status,
		&message,
		&response,
		&r.Attempts,
		&lastErr,
		&r.SentAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}
	r.Stage = Stage(stage)
	r.Status = Status(status)
	r.Message = deref(message)
	r.Response = deref(response)
	r.LastError = deref(lastErr)
	return &r, nil
}

func collect(rows pgx.Rows) ([]Reminder, error) {
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PgRepository) CreateReminders(ctx context.Context, rs []Reminder) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reminders tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range rs {
		_, err := tx.Exec(ctx, `
			INSERT INTO reminders (id, appointment_id, stage, scheduled_at, status, attempts)
			VALUES ($1, $2, $3, $4, 'pending', 0)
			ON CONFLICT (appointment_id, stage) DO NOTHING
		`, r.ID, r.AppointmentID, string(r.Stage), r.ScheduledAt)
		if err != nil {
			return fmt.Errorf("insert %s reminder: %w", r.Stage, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *PgRepository) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	return scanReminder(p.db.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = $1
	`, id))
}

func (p *PgRepository) ListReminders(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_at, created_at
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return collect(rows)
}

func (p *PgRepository) ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]Reminder, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status IN ('pending', 'failed')
		  AND attempts < $2
		  AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $3
	`, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return collect(rows)
}

func (p *PgRepository) Claim(ctx context.Context, id uuid.UUID, attempts, maxAttempts int) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE reminders
		SET attempts = attempts + 1,
		    updated_at = now()
		WHERE id = $1
		  AND attempts = $2
		  AND attempts < $3
		  AND status IN ('pending', 'failed')
	`, id, attempts, maxAttempts)
	return conditional(tag.RowsAffected(), err, "claim reminder")
}

func (p *PgRepository) MarkSent(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE reminders
		SET status = 'sent',
		    message = $2,
		    sent_at = $3,
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'failed')
	`, id, message, at)
	return conditional(tag.RowsAffected(), err, "mark reminder sent")
}

func (p *PgRepository) MarkFailed(ctx context.Context, id uuid.UUID, message, lastErr string) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE reminders
		SET status = 'failed',
		    message = $2,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'failed')
	`, id, message, lastErr)
	return conditional(tag.RowsAffected(), err, "mark reminder failed")
}

func (p *PgRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE reminders
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'failed')
	`, id)
	return conditional(tag.RowsAffected(), err, "cancel reminder")
}

func (p *PgRepository) LatestSent(ctx context.Context, appointmentID uuid.UUID) (*Reminder, error) {
	return scanReminder(p.db.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		  AND status IN ('sent', 'confirmed')
		ORDER BY sent_at DESC NULLS LAST, scheduled_at DESC
		LIMIT 1
	`, appointmentID))
}

func (p *PgRepository) RecordResponse(ctx context.Context, id uuid.UUID, response string, status Status) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE reminders
		SET response = $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, response, string(status))
	if err != nil {
		return fmt.Errorf("record reminder response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (p *PgRepository) CancelForTerminalAppointments(ctx context.Context) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE reminders r
		SET status = 'cancelled',
		    updated_at = now()
		FROM appointments a
		WHERE a.id = r.appointment_id
		  AND a.status IN ('cancelled', 'no_show', 'rescheduled')
		  AND r.status IN ('pending', 'failed')
	`)
	if err != nil {
		return 0, fmt.Errorf("sweep reminders of closed appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PgRepository) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{
		Appointments: map[appointment.Status]int{},
		Reminders:    map[Status]int{},
		Stages:       map[Stage]StageCount{},
	}

	rows, err := p.db.Query(ctx, `SELECT status, count(*) FROM appointments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		c.Appointments[appointment.Status(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = p.db.Query(ctx, `
		SELECT stage, status, count(*),
		       count(*) FILTER (WHERE coalesce(response, '') <> '')
		FROM reminders
		GROUP BY stage, status
	`)
	if err != nil {
		return nil, fmt.Errorf("count reminders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			stage, status string
			n, responded  int
		)
		if err := rows.Scan(&stage, &status, &n, &responded); err != nil {
			return nil, err
		}
		c.Reminders[Status(status)] += n
		sc := c.Stages[Stage(stage)]
		sc.Total += n
		sc.Responded += responded
		c.Stages[Stage(stage)] = sc
	}
	return c, rows.Err()
}

func conditional(affected int64, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotDispatchable
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
