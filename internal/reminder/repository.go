package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrNotDispatchable means a conditional write lost: the reminder was
	// sent, cancelled or claimed by someone else in the meantime.
	ErrNotDispatchable = errors.New("reminder is no longer dispatchable")
)

type Repository interface {
	// CreateReminders inserts the batch, skipping stages that already exist
	// for the appointment.
	CreateReminders(ctx context.Context, rs []Reminder) error
	GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error)
	ListReminders(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error)

	// ListDue returns pending or failed reminders with attempts below
	// maxAttempts and scheduled at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]Reminder, error)

	// Claim bumps the attempt counter if the reminder is still dispatchable
	// and nobody else claimed it since it was read with `attempts`.
	Claim(ctx context.Context, id uuid.UUID, attempts, maxAttempts int) error
	MarkSent(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message, lastErr string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	// LatestSent returns the most recently sent (or confirmed) reminder of an
	// appointment. ErrReminderNotFound when none went out yet.
	LatestSent(ctx context.Context, appointmentID uuid.UUID) (*Reminder, error)
	RecordResponse(ctx context.Context, id uuid.UUID, response string, status Status) error

	// Counts tallies appointments by status, reminders by status and, per
	// stage, reminders with a recorded reply.
	Counts(ctx context.Context) (*Counts, error)

	// CancelForTerminalAppointments sweeps pending and failed reminders of
	// cancelled, no-show and rescheduled appointments to cancelled.
	CancelForTerminalAppointments(ctx context.Context) (int64, error)
}
