package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgStore struct {
	db  db.DB
	loc *time.Location
}

func NewPgStore(conn db.DB, loc *time.Location) *PgStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PgStore{db: conn, loc: loc}
}

var _ Store = (*PgStore)(nil)

func (s *PgStore) Release(ctx context.Context, req ReleaseRequest) (*appointment.Appointment, error) {
	from := make([]string, len(req.From))
	for i, st := range req.From {
		from[i] = string(st)
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	released, err := appointment.ScanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = $3,
		    cancel_channel = $4,
		    cancelled_at = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($6)
		RETURNING `+appointment.AppointmentColumns,
		req.Appointment.ID, string(req.To), nullable(req.Reason), string(req.Channel), at, from,
	), s.loc)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	// A row already taken by someone else stays untouched.
	if _, err := tx.Exec(ctx, `
		UPDATE slot_occupancy
		SET available = true,
		    status = 'cancelled',
		    patient_name = NULL,
		    patient_email = NULL,
		    patient_phone = NULL,
		    appointment_id = NULL,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND slot_date = $2
		  AND slot_time = $3
		  AND appointment_id = $4
	`, released.DoctorID, civilDate(released.Start), released.SlotTime(), released.ID); err != nil {
		return nil, fmt.Errorf("free slot occupancy: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE reminders
		SET status = 'cancelled',
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status IN ('pending', 'failed')
	`, released.ID); err != nil {
		return nil, fmt.Errorf("cancel open reminders: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO cancellation_log (appointment_id, patient_name, patient_email, patient_phone,
			doctor_id, slot_date, slot_time, channel, reason, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, released.ID, released.Patient.Name, nullable(released.Patient.Email), nullable(released.Patient.Phone),
		released.DoctorID, civilDate(released.Start), released.SlotTime(), string(req.Channel),
		nullable(req.Reason), at); err != nil {
		return nil, fmt.Errorf("append cancellation log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit release: %w", err)
	}
	return released, nil
}

func (s *PgStore) Stats(ctx context.Context, recent int) (*Stats, error) {
	st := &Stats{ByChannel: map[string]int{}, ByDoctor: map[string]int{}}

	if err := s.groupCount(ctx, "channel", st.ByChannel); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "doctor_id", st.ByDoctor); err != nil {
		return nil, err
	}
	for _, n := range st.ByChannel {
		st.Total += n
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, patient_name, patient_email, patient_phone,
			doctor_id, slot_date, slot_time, channel, reason, cancelled_at
		FROM cancellation_log
		ORDER BY cancelled_at DESC, id DESC
		LIMIT $1
	`, recent)
	if err != nil {
		return nil, fmt.Errorf("query recent cancellations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                    LogEntry
			email, phone, reason *string
			channel              string
			slotDate             time.Time
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.PatientName, &email, &phone,
			&e.DoctorID, &slotDate, &e.Time, &channel, &reason, &e.CancelledAt); err != nil {
			return nil, err
		}
		e.PatientEmail = deref(email)
		e.PatientPhone = deref(phone)
		e.Reason = deref(reason)
		e.Channel = appointment.Channel(channel)
		e.Date = slotDate.Format(time.DateOnly)
		e.CancelledAt = e.CancelledAt.In(s.loc)
		st.Recent = append(st.Recent, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return st, nil
}

// groupCount tallies the log by column. column is never user input.
func (s *PgStore) groupCount(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.Query(ctx, `SELECT `+column+`, count(*) FROM cancellation_log GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("count cancellations by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
