package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

const (
	// AppointmentColumns is the select list ScanAppointment expects.
	AppointmentColumns = `id, patient_id, patient_name, patient_dob, patient_email, patient_phone,
		doctor_id, start_at, duration_minutes, category,
		insurance_carrier, insurance_member_id, insurance_group,
		status, forms_completed, cancel_reason, cancel_channel, cancelled_at,
		rescheduled_from, created_at, updated_at`

	patientColumns = `id, name, dob, email, phone, doctor_id,
		insurance_carrier, insurance_member_id, insurance_group,
		visit_count, status, created_at, updated_at`

	occupancyColumns = `doctor_id, slot_date, slot_time, start_at, duration_minutes, available,
		patient_name, patient_email, patient_phone, appointment_id, status, updated_at`

	activeSlotIndex = "appointments_active_slot_idx"
)

type PgRepository struct {
	db  db.DB
	loc *time.Location
}

// NewPgRepository reads timestamps back in loc, the clinic time zone.
func NewPgRepository(conn db.DB, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{db: conn, loc: loc}
}

var _ Repository = (*PgRepository)(nil)

// Helpers

// ScanAppointment reads one row selected with AppointmentColumns. Other
// packages that update appointments inside their own transactions reuse it.
func ScanAppointment(row pgx.Row, loc *time.Location) (*Appointment, error) {
	var (
		a                           Appointment
		email, phone                *string
		carrier, memberID, group    *string
		cancelReason, cancelChannel *string
		durationMinutes             int
		category, status            string
	)

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.Patient.Name,
		&a.Patient.DOB,
		&email,
		&phone,
		&a.DoctorID,
		&a.Start,
		&durationMinutes,
		&category,
		&carrier,
		&memberID,
		&group,
		&status,
		&a.FormsCompleted,
		&cancelReason,
		&cancelChannel,
		&a.CancelledAt,
		&a.RescheduledFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Patient.Email = deref(email)
	a.Patient.Phone = deref(phone)
	a.Insurance = Insurance{Carrier: deref(carrier), MemberID: deref(memberID), Group: deref(group)}
	a.Duration = time.Duration(durationMinutes) * time.Minute
	a.Category = availability.Category(category)
	a.Status = Status(status)
	a.CancelReason = deref(cancelReason)
	a.CancelChannel = Channel(deref(cancelChannel))
	a.Start = a.Start.In(loc)
	if a.CancelledAt != nil {
		t := a.CancelledAt.In(loc)
		a.CancelledAt = &t
	}
	return &a, nil
}

func scanPatient(row pgx.Row) (*PatientRecord, error) {
	var (
		p                        PatientRecord
		email, phone, doctorID   *string
		carrier, memberID, group *string
		status                   string
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.DOB,
		&email,
		&phone,
		&doctorID,
		&carrier,
		&memberID,
		&group,
		&p.VisitCount,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = deref(email)
	p.Phone = deref(phone)
	p.DoctorID = deref(doctorID)
	p.Insurance = Insurance{Carrier: deref(carrier), MemberID: deref(memberID), Group: deref(group)}
	p.Status = availability.Category(status)
	return &p, nil
}

func scanOccupancy(row pgx.Row, loc *time.Location) (*Occupancy, error) {
	var (
		o                  Occupancy
		slotDate           time.Time
		durationMinutes    int
		name, email, phone *string
		status             string
	)

	err := row.Scan(
		&o.DoctorID,
		&slotDate,
		&o.Time,
		&o.Start,
		&durationMinutes,
		&o.Available,
		&name,
		&email,
		&phone,
		&o.AppointmentID,
		&status,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOccupancyNotFound
		}
		return nil, err
	}

	o.Date = slotDate.Format(time.DateOnly)
	o.Start = o.Start.In(loc)
	o.Duration = time.Duration(durationMinutes) * time.Minute
	o.PatientName = deref(name)
	o.PatientEmail = deref(email)
	o.PatientPhone = deref(phone)
	o.Status = OccupancyStatus(status)
	return &o, nil
}

func collectAppointments(rows pgx.Rows, loc *time.Location) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := ScanAppointment(rows, loc)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) CreateBooking(ctx context.Context, appt *Appointment, countVisit bool) (*Appointment, *PatientRecord, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	inc := 0
	if countVisit {
		inc = 1
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	patient, err := scanPatient(tx.QueryRow(ctx, `
		INSERT INTO patients (id, name, name_key, dob, email, phone, phone_digits, doctor_id,
			insurance_carrier, insurance_member_id, insurance_group, visit_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, 'new')
		ON CONFLICT (name_key, dob) DO UPDATE SET
			email               = COALESCE(EXCLUDED.email, patients.email),
			phone               = COALESCE(EXCLUDED.phone, patients.phone),
			phone_digits        = COALESCE(EXCLUDED.phone_digits, patients.phone_digits),
			doctor_id           = EXCLUDED.doctor_id,
			insurance_carrier   = COALESCE(EXCLUDED.insurance_carrier, patients.insurance_carrier),
			insurance_member_id = COALESCE(EXCLUDED.insurance_member_id, patients.insurance_member_id),
			insurance_group     = COALESCE(EXCLUDED.insurance_group, patients.insurance_group),
			visit_count         = patients.visit_count + $12,
			status              = CASE WHEN $12 > 0 THEN 'returning' ELSE patients.status END,
			updated_at          = now()
		RETURNING `+patientColumns,
		uuid.New(), appt.Patient.Name, NameKey(appt.Patient.Name), dateParam(appt.Patient.DOB),
		nullable(appt.Patient.Email), nullable(appt.Patient.Phone), nullable(PhoneKey(appt.Patient.Phone)),
		appt.DoctorID, nullable(appt.Insurance.Carrier), nullable(appt.Insurance.MemberID),
		nullable(appt.Insurance.Group), inc,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("upsert patient: %w", err)
	}

	created, err := ScanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, patient_dob, patient_email, patient_phone,
			phone_digits, doctor_id, start_at, duration_minutes, category,
			insurance_carrier, insurance_member_id, insurance_group, status, rescheduled_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 'pending', $15)
		RETURNING `+AppointmentColumns,
		appt.ID, patient.ID, appt.Patient.Name, dateParam(appt.Patient.DOB),
		nullable(appt.Patient.Email), nullable(appt.Patient.Phone), nullable(PhoneKey(appt.Patient.Phone)),
		appt.DoctorID, appt.Start, int(appt.Duration/time.Minute), string(appt.Category),
		nullable(appt.Insurance.Carrier), nullable(appt.Insurance.MemberID), nullable(appt.Insurance.Group),
		appt.RescheduledFrom,
	), r.loc)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotIndex) {
			return nil, nil, ErrSlotConflict
		}
		return nil, nil, fmt.Errorf("insert appointment: %w", err)
	}

	// Only an absent or freed row may be claimed.
	tag, err := tx.Exec(ctx, `
		INSERT INTO slot_occupancy (doctor_id, slot_date, slot_time, start_at, duration_minutes, available,
			patient_name, patient_email, patient_phone, appointment_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, $6, $7, $8, $9, 'booked', now())
		ON CONFLICT (doctor_id, slot_date, slot_time) DO UPDATE SET
			start_at         = EXCLUDED.start_at,
			duration_minutes = EXCLUDED.duration_minutes,
			available        = false,
			patient_name     = EXCLUDED.patient_name,
			patient_email    = EXCLUDED.patient_email,
			patient_phone    = EXCLUDED.patient_phone,
			appointment_id   = EXCLUDED.appointment_id,
			status           = 'booked',
			updated_at       = now()
		WHERE slot_occupancy.available
	`, created.DoctorID, dateParam(created.Start), created.SlotTime(), created.Start,
		int(created.Duration/time.Minute), created.Patient.Name,
		nullable(created.Patient.Email), nullable(created.Patient.Phone), created.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("claim slot occupancy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil, ErrSlotConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit booking: %w", err)
	}
	return created, patient, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+AppointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return ScanAppointment(row, r.loc)
}

func (r *PgRepository) GetOccupancy(ctx context.Context, doctorID string, start time.Time) (*Occupancy, error) {
	start = start.In(r.loc)
	row := r.db.QueryRow(ctx, `
		SELECT `+occupancyColumns+`
		FROM slot_occupancy
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3
	`, doctorID, dateParam(start), start.Format("15:04"))
	return scanOccupancy(row, r.loc)
}

func (r *PgRepository) BookedIntervals(ctx context.Context, doctorID string, day time.Time) ([]availability.Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_at, duration_minutes
		FROM slot_occupancy
		WHERE doctor_id = $1 AND slot_date = $2 AND NOT available
		ORDER BY start_at
	`, doctorID, dateParam(day.In(r.loc)))
	if err != nil {
		return nil, fmt.Errorf("query booked intervals: %w", err)
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var (
			start   time.Time
			minutes int
		)
		if err := rows.Scan(&start, &minutes); err != nil {
			return nil, err
		}
		start = start.In(r.loc)
		out = append(out, availability.Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)})
	}
	return out, rows.Err()
}

func (r *PgRepository) FindLatestActiveByContact(ctx context.Context, email, phoneKey string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+AppointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
		  AND (($1 <> '' AND lower(patient_email) = $1) OR ($2 <> '' AND phone_digits = $2))
		ORDER BY created_at DESC
		LIMIT 1
	`, NormalizeEmail(email), phoneKey)
	return ScanAppointment(row, r.loc)
}

func (r *PgRepository) ListByDay(ctx context.Context, doctorID string, day time.Time) ([]Appointment, error) {
	y, m, d := day.In(r.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	rows, err := r.db.Query(ctx, `
		SELECT `+AppointmentColumns+`
		FROM appointments
		WHERE start_at >= $1
		  AND start_at < $2
		  AND ($3 = '' OR doctor_id = $3)
		ORDER BY start_at, doctor_id
	`, from, from.AddDate(0, 0, 1), doctorID)
	if err != nil {
		return nil, fmt.Errorf("query appointments of day: %w", err)
	}
	return collectAppointments(rows, r.loc)
}

func (r *PgRepository) ListPendingStartedBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+AppointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND start_at < $1
		ORDER BY start_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query overdue pending appointments: %w", err)
	}
	return collectAppointments(rows, r.loc)
}

func (r *PgRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+AppointmentColumns,
		id, string(to), statusStrings(from))
	return ScanAppointment(row, r.loc)
}

func (r *PgRepository) SetFormsCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET forms_completed = true,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+AppointmentColumns, id)
	return ScanAppointment(row, r.loc)
}

func (r *PgRepository) FindPatient(ctx context.Context, name string, dob time.Time) (*PatientRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE name_key = $1 AND dob = $2
	`, NameKey(name), dateParam(dob))
	return scanPatient(row)
}

func (r *PgRepository) FindPatientByEmail(ctx context.Context, email string) (*PatientRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE lower(email) = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, NormalizeEmail(email))
	return scanPatient(row)
}

func (r *PgRepository) FindPatientByPhone(ctx context.Context, phoneKey string) (*PatientRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone_digits = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, phoneKey)
	return scanPatient(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
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

// dateParam pins a civil date for a DATE column regardless of zone.
func dateParam(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
