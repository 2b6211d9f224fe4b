package cancellation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

var appointmentCols = []string{"id", "patient_id", "patient_name", "patient_dob", "patient_email", "patient_phone",
	"doctor_id", "start_at", "duration_minutes", "category",
	"insurance_carrier", "insurance_member_id", "insurance_group",
	"status", "forms_completed", "cancel_reason", "cancel_channel", "cancelled_at",
	"rescheduled_from", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPgStore_Release(t *testing.T) {
	mock := newMock(t)
	store := NewPgStore(mock, time.UTC)

	id := uuid.New()
	start := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)
	at := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	reason, channel, phone := "patient replied: CANCEL", "sms", "555-010-2000"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "cancelled", &reason, "sms", at, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(
			id, uuid.New(), "Jane Doe", time.Date(1990, 7, 1, 0, 0, 0, 0, time.UTC), (*string)(nil), &phone,
			"dr_a", start, 30, "returning",
			(*string)(nil), (*string)(nil), (*string)(nil),
			"cancelled", false, &reason, &channel, &at,
			(*uuid.UUID)(nil), at, at,
		))
	mock.ExpectExec("UPDATE slot_occupancy").
		WithArgs("dr_a", time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), "10:00", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE reminders").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec("INSERT INTO cancellation_log").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := store.Release(context.Background(), ReleaseRequest{
		Appointment: &appointment.Appointment{ID: id},
		To:          appointment.StatusCancelled,
		From:        []appointment.Status{appointment.StatusPending, appointment.StatusConfirmed},
		Channel:     appointment.ChannelSMS,
		Reason:      reason,
		At:          at,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Status)
	assert.Equal(t, appointment.ChannelSMS, got.CancelChannel)
	assert.Equal(t, "555-010-2000", got.Patient.Phone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_ReleaseLostRace(t *testing.T) {
	mock := newMock(t)
	store := NewPgStore(mock, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectRollback()

	_, err := store.Release(context.Background(), ReleaseRequest{
		Appointment: &appointment.Appointment{ID: uuid.New()},
		To:          appointment.StatusNoShow,
		From:        []appointment.Status{appointment.StatusPending},
		Channel:     appointment.ChannelAuto,
	})
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Stats(t *testing.T) {
	mock := newMock(t)
	store := NewPgStore(mock, time.UTC)

	when := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()

	mock.ExpectQuery("SELECT channel, count").
		WillReturnRows(pgxmock.NewRows([]string{"channel", "count"}).AddRow("sms", 3).AddRow("api", 1))
	mock.ExpectQuery("SELECT doctor_id, count").
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "count"}).AddRow("dr_a", 4))
	mock.ExpectQuery("FROM cancellation_log").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "appointment_id", "patient_name", "patient_email", "patient_phone",
			"doctor_id", "slot_date", "slot_time", "channel", "reason", "cancelled_at"}).
			AddRow(int64(7), apptID, "Jane Doe", (*string)(nil), (*string)(nil),
				"dr_a", time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), "10:00", "sms", (*string)(nil), when))

	st, err := store.Stats(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, map[string]int{"sms": 3, "api": 1}, st.ByChannel)
	assert.Equal(t, map[string]int{"dr_a": 4}, st.ByDoctor)
	require.Len(t, st.Recent, 1)
	assert.Equal(t, "2025-01-08", st.Recent[0].Date)
	assert.Equal(t, appointment.ChannelSMS, st.Recent[0].Channel)
	assert.Equal(t, apptID, st.Recent[0].AppointmentID)
	require.NoError(t, mock.ExpectationsWereMet())
}
