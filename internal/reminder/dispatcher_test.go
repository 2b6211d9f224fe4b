package reminder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testCatalog(t *testing.T) *calendar.Catalog {
	t.Helper()
	day := calendar.Window{Start: calendar.MustClock("09:00"), End: calendar.MustClock("17:00")}
	cat, err := calendar.NewCatalog(time.UTC, calendar.DoctorCalendar{
		ID:        "dr_a",
		Name:      "Dr. A",
		Specialty: "Family Medicine",
		Location:  "Suite 100",
		Hours: map[time.Weekday]calendar.Window{
			time.Monday: day, time.Tuesday: day, time.Wednesday: day, time.Thursday: day, time.Friday: day,
		},
		Lunch: calendar.Window{Start: calendar.MustClock("12:00"), End: calendar.MustClock("13:00")},
	})
	require.NoError(t, err)
	return cat
}

type fixture struct {
	mem        *memstore.Store
	now        time.Time
	email      *notify.Recorder
	sms        *notify.Recorder
	dispatcher *reminder.Dispatcher
	scheduler  *reminder.Scheduler
}

type fixtureOpts struct {
	noSMS      bool
	intakeForm *notify.Attachment
}

func newFixture(t *testing.T, now time.Time, o fixtureOpts) *fixture {
	t.Helper()
	renderer, err := reminder.NewRenderer(testCatalog(t), "Test Clinic", "(555) 123-4567")
	require.NoError(t, err)

	f := &fixture{mem: memstore.New(time.UTC), now: now, email: &notify.Recorder{}, sms: &notify.Recorder{}}
	f.mem.SetClock(f.clock)

	opts := reminder.DispatcherOptions{
		Email:       f.email,
		SMS:         f.sms,
		Renderer:    renderer,
		IntakeForm:  o.intakeForm,
		MaxAttempts: 3,
		Now:         f.clock,
	}
	if o.noSMS {
		opts.SMS = nil
	}
	f.dispatcher = reminder.NewDispatcher(f.mem, f.mem, opts)
	f.scheduler = reminder.NewScheduler(f.mem, f.dispatcher, f.clock, nil)
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) book(t *testing.T, email, phone, start string) *appointment.Appointment {
	t.Helper()
	appt, _, err := f.mem.CreateBooking(context.Background(), &appointment.Appointment{
		Patient:  appointment.Patient{Name: "Jane Doe", DOB: ts("1990-07-01 00:00"), Email: email, Phone: phone},
		DoctorID: "dr_a",
		Start:    ts(start),
		Duration: 30 * time.Minute,
		Category: availability.CategoryReturning,
	}, true)
	require.NoError(t, err)
	return appt
}

// queue persists the plan without the immediate send.
func (f *fixture) queue(t *testing.T, appt *appointment.Appointment) {
	t.Helper()
	require.NoError(t, f.mem.CreateReminders(context.Background(), reminder.Plan(appt, f.now)))
}

func (f *fixture) byStage(t *testing.T, id uuid.UUID) map[reminder.Stage]reminder.Reminder {
	t.Helper()
	rs, err := f.mem.ListReminders(context.Background(), id)
	require.NoError(t, err)
	out := make(map[reminder.Stage]reminder.Reminder, len(rs))
	for _, r := range rs {
		out[r.Stage] = r
	}
	return out
}

func TestPlan_StageTimes(t *testing.T) {
	appt := &appointment.Appointment{ID: uuid.New(), Start: ts("2025-01-08 10:00")}
	now := ts("2025-01-06 08:00")

	rs := reminder.Plan(appt, now)
	require.Len(t, rs, 3)
	assert.Equal(t, reminder.StageImmediate, rs[0].Stage)
	assert.Equal(t, now, rs[0].ScheduledAt)
	assert.Equal(t, ts("2025-01-07 10:00"), rs[1].ScheduledAt)
	assert.Equal(t, ts("2025-01-08 08:00"), rs[2].ScheduledAt)
	for _, r := range rs {
		assert.Equal(t, appt.ID, r.AppointmentID)
		assert.Equal(t, reminder.StatusPending, r.Status)
	}
}

func TestScheduler_SendsImmediateOnly(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	appt := f.book(t, "jane@example.com", "555-010-2000", "2025-01-08 10:00")

	require.NoError(t, f.scheduler.Schedule(context.Background(), appt))

	got := f.byStage(t, appt.ID)
	require.Len(t, got, 3)
	assert.Equal(t, reminder.StatusSent, got[reminder.StageImmediate].Status)
	assert.Equal(t, 1, got[reminder.StageImmediate].Attempts)
	assert.Equal(t, reminder.StatusPending, got[reminder.StageDayBefore].Status)
	assert.Equal(t, reminder.StatusPending, got[reminder.StageTwoHour].Status)

	require.Len(t, f.email.Sent(), 1)
	assert.Equal(t, "Appointment Confirmation & Intake Forms", f.email.Sent()[0].Subject)
	require.Len(t, f.sms.Sent(), 1)
	assert.Equal(t, "555-010-2000", f.sms.Sent()[0].To)
}

func TestScheduler_IsIdempotentPerStage(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	appt := f.book(t, "jane@example.com", "", "2025-01-08 10:00")

	require.NoError(t, f.scheduler.Schedule(context.Background(), appt))
	f.queue(t, appt)

	assert.Len(t, f.byStage(t, appt.ID), 3)
	rs, err := f.mem.ListReminders(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Len(t, rs, 3)
}

func TestRunPass_LateBookingCatchesUp(t *testing.T) {
	// booked at 23:00 for 00:30: both later stages are already overdue
	f := newFixture(t, ts("2025-01-06 23:00"), fixtureOpts{})
	appt := f.book(t, "jane@example.com", "", "2025-01-07 00:30")
	require.NoError(t, f.scheduler.Schedule(context.Background(), appt))

	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 2, res.Sent)

	for _, r := range f.byStage(t, appt.ID) {
		assert.Equal(t, reminder.StatusSent, r.Status, r.Stage)
	}
	assert.Len(t, f.email.Sent(), 3)

	res, err = f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due, "nothing is sent twice")
}

func TestRunPass_NotYetDue(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	appt := f.book(t, "jane@example.com", "", "2025-01-08 10:00")
	f.queue(t, appt)

	f.now = ts("2025-01-07 09:59")
	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent, "only the immediate stage is due")

	f.now = ts("2025-01-07 10:00")
	res, err = f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, reminder.StatusSent, f.byStage(t, appt.ID)[reminder.StageDayBefore].Status)
	assert.Equal(t, "Reminder: Your appointment is tomorrow", f.email.Sent()[1].Subject)
}

func TestRunPass_SuppressesClosedAppointment(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	appt := f.book(t, "jane@example.com", "555-010-2000", "2025-01-08 10:00")
	require.NoError(t, f.scheduler.Schedule(context.Background(), appt))

	_, err := f.mem.TransitionStatus(context.Background(), appt.ID,
		[]appointment.Status{appointment.StatusPending}, appointment.StatusCancelled)
	require.NoError(t, err)

	f.now = ts("2025-01-07 10:00")
	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Suppressed)
	assert.Zero(t, res.Sent)
	assert.Equal(t, int64(1), res.Swept, "the two-hour stage is swept")

	got := f.byStage(t, appt.ID)
	assert.Equal(t, reminder.StatusCancelled, got[reminder.StageDayBefore].Status)
	assert.Equal(t, reminder.StatusCancelled, got[reminder.StageTwoHour].Status)
	assert.Len(t, f.email.Sent(), 1, "only the booking confirmation went out")
}

func TestRunPass_RetriesUpToMaxAttempts(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	f.sms.Fail = func(notify.Message) error { return errors.New("carrier unreachable") }
	appt := f.book(t, "", "555-010-2000", "2025-01-08 10:00")
	f.queue(t, appt)

	for i := 1; i <= 3; i++ {
		res, err := f.dispatcher.RunPass(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed, "pass %d", i)

		r := f.byStage(t, appt.ID)[reminder.StageImmediate]
		assert.Equal(t, reminder.StatusFailed, r.Status)
		assert.Equal(t, i, r.Attempts)
		assert.Contains(t, r.LastError, "carrier unreachable")
	}

	f.sms.Fail = nil
	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due, "exhausted reminders are not retried")
	assert.Empty(t, f.sms.Sent())
}

func TestRunPass_RetrySucceeds(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	calls := 0
	f.email.Fail = func(notify.Message) error {
		calls++
		if calls == 1 {
			return errors.New("503 from provider")
		}
		return nil
	}
	appt := f.book(t, "jane@example.com", "", "2025-01-08 10:00")
	f.queue(t, appt)

	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	r := f.byStage(t, appt.ID)[reminder.StageImmediate]
	assert.Equal(t, reminder.StatusSent, r.Status)
	assert.Equal(t, 2, r.Attempts)
	assert.Empty(t, r.LastError)
	require.NotNil(t, r.SentAt)
}

func TestDispatch_NoUsableChannel(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{noSMS: true})
	appt := f.book(t, "", "555-010-2000", "2025-01-08 10:00")
	f.queue(t, appt)

	r := f.byStage(t, appt.ID)[reminder.StageImmediate]
	outcome, err := f.dispatcher.Dispatch(context.Background(), &r)
	assert.Equal(t, reminder.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, notify.ErrNotificationFailed)

	stored := f.byStage(t, appt.ID)[reminder.StageImmediate]
	assert.Equal(t, reminder.StatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "no channel available")
}

func TestDispatch_EmailOnlyWhenSMSUnconfigured(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{noSMS: true})
	appt := f.book(t, "jane@example.com", "555-010-2000", "2025-01-08 10:00")
	f.queue(t, appt)

	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, f.email.Sent(), 1)
	assert.Empty(t, f.sms.Sent())
}

func TestDispatch_IntakeFormOnImmediateOnly(t *testing.T) {
	form := &notify.Attachment{Filename: "intake.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")}
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{intakeForm: form})
	appt := f.book(t, "jane@example.com", "", "2025-01-07 10:00")
	f.queue(t, appt)

	f.now = ts("2025-01-06 10:00")
	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)

	sent := f.email.Sent()
	require.Len(t, sent, 2)
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "intake.pdf", sent[0].Attachments[0].Filename)
	assert.Contains(t, sent[0].Body, "We've attached your intake forms.")
	assert.Empty(t, sent[1].Attachments)
}

func TestDispatch_SkipsAlreadySent(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	appt := f.book(t, "jane@example.com", "", "2025-01-08 10:00")
	f.queue(t, appt)

	stale := f.byStage(t, appt.ID)[reminder.StageImmediate]
	outcome, err := f.dispatcher.Dispatch(context.Background(), &stale)
	require.NoError(t, err)
	assert.Equal(t, reminder.OutcomeSent, outcome)

	// a second worker holding the same stale row loses the claim
	outcome, err = f.dispatcher.Dispatch(context.Background(), &stale)
	require.NoError(t, err)
	assert.Equal(t, reminder.OutcomeSkipped, outcome)
	assert.Len(t, f.email.Sent(), 1)
}

func TestRunPass_RetriedStageGoesOutBeforeLaterStages(t *testing.T) {
	// booked at 09:00 for 10:30 the same day, the confirmation email fails
	f := newFixture(t, ts("2025-01-06 09:00"), fixtureOpts{})
	failures := 1
	f.email.Fail = func(notify.Message) error {
		if failures > 0 {
			failures--
			return errors.New("503 from provider")
		}
		return nil
	}
	appt := f.book(t, "jane@example.com", "", "2025-01-06 10:30")
	require.NoError(t, f.scheduler.Schedule(context.Background(), appt))
	assert.Equal(t, reminder.StatusFailed, f.byStage(t, appt.ID)[reminder.StageImmediate].Status)

	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Due)
	assert.Equal(t, 3, res.Sent)

	sent := f.email.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "Appointment Confirmation & Intake Forms", sent[0].Subject)
	assert.Equal(t, "Reminder: Your appointment is in 1 hour 30 minutes", sent[1].Subject)
	assert.Equal(t, "Final Confirmation: Your appointment today", sent[2].Subject)
}

func TestRunPass_HoldsLaterStagesWhileEarlierRetries(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 09:00"), fixtureOpts{})
	failures := 2
	f.email.Fail = func(notify.Message) error {
		if failures > 0 {
			failures--
			return errors.New("503 from provider")
		}
		return nil
	}
	appt := f.book(t, "jane@example.com", "", "2025-01-06 10:30")
	require.NoError(t, f.scheduler.Schedule(context.Background(), appt))

	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Held)
	assert.Empty(t, f.email.Sent())

	got := f.byStage(t, appt.ID)
	assert.Equal(t, reminder.StatusPending, got[reminder.StageDayBefore].Status)
	assert.Zero(t, got[reminder.StageDayBefore].Attempts, "a held stage spends no attempt")

	res, err = f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	sent := f.email.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "Appointment Confirmation & Intake Forms", sent[0].Subject)
}

func TestRunPass_ExhaustedStageReleasesLaterStages(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	f.sms.Fail = func(notify.Message) error { return errors.New("carrier unreachable") }
	appt := f.book(t, "", "555-010-2000", "2025-01-07 10:00")
	f.queue(t, appt)

	for i := 0; i < 3; i++ {
		_, err := f.dispatcher.RunPass(context.Background())
		require.NoError(t, err)
	}
	f.sms.Fail = nil

	f.now = ts("2025-01-06 10:00")
	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent, "the day-before stage no longer waits")
	assert.Zero(t, res.Held)
}

func TestRunPass_SuppressesStartedAppointment(t *testing.T) {
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	appt := f.book(t, "jane@example.com", "", "2025-01-08 10:00")
	f.queue(t, appt)

	f.now = ts("2025-01-08 10:05")
	res, err := f.dispatcher.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Suppressed)
	assert.Zero(t, res.Sent)
	assert.Empty(t, f.email.Sent())

	for _, r := range f.byStage(t, appt.ID) {
		assert.Equal(t, reminder.StatusCancelled, r.Status, r.Stage)
	}
}

func TestDispatcher_Stats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ts("2025-01-06 08:00"), fixtureOpts{})
	first := f.book(t, "jane@example.com", "", "2025-01-07 10:00")
	second := f.book(t, "john@example.com", "", "2025-01-07 11:00")
	require.NoError(t, f.scheduler.Schedule(ctx, first))
	require.NoError(t, f.scheduler.Schedule(ctx, second))

	f.now = ts("2025-01-06 11:00")
	_, err := f.dispatcher.RunPass(ctx)
	require.NoError(t, err)
	day := f.byStage(t, first.ID)[reminder.StageDayBefore]
	require.NoError(t, f.mem.RecordResponse(ctx, day.ID, "yes", reminder.StatusSent))

	_, err = f.mem.TransitionStatus(ctx, second.ID, []appointment.Status{appointment.StatusPending}, appointment.StatusCancelled)
	require.NoError(t, err)

	st, err := f.dispatcher.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalAppointments)
	assert.Equal(t, 6, st.TotalReminders)
	assert.Equal(t, 4, st.ReminderStatus[reminder.StatusSent])
	assert.Equal(t, 2, st.ReminderStatus[reminder.StatusPending])
	assert.Equal(t, 50.0, st.FormResponseRate)
	assert.Zero(t, st.ConfirmationResponseRate)
	assert.Equal(t, 50.0, st.CancellationRate)
	assert.Zero(t, st.NoShowRate)
}
