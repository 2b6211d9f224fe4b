package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

const (
	DefaultMaxAttempts = 3
	DefaultBatchSize   = 200
)

// Outcome of a single dispatch.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeSkipped    Outcome = "skipped"
	// OutcomeHeld leaves the reminder due while an earlier stage of the same
	// appointment can still go out.
	OutcomeHeld Outcome = "held"
)

// AppointmentReader is the slice of the appointment store the dispatcher
// needs.
type AppointmentReader interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type DispatcherOptions struct {
	Email       notify.Notifier
	SMS         notify.Notifier
	Renderer    *Renderer
	IntakeForm  *notify.Attachment
	MaxAttempts int
	BatchSize   int
	Now         func() time.Time
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type Dispatcher struct {
	reminders   Repository
	appts       AppointmentReader
	email       notify.Notifier
	sms         notify.Notifier
	renderer    *Renderer
	intakeForm  *notify.Attachment
	maxAttempts int
	batchSize   int
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewDispatcher(reminders Repository, appts AppointmentReader, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		reminders:   reminders,
		appts:       appts,
		email:       opts.Email,
		sms:         opts.SMS,
		renderer:    opts.Renderer,
		intakeForm:  opts.IntakeForm,
		maxAttempts: opts.MaxAttempts,
		batchSize:   opts.BatchSize,
		now:         opts.Now,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxAttempts
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

type PassResult struct {
	Due        int
	Sent       int
	Failed     int
	Suppressed int
	Skipped    int
	Held       int
	Errors     int
	Swept      int64
}

// RunPass sends every due reminder once. A single reminder's failure never
// aborts the pass; only failing to list the queue does.
func (d *Dispatcher) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult

	due, err := d.reminders.ListDue(ctx, d.now(), d.maxAttempts, d.batchSize)
	if err != nil {
		return res, fmt.Errorf("list due reminders: %w", err)
	}
	res.Due = len(due)
	// earlier stages first, so a catch-up batch goes out in stage order
	sort.SliceStable(due, func(i, j int) bool { return due[i].Stage.Order() < due[j].Stage.Order() })

	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		outcome, err := d.Dispatch(ctx, &due[i])
		switch outcome {
		case OutcomeSent:
			res.Sent++
		case OutcomeFailed:
			res.Failed++
		case OutcomeSuppressed:
			res.Suppressed++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeHeld:
			res.Held++
		}
		if err != nil && outcome != OutcomeFailed {
			res.Errors++
			d.logger.Error("dispatch reminder",
				zap.String("reminder_id", due[i].ID.String()), zap.Error(err))
		}
	}

	swept, err := d.reminders.CancelForTerminalAppointments(ctx)
	if err != nil {
		d.logger.Error("sweep reminders of closed appointments", zap.Error(err))
	}
	res.Swept = swept

	if res.Due > 0 || res.Swept > 0 {
		d.logger.Info("reminder pass complete",
			zap.Int("due", res.Due),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("suppressed", res.Suppressed),
			zap.Int("held", res.Held),
			zap.Int64("swept", res.Swept),
		)
	}
	return res, nil
}

// Dispatch sends one reminder. The appointment is reloaded first so a
// reminder for a closed or already started appointment is cancelled instead
// of sent. A stage waits while an earlier stage of the same appointment is
// still dispatchable.
func (d *Dispatcher) Dispatch(ctx context.Context, r *Reminder) (Outcome, error) {
	log := d.logger.With(
		zap.String("reminder_id", r.ID.String()),
		zap.String("appointment_id", r.AppointmentID.String()),
		zap.String("stage", string(r.Stage)),
	)

	appt, err := d.appts.GetAppointment(ctx, r.AppointmentID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("load appointment: %w", err)
	}

	now := d.now()
	switch {
	case appt.Status.Terminal():
		return d.suppress(ctx, r, log.With(zap.String("status", string(appt.Status))), "reminder suppressed for closed appointment")
	case !appt.Start.After(now):
		return d.suppress(ctx, r, log.With(zap.Time("start", appt.Start)), "reminder suppressed, appointment already started")
	}

	if !r.Dispatchable(d.maxAttempts) {
		return OutcomeSkipped, nil
	}
	earlier, err := d.earlierStageOpen(ctx, r)
	if err != nil {
		return OutcomeSkipped, err
	}
	if earlier != "" {
		log.Info("reminder held behind an earlier stage", zap.String("waiting_for", string(earlier)))
		return OutcomeHeld, nil
	}
	if err := d.reminders.Claim(ctx, r.ID, r.Attempts, d.maxAttempts); err != nil {
		if errors.Is(err, ErrNotDispatchable) {
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	withForm := r.Stage == StageImmediate && d.intakeForm != nil
	msg, err := d.renderer.Render(r.Stage, d.renderer.View(appt, withForm, now))
	if err != nil {
		return d.fail(ctx, r, "", err)
	}

	attempted, err := d.deliver(ctx, appt, msg, withForm)
	if err != nil {
		return d.fail(ctx, r, msg.Body, err)
	}

	if err := d.reminders.MarkSent(ctx, r.ID, msg.Body, d.now()); err != nil {
		if errors.Is(err, ErrNotDispatchable) {
			// cancelled while the send was in flight
			log.Warn("reminder closed during send")
			return OutcomeSent, nil
		}
		return OutcomeSent, err
	}
	log.Info("reminder sent", zap.Int("channels", attempted))
	d.metrics.ObserveReminder(string(r.Stage), string(OutcomeSent))
	return OutcomeSent, nil
}

// ResendIntake sends the booking confirmation again, with the intake form
// when one is configured. The reminder queue is not touched.
func (d *Dispatcher) ResendIntake(ctx context.Context, appt *appointment.Appointment) error {
	withForm := d.intakeForm != nil
	msg, err := d.renderer.Render(StageImmediate, d.renderer.View(appt, withForm, d.now()))
	if err != nil {
		return err
	}
	if _, err := d.deliver(ctx, appt, msg, withForm); err != nil {
		d.metrics.ObserveReminder(string(StageImmediate)+"_resend", string(OutcomeFailed))
		return err
	}
	d.metrics.ObserveReminder(string(StageImmediate)+"_resend", string(OutcomeSent))
	d.logger.Info("intake forms resent", zap.String("appointment_id", appt.ID.String()))
	return nil
}

// deliver sends msg on every channel the patient has. It returns how many
// channels were tried and the joined send errors.
func (d *Dispatcher) deliver(ctx context.Context, appt *appointment.Appointment, msg Rendered, withForm bool) (int, error) {
	var sendErrs []error
	attempted := 0
	if appt.Patient.Email != "" && d.email != nil {
		attempted++
		em := notify.Message{To: appt.Patient.Email, ToName: appt.Patient.Name, Subject: msg.Subject, Body: msg.Body}
		if withForm {
			em.Attachments = []notify.Attachment{*d.intakeForm}
		}
		if err := d.email.Send(ctx, em); err != nil {
			sendErrs = append(sendErrs, err)
		}
	}
	if appt.Patient.Phone != "" && d.sms != nil {
		attempted++
		if err := d.sms.Send(ctx, notify.Message{To: appt.Patient.Phone, ToName: appt.Patient.Name, Body: msg.SMS}); err != nil {
			sendErrs = append(sendErrs, err)
		}
	}
	if attempted == 0 {
		sendErrs = append(sendErrs, fmt.Errorf("%w: no channel available for patient contact", notify.ErrNotificationFailed))
	}
	return attempted, errors.Join(sendErrs...)
}

func (d *Dispatcher) suppress(ctx context.Context, r *Reminder, log *zap.Logger, reason string) (Outcome, error) {
	if err := d.reminders.MarkCancelled(ctx, r.ID); err != nil && !errors.Is(err, ErrNotDispatchable) {
		return OutcomeSkipped, err
	}
	log.Info(reason)
	d.metrics.ObserveReminder(string(r.Stage), string(OutcomeSuppressed))
	return OutcomeSuppressed, nil
}

// earlierStageOpen returns the first stage before r's that may still be
// sent, or "" when none is left.
func (d *Dispatcher) earlierStageOpen(ctx context.Context, r *Reminder) (Stage, error) {
	if r.Stage.Order() == 0 {
		return "", nil
	}
	siblings, err := d.reminders.ListReminders(ctx, r.AppointmentID)
	if err != nil {
		return "", fmt.Errorf("list sibling reminders: %w", err)
	}
	for _, s := range siblings {
		if s.Stage.Order() < r.Stage.Order() && s.Dispatchable(d.maxAttempts) {
			return s.Stage, nil
		}
	}
	return "", nil
}

func (d *Dispatcher) fail(ctx context.Context, r *Reminder, message string, cause error) (Outcome, error) {
	d.logger.Warn("reminder send failed",
		zap.String("reminder_id", r.ID.String()),
		zap.String("stage", string(r.Stage)),
		zap.Int("attempt", r.Attempts+1),
		zap.Error(cause),
	)
	d.metrics.ObserveReminder(string(r.Stage), string(OutcomeFailed))
	if err := d.reminders.MarkFailed(ctx, r.ID, message, cause.Error()); err != nil && !errors.Is(err, ErrNotDispatchable) {
		return OutcomeFailed, errors.Join(cause, err)
	}
	return OutcomeFailed, cause
}
