package cancellation

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

const RecentEntries = 10

// IntakeSender sends the booking confirmation with the intake forms again.
type IntakeSender interface {
	ResendIntake(ctx context.Context, appt *appointment.Appointment) error
}

type Options struct {
	Intake      IntakeSender
	NoShowGrace time.Duration
	ClinicPhone string
	Now         func() time.Time
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Reconciler is the single owner of appointment endings. Every cancellation
// source, the no-show sweep and reschedules release slots through Release.
type Reconciler struct {
	store       Store
	appts       appointment.Repository
	reminders   reminder.Repository
	locker      redisclient.Locker
	intake      IntakeSender
	grace       time.Duration
	clinicPhone string
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewReconciler(store Store, appts appointment.Repository, reminders reminder.Repository, locker redisclient.Locker, opts Options) *Reconciler {
	r := &Reconciler{
		store:       store,
		appts:       appts,
		reminders:   reminders,
		locker:      locker,
		intake:      opts.Intake,
		grace:       opts.NoShowGrace,
		clinicPhone: opts.ClinicPhone,
		now:         opts.Now,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

var _ appointment.Canceller = (*Reconciler)(nil)

// Release ends an appointment with a terminal status and frees its slot.
// It holds the appointment lock, then the doctor-day lock. Releasing an
// already closed appointment returns ErrAlreadyTerminal and writes nothing.
func (r *Reconciler) Release(ctx context.Context, id uuid.UUID, to appointment.Status, channel appointment.Channel, reason string) (*appointment.Appointment, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("%w: release to %s", appointment.ErrInvalidTransition, to)
	}

	var released *appointment.Appointment
	err := r.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(ctx context.Context) error {
		appt, err := r.appts.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return fmt.Errorf("%w: %s", appointment.ErrAlreadyTerminal, appt.Status)
		}
		if !appt.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s to %s", appointment.ErrInvalidTransition, appt.Status, to)
		}

		return r.locker.WithLock(ctx, redisclient.SlotKey(appt.DoctorID, appt.Start), func(ctx context.Context) error {
			out, err := r.store.Release(ctx, ReleaseRequest{
				Appointment: appt,
				From:        appointment.SourcesFor(to),
				To:          to,
				Channel:     channel,
				Reason:      reason,
				At:          r.now(),
			})
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				return r.explainLostUpdate(ctx, id, to)
			}
			if err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
			released = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.metrics.ObserveRelease(string(to), string(channel))
	r.logger.Info("appointment released",
		zap.String("appointment_id", id.String()),
		zap.String("doctor_id", released.DoctorID),
		zap.String("status", string(to)),
		zap.String("channel", string(channel)),
	)
	appointment.LogEvent(ctx, r.appts, r.logger, id, eventFor(to), map[string]any{
		"channel":   channel,
		"reason":    reason,
		"doctor_id": released.DoctorID,
		"start":     released.Start,
	})
	return released, nil
}

// explainLostUpdate reports why a conditional update matched nothing even
// though the status looked right under the lock.
func (r *Reconciler) explainLostUpdate(ctx context.Context, id uuid.UUID, to appointment.Status) error {
	cur, err := r.appts.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: %s", appointment.ErrAlreadyTerminal, cur.Status)
	}
	return fmt.Errorf("%w: %s to %s", appointment.ErrInvalidTransition, cur.Status, to)
}

func eventFor(to appointment.Status) string {
	switch to {
	case appointment.StatusNoShow:
		return appointment.EventAppointmentNoShow
	case appointment.StatusRescheduled:
		return appointment.EventAppointmentRescheduled
	case appointment.StatusCancelled, appointment.StatusPending, appointment.StatusConfirmed:
	}
	return appointment.EventAppointmentCancelled
}

// Confirm moves a pending appointment to confirmed. Confirming twice is a
// no-op; confirming a closed appointment is ErrAlreadyTerminal.
func (r *Reconciler) Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, bool, error) {
	var (
		out     *appointment.Appointment
		changed bool
	)
	err := r.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(ctx context.Context) error {
		appt, err := r.appts.TransitionStatus(ctx, id, []appointment.Status{appointment.StatusPending}, appointment.StatusConfirmed)
		if err == nil {
			out, changed = appt, true
			return nil
		}
		if !errors.Is(err, appointment.ErrAppointmentNotFound) {
			return fmt.Errorf("confirm appointment: %w", err)
		}
		cur, err := r.appts.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: %s", appointment.ErrAlreadyTerminal, cur.Status)
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		appointment.LogEvent(ctx, r.appts, r.logger, id, appointment.EventAppointmentConfirmed, map[string]any{})
	}
	return out, changed, nil
}

// MarkFormsCompleted records completed intake forms under the appointment
// lock. Closed appointments are ErrAlreadyTerminal; marking twice reports
// changed=false.
func (r *Reconciler) MarkFormsCompleted(ctx context.Context, id uuid.UUID) (*appointment.Appointment, bool, error) {
	var (
		out     *appointment.Appointment
		changed bool
	)
	err := r.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(ctx context.Context) error {
		cur, err := r.appts.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: %s", appointment.ErrAlreadyTerminal, cur.Status)
		}
		if cur.FormsCompleted {
			out = cur
			return nil
		}
		if out, err = r.appts.SetFormsCompleted(ctx, id); err != nil {
			return fmt.Errorf("mark forms completed: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (r *Reconciler) resendIntake(ctx context.Context, appt *appointment.Appointment) error {
	if r.intake == nil {
		return errors.New("no intake sender configured")
	}
	return r.intake.ResendIntake(ctx, appt)
}

// HandleSignal resolves an inbound reply to the sender's most recent live
// appointment and applies the classified intent.
func (r *Reconciler) HandleSignal(ctx context.Context, sig Signal) (*Outcome, error) {
	email, phone := contactKeys(sig)
	if email == "" && phone == "" {
		return nil, fmt.Errorf("%w: no usable contact in %q", ErrAmbiguousSignal, sig.Contact)
	}

	appt, err := r.appts.FindLatestActiveByContact(ctx, email, phone)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			r.logger.Warn("inbound reply matches no live appointment",
				zap.String("channel", string(sig.Channel)), zap.String("contact", sig.Contact))
			r.metrics.ObserveSignal(string(sig.Channel), "unmatched")
			return nil, ErrAmbiguousSignal
		}
		return nil, fmt.Errorf("resolve contact: %w", err)
	}

	last, err := r.reminders.LatestSent(ctx, appt.ID)
	if err != nil && !errors.Is(err, reminder.ErrReminderNotFound) {
		return nil, fmt.Errorf("load latest reminder: %w", err)
	}
	var stage reminder.Stage
	if last != nil {
		stage = last.Stage
	}

	intent := Classify(sig.Text, stage)
	r.metrics.ObserveSignal(string(sig.Channel), string(intent))
	log := r.logger.With(
		zap.String("appointment_id", appt.ID.String()),
		zap.String("channel", string(sig.Channel)),
		zap.String("intent", string(intent)),
	)
	log.Info("inbound reply classified")

	out := &Outcome{Intent: intent, Appointment: appt}
	responseStatus := reminder.Status("")

	switch intent {
	case IntentCancel:
		released, err := r.Release(ctx, appt.ID, appointment.StatusCancelled, sig.Channel, "patient replied: "+clip(sig.Text, 200))
		switch {
		case errors.Is(err, appointment.ErrAlreadyTerminal):
			out.Reply = "Your appointment is already cancelled."
		case err != nil:
			return nil, err
		default:
			out.Appointment, out.Changed = released, true
			out.Reply = fmt.Sprintf("Your appointment on %s has been cancelled. Thank you for letting us know.",
				released.Start.Format("Jan 2 at 03:04 PM"))
		}

	case IntentConfirm:
		confirmed, changed, err := r.Confirm(ctx, appt.ID)
		if err != nil {
			return nil, err
		}
		out.Appointment, out.Changed = confirmed, changed
		out.Reply = "Appointment confirmed! See you soon."
		responseStatus = reminder.StatusConfirmed

	case IntentFormsDone:
		updated, changed, err := r.MarkFormsCompleted(ctx, appt.ID)
		if errors.Is(err, appointment.ErrAlreadyTerminal) {
			out.Reply = "This appointment is no longer active."
			break
		}
		if err != nil {
			return nil, err
		}
		out.Appointment, out.Changed = updated, changed
		out.Reply = "Thank you! Forms marked as completed."
		if changed {
			appointment.LogEvent(ctx, r.appts, r.logger, appt.ID, appointment.EventFormsCompleted, map[string]any{
				"channel": sig.Channel,
			})
		}

	case IntentFormsMissing:
		if err := r.resendIntake(ctx, appt); err != nil {
			log.Warn("resend intake forms", zap.Error(err))
			out.Reply = "We could not resend your forms. Please call " + r.clinicPhone + "."
			break
		}
		out.Reply = "No problem. We've sent your intake forms again. Please complete them before your visit."
		appointment.LogEvent(ctx, r.appts, r.logger, appt.ID, appointment.EventIntakeResent, map[string]any{
			"channel": sig.Channel,
		})

	case IntentReschedule, IntentUnknown:
		if intent == IntentReschedule {
			out.Reply = "Please call " + r.clinicPhone + " to reschedule your appointment."
		} else {
			out.Reply = "Please reply CONFIRM, CANCEL, or RESCHEDULE."
		}
		log.Warn("reply needs manual follow-up", zap.String("text", clip(sig.Text, 200)))
		appointment.LogEvent(ctx, r.appts, r.logger, appt.ID, appointment.EventResponseUnresolved, map[string]any{
			"channel": sig.Channel,
			"intent":  intent,
			"text":    clip(sig.Text, 500),
		})
	}

	if last != nil {
		if responseStatus == "" {
			responseStatus = last.Status
		}
		if err := r.reminders.RecordResponse(ctx, last.ID, clip(sig.Text, 500), responseStatus); err != nil {
			log.Warn("record reminder response", zap.Error(err))
		}
	}
	return out, nil
}

// SweepNoShows marks pending appointments whose start (plus grace) has
// passed as no-shows. Confirmed and closed appointments are never touched.
func (r *Reconciler) SweepNoShows(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.grace)
	overdue, err := r.appts.ListPendingStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, a := range overdue {
		if ctx.Err() != nil {
			return marked, ctx.Err()
		}
		_, err := r.Release(ctx, a.ID, appointment.StatusNoShow, appointment.ChannelAuto, "no-show: not confirmed before start")
		switch {
		case err == nil:
			marked++
		case errors.Is(err, appointment.ErrAlreadyTerminal), errors.Is(err, appointment.ErrInvalidTransition):
			// confirmed or closed since the query ran
		default:
			r.logger.Error("mark no-show", zap.String("appointment_id", a.ID.String()), zap.Error(err))
		}
	}
	if marked > 0 {
		r.logger.Info("no-show sweep complete", zap.Int("marked", marked), zap.Int("candidates", len(overdue)))
	}
	return marked, nil
}

func (r *Reconciler) Stats(ctx context.Context) (*Stats, error) {
	st, err := r.store.Stats(ctx, RecentEntries)
	if err != nil {
		return nil, fmt.Errorf("cancellation stats: %w", err)
	}
	return st, nil
}

// contactKeys picks the lookup keys for the signal's channel. SendGrid hands
// over a full "Name <addr>" header; Twilio an E.164 number.
func contactKeys(sig Signal) (email, phone string) {
	contact := strings.TrimSpace(sig.Contact)
	isEmail := sig.Channel == appointment.ChannelEmail ||
		(sig.Channel != appointment.ChannelSMS && strings.Contains(contact, "@"))
	if isEmail {
		if addr, err := mail.ParseAddress(contact); err == nil {
			return appointment.NormalizeEmail(addr.Address), ""
		}
		if strings.Contains(contact, "@") {
			return appointment.NormalizeEmail(contact), ""
		}
		return "", ""
	}
	return "", appointment.PhoneKey(contact)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
