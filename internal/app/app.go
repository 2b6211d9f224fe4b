// Package app assembles the scheduling components from a chosen store,
// locker and notifier set. The binaries and the scenario tests share it.
package app

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/cancellation"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

// Stores groups the three persistence ports.
type Stores struct {
	Appointments  appointment.Repository
	Reminders     reminder.Repository
	Cancellations cancellation.Store
}

func PostgresStores(conn db.DB, loc *time.Location) Stores {
	return Stores{
		Appointments:  appointment.NewPgRepository(conn, loc),
		Reminders:     reminder.NewPgRepository(conn),
		Cancellations: cancellation.NewPgStore(conn, loc),
	}
}

// MemoryStores backs all three ports with one in-memory store.
func MemoryStores(loc *time.Location) (Stores, *memstore.Store) {
	m := memstore.New(loc)
	return Stores{Appointments: m, Reminders: m, Cancellations: m}, m
}

type Options struct {
	Catalog     *calendar.Catalog
	Stores      Stores
	Locker      redisclient.Locker
	Email       notify.Notifier
	SMS         notify.Notifier
	IntakeForm  *notify.Attachment
	ClinicName  string
	ClinicPhone string
	SlotBuffer  time.Duration
	NoShowGrace time.Duration
	MaxAttempts int
	Now         func() time.Time
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type App struct {
	Planner    *availability.Planner
	Bookings   *appointment.Service
	Reconciler *cancellation.Reconciler
	Dispatcher *reminder.Dispatcher
	Scheduler  *reminder.Scheduler
	Stores     Stores
}

func New(opts Options) (*App, error) {
	if opts.Catalog == nil {
		return nil, errors.New("app: calendar catalog is required")
	}
	if opts.Stores.Appointments == nil || opts.Stores.Reminders == nil || opts.Stores.Cancellations == nil {
		return nil, errors.New("app: all stores are required")
	}
	if opts.Locker == nil {
		return nil, errors.New("app: locker is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	renderer, err := reminder.NewRenderer(opts.Catalog, opts.ClinicName, opts.ClinicPhone)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	planner := availability.NewPlanner(opts.Catalog, opts.Stores.Appointments, opts.SlotBuffer, opts.Now)

	dispatcher := reminder.NewDispatcher(opts.Stores.Reminders, opts.Stores.Appointments, reminder.DispatcherOptions{
		Email:       opts.Email,
		SMS:         opts.SMS,
		Renderer:    renderer,
		IntakeForm:  opts.IntakeForm,
		MaxAttempts: opts.MaxAttempts,
		Now:         opts.Now,
		Metrics:     opts.Metrics,
		Logger:      opts.Logger.Named("dispatcher"),
	})
	scheduler := reminder.NewScheduler(opts.Stores.Reminders, dispatcher, opts.Now, opts.Logger.Named("scheduler"))

	reconciler := cancellation.NewReconciler(opts.Stores.Cancellations, opts.Stores.Appointments, opts.Stores.Reminders, opts.Locker, cancellation.Options{
		Intake:      dispatcher,
		NoShowGrace: opts.NoShowGrace,
		ClinicPhone: opts.ClinicPhone,
		Now:         opts.Now,
		Metrics:     opts.Metrics,
		Logger:      opts.Logger.Named("reconciler"),
	})

	bookings := appointment.NewService(appointment.Deps{
		Repo:      opts.Stores.Appointments,
		Planner:   planner,
		Locker:    opts.Locker,
		Canceller: reconciler,
		Reminders: scheduler,
		Metrics:   opts.Metrics,
		Logger:    opts.Logger.Named("bookings"),
	})

	return &App{
		Planner:    planner,
		Bookings:   bookings,
		Reconciler: reconciler,
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Stores:     opts.Stores,
	}, nil
}
