package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var carriers = []string{"Acme Health", "BlueSky Mutual", "Northwind Care", "Harbor Life", ""}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("dev").Fatal("config load error", zap.Error(err))
	}
	logger := logging.New(cfg.Env).Named("seed")
	defer func() { _ = logger.Sync() }()

	if cfg.StoreDriver != config.StoreDriverPostgres {
		logger.Fatal("seed needs STORE_DRIVER=postgres")
	}

	count := envInt("SEED_PATIENTS", 200)
	days := envInt("SEED_DAYS", 14)
	logger.Info("seed starting", zap.Int("patients", count), zap.Int("days", days))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// seeding goes through the booking service so every row obeys the
	// same occupancy rules as live traffic
	rt, err := app.Bootstrap(ctx, cfg, nil, zap.NewNop())
	if err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	defer rt.Close()

	if err := rt.Migrate(ctx); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	faker := gofakeit.New(0)
	doctors := rt.Bookings.Doctors()
	from := time.Now().In(cfg.Location()).AddDate(0, 0, 1)
	to := from.AddDate(0, 0, days-1)

	var booked, full, failed int
	for i := 0; i < count; i++ {
		doc := doctors[faker.Number(0, len(doctors)-1)]

		slots, err := rt.Bookings.FindSlots(ctx, availability.Request{
			DoctorID: doc.ID,
			From:     from,
			To:       to,
			Category: availability.CategoryNew,
			Limit:    availability.MaxLimit,
		})
		if err != nil {
			logger.Fatal("find slots", zap.String("doctor_id", doc.ID), zap.Error(err))
		}
		if len(slots) == 0 {
			full++
			continue
		}
		slot := slots[faker.Number(0, len(slots)-1)]

		_, err = rt.Bookings.Book(ctx, appointment.BookRequest{
			DoctorID:  doc.ID,
			Start:     slot.Start,
			Patient:   fakePatient(faker),
			Insurance: fakeInsurance(faker),
		})
		switch {
		case errors.Is(err, appointment.ErrSlotConflict):
			full++
		case err != nil:
			failed++
			logger.Warn("booking failed", zap.Error(err))
		default:
			booked++
		}

		if (i+1)%50 == 0 {
			logger.Info("progress", zap.Int("done", i+1), zap.Int("of", count))
		}
	}

	logger.Info("seed complete",
		zap.Int("booked", booked),
		zap.Int("no_slot", full),
		zap.Int("failed", failed),
	)
}

func fakePatient(f *gofakeit.Faker) appointment.Patient {
	dob := f.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2015, 12, 31, 0, 0, 0, 0, time.UTC))
	return appointment.Patient{
		Name:  f.Name(),
		DOB:   time.Date(dob.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC),
		Email: f.Email(),
		Phone: f.Phone(),
	}
}

func fakeInsurance(f *gofakeit.Faker) appointment.Insurance {
	carrier := carriers[f.Number(0, len(carriers)-1)]
	if carrier == "" {
		return appointment.Insurance{}
	}
	return appointment.Insurance{
		Carrier:  carrier,
		MemberID: f.Numerify("MBR#######"),
		Group:    f.Numerify("GRP###"),
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
