package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

func memoryConfig() config.Config {
	return config.Config{
		Env:             "test",
		StoreDriver:     config.StoreDriverMemory,
		LockDriver:      config.LockDriverLocal,
		LockWait:        time.Second,
		ClinicTimezone:  "UTC",
		ClinicName:      "Test Clinic",
		ClinicPhone:     "(555) 123-4567",
		SlotBuffer:      5 * time.Minute,
		MaxSendAttempts: 3,
	}
}

func TestBootstrap_MemoryDefaults(t *testing.T) {
	rt, err := Bootstrap(context.Background(), memoryConfig(), nil, nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Pool)
	assert.Nil(t, rt.Redis)
	assert.IsType(t, &notify.StubNotifier{}, rt.Email)
	assert.Len(t, rt.Bookings.Doctors(), 5)
	assert.NoError(t, rt.Migrate(context.Background()), "migrate is a no-op without postgres")
}

func TestBootstrap_DoctorsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doctors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
doctors:
  - id: dr_solo
    name: Dr. Solo
    hours:
      monday: {start: "09:00", end: "12:00"}
    lunch: {start: "11:00", end: "11:30"}
`), 0o600))

	cfg := memoryConfig()
	cfg.DoctorsFile = path
	rt, err := Bootstrap(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer rt.Close()

	docs := rt.Bookings.Doctors()
	require.Len(t, docs, 1)
	assert.Equal(t, "dr_solo", docs[0].ID)

	// Monday 2030-01-07, far enough ahead to be bookable
	appt, err := rt.Bookings.Book(context.Background(), appointment.BookRequest{
		DoctorID: "dr_solo",
		Start:    time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC),
		Patient: appointment.Patient{
			Name:  "Jane Doe",
			DOB:   time.Date(1990, 7, 1, 0, 0, 0, 0, time.UTC),
			Email: "jane@example.com",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, appt.Status)

	reminders, err := rt.Stores.Reminders.ListReminders(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Len(t, reminders, 3)
}

func TestBootstrap_Failures(t *testing.T) {
	cfg := memoryConfig()
	cfg.DoctorsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Bootstrap(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "load doctors file")

	cfg = memoryConfig()
	cfg.IntakeFormPath = filepath.Join(t.TempDir(), "missing.pdf")
	_, err = Bootstrap(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "intake form")
}
