package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// Runtime is an App plus the connections it was built on.
type Runtime struct {
	*App
	Config config.Config
	Pool   *pgxpool.Pool // nil with the memory store
	Redis  *redis.Client // nil with the local locker
	Email  notify.Notifier

	logger *zap.Logger
}

// Bootstrap connects the configured backends and assembles the App.
// Close releases whatever was opened, also after a partial failure.
func Bootstrap(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) (rt *Runtime, err error) {
	logger = logging.OrNop(logger)
	rt = &Runtime{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()
	loc := cfg.Location()

	catalog := calendar.Defaults(loc)
	if cfg.DoctorsFile != "" {
		if catalog, err = calendar.LoadFile(cfg.DoctorsFile, loc); err != nil {
			return rt, fmt.Errorf("load doctors file: %w", err)
		}
	}

	var stores Stores
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		rt.Pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return rt, fmt.Errorf("postgres: %w", err)
		}
		logger.Info("connected to postgres")
		stores = PostgresStores(rt.Pool, loc)
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		stores, _ = MemoryStores(loc)
	}

	var locker redisclient.Locker
	switch cfg.LockDriver {
	case config.LockDriverRedis:
		rt.Redis, err = redisclient.NewClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return rt, fmt.Errorf("redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		locker = redisclient.NewRedisLocker(rt.Redis, cfg.LockTTL, cfg.LockWait)
	default:
		locker = redisclient.NewLocalLocker(cfg.LockWait)
	}

	rt.Email = emailNotifier(cfg, logger)

	var intake *notify.Attachment
	if cfg.IntakeFormPath != "" {
		if intake, err = notify.LoadAttachment(cfg.IntakeFormPath); err != nil {
			return rt, fmt.Errorf("intake form: %w", err)
		}
	}

	rt.App, err = New(Options{
		Catalog:     catalog,
		Stores:      stores,
		Locker:      locker,
		Email:       rt.Email,
		SMS:         smsNotifier(cfg, logger),
		IntakeForm:  intake,
		ClinicName:  cfg.ClinicName,
		ClinicPhone: cfg.ClinicPhone,
		SlotBuffer:  cfg.SlotBuffer,
		NoShowGrace: cfg.NoShowGrace,
		MaxAttempts: cfg.MaxSendAttempts,
		Metrics:     m,
		Logger:      logger,
	})
	return rt, err
}

// Migrate applies pending migrations. It is a no-op without Postgres.
func (rt *Runtime) Migrate(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	mig, err := db.NewMigrator(rt.Pool, rt.logger)
	if err != nil {
		return err
	}
	defer func() { _ = mig.Close() }()
	return mig.Up(ctx)
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.Warn("close redis", zap.Error(err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

// The constructors return typed nil pointers without credentials, so the
// stub has to be chosen here rather than by a nil check on the interface.
func emailNotifier(cfg config.Config, logger *zap.Logger) notify.Notifier {
	sg := notify.NewSendGridNotifier(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, logger.Named("sendgrid"))
	if sg == nil {
		logger.Warn("SENDGRID_API_KEY not set; emails are logged only")
		return notify.NewStubNotifier("email", logger)
	}
	return sg
}

func smsNotifier(cfg config.Config, logger *zap.Logger) notify.Notifier {
	tw := notify.NewTwilioNotifier(notify.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFrom,
	}, logger.Named("twilio"))
	if tw == nil {
		logger.Warn("twilio credentials not set; sms are logged only")
		return notify.NewStubNotifier("sms", logger)
	}
	return tw
}
