// Package main is the background worker of BloodLink Hub.
//
// The worker owns every time-driven part of the request lifecycle:
// - expiring RED requests nobody viewed or answered in time
// - timing out donor notifications past their response window
// - recomputing donor eligibility as donation dates age
//
// Request notices raised by those sweeps are fanned out to the log, the
// coordinator Telegram chat and the MQTT broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bloodlink/bloodlink-hub/config"
	"github.com/bloodlink/bloodlink-hub/internal/application/command"
	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/external/telegram"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/messaging"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/memory"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/postgres"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/redis"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/scheduler"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/scheduler/jobs"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:   logger.ParseLevel(cfg.Observability.LogLevel),
		Format:  cfg.Observability.LogFormat,
		Service: cfg.App.Name + "-worker",
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting BloodLink Hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version))

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (job locks)
	// ─────────────────────────────────────────────────────────────────────────
	var locker jobs.Locker
	if cache := openRedis(cfg, log); cache != nil {
		defer func() { _ = cache.Close() }()
		locker = cache
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS & NOTIFIERS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultEventBusConfig()
	busCfg.Logger = log
	bus := messaging.NewEventBus(busCfg)

	closeNotifiers, err := subscribeNotifiers(bus, cfg, log)
	if err != nil {
		_ = bus.Close()
		return err
	}
	// Deliveries drain before the channels they write to go away.
	defer func() {
		_ = bus.Close()
		closeNotifiers()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}
	scores := command.NewDonorScoreService(store.donors, clock, command.NewID, log)
	lifecycle := command.NewLifecycleManager(command.LifecycleDeps{
		Requests:      store.requests,
		Notifications: store.notifications,
		Donors:        store.donors,
		Users:         store.users,
		Scores:        scores,
		Events:        bus,
		Clock:         clock,
		Logger:        log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		JobTimeout: cfg.Lifecycle.JobTimeout,
	})
	if err := registerJobs(sched, cfg, lifecycle, scores, locker, log); err != nil {
		return err
	}
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			log.Warn("job failed",
				logger.String("job", r.JobName),
				logger.Duration("duration", r.Duration),
				logger.Err(r.Error))
		}
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("worker is running", logger.Int("jobs", len(sched.ListJobs())))

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("shutdown signal received", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	select {
	case err := <-stopped:
		if err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("scheduler did not stop in time")
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

type stores struct {
	donors        donor.Repository
	requests      request.Repository
	notifications request.NotificationRepository
	users         registration.UserRepository
	close         func()
}

// openStores connects Postgres and runs migrations. Without DATABASE_URL
// (allowed outside production) the worker runs on in-memory stores.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return &stores{
			donors:        memory.NewDonorStore(),
			requests:      memory.NewRequestStore(),
			notifications: memory.NewNotificationStore(),
			users:         memory.NewUserStore(),
			close:         func() {},
		}, nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	db := conn.DB()
	return &stores{
		donors:        postgres.NewDonorRepository(db),
		requests:      postgres.NewRequestRepository(db),
		notifications: postgres.NewNotificationRepository(db),
		users:         postgres.NewUserRepository(db),
		close:         conn.Close,
	}, nil
}

// openRedis returns nil when Redis is disabled or unreachable; jobs then
// run without cluster locks.
func openRedis(cfg *config.Config, log *logger.Logger) *redis.Cache {
	if cfg.Redis.Disabled {
		return nil
	}

	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout

	cache, err := redis.NewCache(rc)
	if err != nil {
		log.Warn("redis unavailable, job locks disabled", logger.Err(err))
		return nil
	}
	log.Info("redis connection established", logger.String("addr", rc.Addr()))
	return cache
}

// subscribeNotifiers attaches every enabled delivery channel to the bus.
// A channel that fails to connect is skipped; the worker keeps running.
func subscribeNotifiers(bus *messaging.EventBus, cfg *config.Config, log *logger.Logger) (func(), error) {
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if err := bus.SubscribeAll("log", messaging.NewLogNotifier(log).Handle); err != nil {
		return closeAll, fmt.Errorf("subscribe log notifier: %w", err)
	}

	nc := cfg.Notifier
	if nc.TelegramToken != "" && cfg.Features.Enabled(config.FeatureNotifyTelegram) {
		tg, err := telegram.NewNotifier(telegram.DefaultConfig(nc.TelegramToken, nc.TelegramChatID), log)
		if err != nil {
			log.Warn("telegram notifier disabled", logger.Err(err))
		} else if err := bus.Subscribe(shared.EventRequestNotice, "telegram", tg.Handle); err != nil {
			return closeAll, fmt.Errorf("subscribe telegram notifier: %w", err)
		}
	}

	if nc.MQTTBroker != "" && cfg.Features.Enabled(config.FeatureNotifyMQTT) {
		mq, err := messaging.NewMQTTNotifier(messaging.MQTTConfig{
			Broker:   nc.MQTTBroker,
			ClientID: nc.MQTTClientID,
			Username: nc.MQTTUsername,
			Password: nc.MQTTPassword,
			Topic:    nc.MQTTTopic,
			QoS:      1,
		}, log)
		if err != nil {
			log.Warn("mqtt notifier disabled", logger.Err(err))
		} else {
			closers = append(closers, mq.Close)
			if err := bus.SubscribeAll("mqtt", mq.Handle); err != nil {
				return closeAll, fmt.Errorf("subscribe mqtt notifier: %w", err)
			}
		}
	}

	return closeAll, nil
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	lifecycle *command.LifecycleManager,
	scores *command.DonorScoreService,
	locker jobs.Locker,
	log *logger.Logger,
) error {
	lc := cfg.Lifecycle
	lockTTL := lc.JobTimeout

	register := func(job scheduler.Job, every time.Duration) error {
		if err := sched.Register(job, scheduler.NewIntervalSchedule(every)); err != nil {
			return fmt.Errorf("register %s: %w", job.Name(), err)
		}
		return nil
	}

	if err := register(jobs.NewExpireRedRequestsJob(lifecycle, locker, lockTTL, log), lc.ExpirationPollInterval); err != nil {
		return err
	}
	timeouts := jobs.NewExpireDonorNotificationsJob(lifecycle, locker, lockTTL, log)
	if err := register(timeouts, lc.NotificationSweepInterval); err != nil {
		return err
	}
	if !cfg.Features.Enabled(config.FeatureDonorTimeouts) {
		if err := sched.DisableJob(timeouts.Name()); err != nil {
			return err
		}
	}

	refresh := jobs.NewRefreshEligibilityJob(scores, locker, lockTTL, log)
	if lc.EligibilityRefreshCron == "" {
		return register(refresh, lc.EligibilityRefreshInterval)
	}

	loc, err := time.LoadLocation(lc.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	cron, err := scheduler.ParseCronSchedule(lc.EligibilityRefreshCron, loc)
	if err != nil {
		return fmt.Errorf("LIFECYCLE_ELIGIBILITY_REFRESH_CRON: %w", err)
	}
	if err := sched.Register(refresh, cron); err != nil {
		return fmt.Errorf("register %s: %w", refresh.Name(), err)
	}
	return nil
}
