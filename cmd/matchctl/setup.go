package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bloodlink/bloodlink-hub/config"
	"github.com/bloodlink/bloodlink-hub/internal/application/command"
	"github.com/bloodlink/bloodlink-hub/internal/application/query"
	"github.com/bloodlink/bloodlink-hub/internal/domain/donor"
	"github.com/bloodlink/bloodlink-hub/internal/domain/matching"
	"github.com/bloodlink/bloodlink-hub/internal/domain/registration"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/external/traffic"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/memory"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/postgres"
	"github.com/bloodlink/bloodlink-hub/internal/infrastructure/persistence/redis"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
	"github.com/bloodlink/bloodlink-hub/pkg/timeutil"
)

// clock is swapped by tests.
var clock timeutil.Clock = timeutil.SystemClock{}

type commonFlags struct {
	donorsFile string
	verbose    bool
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.donorsFile, "donors", "", "JSON array of donor records to use instead of the database")
	fs.BoolVar(&c.verbose, "v", false, "verbose logging to stderr")
	return c
}

// app is what a command needs. close releases every connection setup opened.
type app struct {
	cfg          *config.Config
	log          *logger.Logger
	donors       donor.Repository
	users        registration.UserRepository
	cache        *redis.Cache
	engine       *query.Engine
	scores       *command.DonorScoreService
	registration *command.RegistrationService

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func setup(ctx context.Context, flags commonFlags) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := newCLILogger(flags.verbose)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if err := openStores(ctx, a, flags.donorsFile); err != nil {
		return nil, err
	}
	a.cache = openRedis(a)

	strategy, err := matching.StrategyByName(cfg.Matching.Strategy)
	if err != nil {
		return nil, err
	}
	engineCfg := query.DefaultEngineConfig()
	engineCfg.Strategy = strategy
	engineCfg.ETATimeout = cfg.Traffic.Timeout
	engineCfg.MaxConcurrentETA = cfg.Matching.MaxConcurrentETA
	engineCfg.AverageSpeedKmh = cfg.Traffic.AverageSpeedKmh
	engineCfg.Logger = log

	a.engine = query.NewEngine(a.donors, etaProvider(a), engineCfg)
	a.scores = command.NewDonorScoreService(a.donors, clock, command.NewID, log)

	var otpStore registration.OTPStore = memory.NewOTPStore(clock)
	if a.cache != nil {
		otpStore = redis.NewOTPStore(a.cache)
	}
	otp := registration.NewOTPService(otpStore, clock, registration.OTPConfig{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	})
	a.registration = command.NewRegistrationService(a.users, a.donors, otp, clock, command.NewID, log)

	ok = true
	return a, nil
}

// newCLILogger keeps stdout for command output.
func newCLILogger(verbose bool) (*logger.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	z, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.FromZap(z), nil
}

// openStores picks the donor and user stores: a -donors file, Postgres, or
// empty in-memory stores.
func openStores(ctx context.Context, a *app, donorsFile string) error {
	if donorsFile != "" {
		donors, err := loadDonorsFile(ctx, donorsFile)
		if err != nil {
			return err
		}
		a.donors, a.users = donors, memory.NewUserStore()
		return nil
	}

	if a.cfg.Database.URL == "" {
		a.log.Warn("DATABASE_URL not set and no -donors file, stores are empty")
		a.donors, a.users = memory.NewDonorStore(), memory.NewUserStore()
		return nil
	}

	conn, err := connectPostgres(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn.Close)
	a.donors = postgres.NewDonorRepository(conn.DB())
	a.users = postgres.NewUserRepository(conn.DB())
	return nil
}

// connectPostgres opens a small pool; a CLI run never needs more.
func connectPostgres(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	if cfg.Database.URL == "" {
		return nil, shared.NewValidationError("matchctl", "connect", "DATABASE_URL is required")
	}
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = 2
	pgCfg.MinConns = 1
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

// openRedis returns nil when Redis is disabled or unreachable.
func openRedis(a *app) *redis.Cache {
	if a.cfg.Redis.Disabled {
		return nil
	}

	rc := redis.DefaultConfig()
	rc.Host = a.cfg.Redis.Host
	rc.Port = a.cfg.Redis.Port
	rc.Password = a.cfg.Redis.Password
	rc.DB = a.cfg.Redis.DB
	rc.DialTimeout = a.cfg.Redis.DialTimeout
	rc.ReadTimeout = a.cfg.Redis.ReadTimeout
	rc.WriteTimeout = a.cfg.Redis.WriteTimeout

	cache, err := redis.NewCache(rc)
	if err != nil {
		a.log.Warn("redis unavailable, using in-process caches", logger.Err(err))
		return nil
	}
	a.closers = append(a.closers, func() { _ = cache.Close() })
	return cache
}

// loadDonorsFile reads donor records in either key convention into a
// memory store.
func loadDonorsFile(ctx context.Context, path string) (donor.Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read donors file: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("donors file %s: expected a JSON array: %w", path, err)
	}

	store := memory.NewDonorStore()
	for i, rec := range records {
		d, err := donor.DecodeDonor(rec)
		if err != nil {
			return nil, fmt.Errorf("donor record %d: %w", i, err)
		}
		if d.ID == "" {
			d.ID = command.NewID()
		}
		if err := store.Create(ctx, d); err != nil {
			return nil, fmt.Errorf("donor record %d (%s): %w", i, d.ID, err)
		}
	}
	return store, nil
}

// etaProvider returns nil, meaning average-speed estimates only, unless a
// traffic key is configured and the live ETA flag is on.
func etaProvider(a *app) query.ETAProvider {
	tc := a.cfg.Traffic
	if tc.APIKey == "" || !a.cfg.Features.Enabled(config.FeatureTrafficLiveETA) {
		return nil
	}

	client := traffic.NewClient(traffic.Config{
		APIKey:          tc.APIKey,
		BaseURL:         tc.BaseURL,
		Timeout:         tc.Timeout,
		BreakerFailures: tc.BreakerFailures,
		BreakerCoolDown: tc.BreakerCoolDown,
	}, a.log)

	if a.cache == nil || !a.cfg.Features.Enabled(config.FeatureTrafficETACache) {
		return client
	}
	return traffic.NewCachedProvider(client, redis.NewETACache(a.cache, tc.CacheTTL), a.log)
}
