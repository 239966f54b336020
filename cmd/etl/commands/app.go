package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/external/krx"
	"github.com/wonny/aegis-etl/internal/external/naver"
	"github.com/wonny/aegis-etl/internal/factor"
	"github.com/wonny/aegis-etl/internal/pipeline"
	"github.com/wonny/aegis-etl/internal/s0_data"
	"github.com/wonny/aegis-etl/internal/s0_data/collector"
	"github.com/wonny/aegis-etl/internal/s1_universe"
	"github.com/wonny/aegis-etl/internal/storage"
	"github.com/wonny/aegis-etl/internal/warehouse"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/database"
	"github.com/wonny/aegis-etl/pkg/httputil"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/redis"
	"github.com/wonny/aegis-etl/pkg/retry"
)

const (
	// uploadPrefix is the object key prefix of snapshot uploads
	uploadPrefix = "snapshots"

	// redisPrefix namespaces cache and rate-limit keys
	redisPrefix = "aegis-etl"
)

// app holds the process-wide dependencies of a command.
// Connections are opened lazily so commands only touch what they use.
type app struct {
	cfg      *config.Config
	settings *config.Settings
	log      *logger.Logger
	policy   retry.Policy

	db      *database.DB
	rdb     *redis.Client
	backend warehouse.Backend
	naver   *naver.Client
	closers []func()
}

// newApp loads config and settings and builds the logger
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	path := settingsPath
	if path == "" {
		path = cfg.SettingsPath
	}
	settings, err := config.LoadSettings(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && settingsPath == "":
		log.WithField("path", path).Warn("Settings file not found, using defaults")
		settings = config.DefaultSettings()
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return &app{
		cfg:      cfg,
		settings: settings,
		log:      log,
		policy:   retry.FromSettings("", settings.Retry, contracts.IsRetryable),
	}, nil
}

// Close releases everything opened by the app, last opened first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// database connects to PostgreSQL (reference data, factor source, postgres warehouse)
func (a *app) database(ctx context.Context) (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if a.cfg.Database.URL == "" {
		return nil, &contracts.ConfigError{Field: "DATABASE_URL", Reason: "required for universe selection and reference data"}
	}
	db, err := database.New(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// redis connects when REDIS_ENABLED; a disabled client turns caching into a no-op
func (a *app) redis() (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	rdb, err := redis.New(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

func (a *app) cache() (*redis.Cache, error) {
	rdb, err := a.redis()
	if err != nil {
		return nil, err
	}
	if !rdb.Enabled() {
		return nil, nil
	}
	return redis.NewCache(rdb, redisPrefix), nil
}

// naverClient is rate limited in process and, with Redis, across processes
func (a *app) naverClient() (*naver.Client, error) {
	if a.naver != nil {
		return a.naver, nil
	}
	rdb, err := a.redis()
	if err != nil {
		return nil, err
	}

	perSecond := a.settings.Collector.RatePerSecond
	if perSecond <= 0 {
		perSecond = a.cfg.Naver.RateLimit
	}
	httpClient := httputil.New(a.log).WithRateLimit(perSecond)
	if rdb.Enabled() {
		httpClient = httpClient.WithRateLimiter(redis.NewRateLimiter(rdb, redisPrefix), redis.RateLimitConfig{
			Key:    naver.Source,
			Limit:  perSecond,
			Window: time.Second,
		})
	}

	client := naver.NewClient(httpClient, a.cfg.Naver, a.log)
	if cache, _ := a.cache(); cache != nil {
		client = client.WithCache(cache)
	}
	a.naver = client
	return client, nil
}

// warehouseBackend opens the backend selected by WAREHOUSE_DRIVER
func (a *app) warehouseBackend(ctx context.Context) (warehouse.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}

	switch a.cfg.Warehouse.Driver {
	case "sqlite":
		b, err := warehouse.OpenSQLite(a.cfg.Warehouse.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.backend = b
	default:
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}
		a.backend = warehouse.NewPostgresBackend(db.Pool)
	}
	a.closers = append(a.closers, func() { _ = a.backend.Close() })
	return a.backend, nil
}

func (a *app) blobStore(ctx context.Context) (contracts.BlobStore, error) {
	return storage.New(ctx, a.cfg.Storage, a.log)
}

// orchestrator wires the full pipeline
func (a *app) orchestrator(ctx context.Context, history *pipeline.History) (*pipeline.Orchestrator, error) {
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	cache, err := a.cache()
	if err != nil {
		return nil, err
	}
	naverClient, err := a.naverClient()
	if err != nil {
		return nil, err
	}
	backend, err := a.warehouseBackend(ctx)
	if err != nil {
		return nil, err
	}
	blob, err := a.blobStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	universe := s1_universe.NewBuilder(
		s1_universe.NewRepository(db.Pool),
		cache,
		s1_universe.Config{ExcludeSPAC: true, ExcludeAdmin: true},
		a.log,
	)
	prices := collector.NewPriceCollector(naverClient, a.policy, a.settings.Collector.Workers, a.log)

	orch := pipeline.New(pipeline.Deps{
		Universe:  universe,
		Prices:    prices,
		Benchmark: naverClient,
		Factors:   factor.NewFundamentalsRepository(db.Pool, a.log),
		Blob:      blob,
		Loader:    warehouse.NewLoader(backend, a.policy, a.log),
	}, pipeline.Config{
		DataDir:      a.cfg.DataDir,
		UploadPrefix: uploadPrefix,
		Limits:       a.settings.Limits,
		Retry:        a.policy,
	}, a.log)
	if history != nil {
		orch = orch.WithHistory(history)
	}
	return orch, nil
}

// referenceCollector wires the KRX directory and Naver market-cap collection
func (a *app) referenceCollector(ctx context.Context) (*collector.Collector, error) {
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	naverClient, err := a.naverClient()
	if err != nil {
		return nil, err
	}

	repo := s0_data.NewRepository(db.Pool)
	if err := repo.EnsureTables(ctx); err != nil {
		return nil, err
	}

	krxClient := krx.NewClient(httputil.New(a.log), a.cfg.KRX, a.log)
	return collector.NewCollector(krxClient, naverClient, repo, a.policy, a.log), nil
}
