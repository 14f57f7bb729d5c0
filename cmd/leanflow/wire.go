package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/leanflow/internal/analysis"
	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/pipeline"
	"github.com/pitabwire/leanflow/internal/reasoning"
	"github.com/pitabwire/leanflow/internal/roi"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/internal/runstore"
	"github.com/pitabwire/leanflow/model"
)

// app holds the wired core shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	holder    *rules.Holder
	store     runstore.Store
	reasoning reasoning.Service
	metrics   *observability.Metrics
	optimizer *pipeline.Orchestrator

	closers []func()
}

// buildApp loads rules, opens the run store, selects the reasoning provider
// and assembles the orchestrator. The caller must call close.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, format string, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	registry, err := rules.Load(cfg.Rules.Directory)
	if err != nil {
		return nil, err
	}
	a.holder = rules.NewHolder(registry)
	logger.Info("rule registry loaded",
		zap.String("version", registry.Version()),
		zap.Int("rules", registry.Len()),
		zap.String("directory", cfg.Rules.Directory),
	)

	if reg != nil {
		a.metrics = observability.InitMetrics(reg)
		a.metrics.SetRegistry(registry.Version(), registry.Len())
	}

	store, closeStore, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, model.NewPersistenceError("open", err)
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	schemas, err := reasoning.LoadSchemas(cfg.Reasoning.SchemaFile)
	if err != nil {
		a.close()
		return nil, err
	}
	svc, err := reasoning.NewService(ctx, cfg.Reasoning)
	if err != nil {
		a.close()
		return nil, err
	}
	a.reasoning = svc

	formatter, err := reasoning.NewFormatter(format, svc, schemas)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithFormatter(formatter),
		pipeline.WithScoreConfig(scoreConfig(cfg.Analysis)),
		pipeline.WithEstimator(roi.NewEstimator(roi.Config{
			ConservatismFactor: cfg.ROI.ConservatismFactor,
			HorizonYears:       cfg.ROI.HorizonYears,
		})),
	}
	if a.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(a.metrics))
	}
	if svc != nil {
		opts = append(opts,
			pipeline.WithNormalizer(reasoning.NewNormalizer(svc, schemas)),
			pipeline.WithAdvisor(reasoning.NewAdvisor(svc, schemas)),
		)
	} else {
		opts = append(opts, pipeline.WithNormalizer(reasoning.NewPassthrough(schemas)))
	}

	a.optimizer = pipeline.New(a.holder, store, pipeline.ConfigFrom(cfg.Pipeline), opts...)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) readiness() observability.ReadinessChecks {
	checks := observability.ReadinessChecks{
		RulesLoaded: func() bool { return a.holder.Current() != nil },
		RunStore:    a.store,
	}
	if a.reasoning != nil {
		checks.Reasoning = a.reasoning
	}
	return checks
}

func scoreConfig(c config.AnalysisConfig) analysis.ScoreConfig {
	sc := analysis.ScoreConfig{MaxPotential: c.MaxPotential}
	if len(c.Anchors) > 0 {
		sc.Anchors = make(map[string]model.PercentRange, len(c.Anchors))
		for id, anchor := range c.Anchors {
			sc.Anchors[id] = model.PercentRange{Low: anchor.Low, High: anchor.High}
		}
	}
	return sc
}

// buildStore opens the run store selected by cfg.Driver. The returned
// closer may be nil.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (runstore.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory run store")
		return runstore.NewMemoryStore(), nil, nil

	case config.DriverPostgres:
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("run store: %s environment variable not set", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("run store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("run store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run store: ping: %w", err)
		}
		store := runstore.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run store: migrate: %w", err)
		}
		logger.Info("using postgres run store")
		return store, pool.Close, nil

	case config.DriverRedis:
		addr := os.Getenv(cfg.RedisAddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("run store: %s environment variable not set", cfg.RedisAddrEnv)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
			DB:    cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("run store: ping redis: %w", err)
		}
		logger.Info("using redis run store", zap.String("addr", addr))
		return runstore.NewRedisStore(client, cfg.TTL), func() { client.Close() }, nil

	case config.DriverSQLite:
		store, err := runstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("run store: %w", err)
		}
		logger.Info("using sqlite run store", zap.String("path", cfg.SQLitePath))
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported run store driver: %q", cfg.Driver)
	}
}
