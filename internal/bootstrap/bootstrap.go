// Package bootstrap assembles the stores, caches and services described by a
// config.Config. Both binaries build their runtime through it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/cache"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/db"
	"inventory-ledger/internal/documents"
	"inventory-ledger/internal/feed"
	"inventory-ledger/internal/metrics"
	"inventory-ledger/internal/store/memstore"
	"inventory-ledger/internal/store/pgstore"
)

// Runtime holds everything a binary needs. Close releases it in reverse order
// of construction.
type Runtime struct {
	Config  config.Config
	Log     *slog.Logger
	Pool    *pgxpool.Pool
	Ledger  core.LedgerStore
	Repo    documents.Repository
	Metrics *metrics.Metrics
	Service app.ApplicationService
	// Relay is nil when no Kafka brokers are configured.
	Relay *feed.Relay

	redis     *redis.Client
	publisher feed.Publisher
}

// Build connects to the configured backends. Redis is optional: a failed
// connection is logged and conversions are then read from the store directly.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: log, Metrics: metrics.New()}

	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		rt.Pool = pool
		if cfg.Migrations.Auto {
			if err := db.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		rt.Ledger = pgstore.New(pool, cfg.Postgres.LockTimeout)
		rt.Repo = pgstore.NewDocuments(pool)
	case "memory":
		log.Warn("using the in-memory store; nothing survives a restart")
		rt.Ledger = memstore.New(memstore.WithLockTimeout(cfg.Postgres.LockTimeout))
		rt.Repo = memstore.NewDocuments()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var factors core.FactorCache
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn("redis unavailable, uom factors will not be cached", "error", err)
		} else {
			rt.redis = client
			factors = cache.NewFactorCache(client, cfg.Redis.TTL)
		}
	}

	registry := core.NewUoMRegistry(rt.Ledger, factors, log)
	inventory := core.NewInventoryService(rt.Ledger, registry, core.WithLogger(log), core.WithObserver(rt.Metrics))
	query := core.NewQueryService(rt.Ledger)
	rt.Service = app.NewAppService(app.Deps{
		Inventory: inventory,
		Query:     query,
		Documents: documents.NewService(rt.Repo, inventory, query, log),
		Repo:      rt.Repo,
		UoM:       registry,
		Auditor:   core.NewAuditor(rt.Ledger),
		Retry:     app.RetryPolicy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay},
		Log:       log,
	})

	if len(cfg.Kafka.Brokers) > 0 {
		rt.publisher = feed.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		rt.Relay = feed.NewRelay(rt.Ledger, rt.publisher, rt.Metrics, log, feed.Config{
			Interval: cfg.Feed.Interval,
			Batch:    cfg.Feed.Batch,
			Settle:   cfg.Feed.Settle,
		})
	}
	return rt, nil
}

// Ready reports whether the backing database answers.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	return rt.Pool.Ping(ctx)
}

func (rt *Runtime) Close() error {
	var errs []error
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	return errors.Join(errs...)
}
