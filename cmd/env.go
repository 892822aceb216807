package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/config"
	"github.com/fintech-crm/lead-engine/internal/db"
	"github.com/fintech-crm/lead-engine/internal/filter"
	"github.com/fintech-crm/lead-engine/internal/leads"
	"github.com/fintech-crm/lead-engine/internal/reconcile"
	"github.com/fintech-crm/lead-engine/internal/resilience"
	"github.com/fintech-crm/lead-engine/internal/source"
	"github.com/fintech-crm/lead-engine/internal/store"
	"github.com/fintech-crm/lead-engine/internal/syncer"
)

// appEnv holds the initialized pool, store, adapters and services needed
// by serve, sync and leads.
type appEnv struct {
	Pool     *pgxpool.Pool
	Store    *store.Store
	Redis    *redis.Client // may be nil
	Breakers *resilience.Breakers
	Adapters []source.Adapter
	Leads    *leads.Service
	Syncer   *syncer.Syncer
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// initEnv validates config for mode, opens the pool, applies migrations
// and builds the lead service and syncer. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	buckets, err := filter.LoadBuckets(cfg.Filter.BucketsFile)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	env := &appEnv{Pool: pool, Store: store.New(pool)}

	if err := db.Migrate(ctx, pool); err != nil {
		env.Close()
		return nil, err
	}

	if cfg.Redis.Enabled {
		rdb, err := source.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			zap.L().Warn("redis unavailable, source cache disabled", zap.Error(err))
		} else {
			env.Redis = rdb
		}
	}

	env.Breakers = resilience.NewBreakers(resilience.BreakerConfig{
		Threshold: cfg.Sources.Circuit.Threshold,
		Cooldown:  cfg.Sources.Circuit.Reset,
	})
	env.Adapters = buildAdapters(cfg, env.Store, env.Redis)

	writer := reconcile.NewWriter(pool, cfg.Reconcile.BatchSize)
	env.Leads = leads.NewService(env.Adapters, env.Store, writer,
		leads.WithBreakers(env.Breakers),
		leads.WithSourceTimeout(cfg.Sources.Timeout),
		leads.WithBuckets(buckets),
	)
	env.Syncer = syncer.New(env.Adapters, env.Store, writer, env.Breakers, cfg.Sources.Timeout)

	names := make([]string, len(env.Adapters))
	for i, a := range env.Adapters {
		names[i] = a.Name()
	}
	zap.L().Info("lead sources configured", zap.Strings("sources", names))
	return env, nil
}

// buildAdapters returns the configured sources in precedence order:
// Strapi loan forms, Strapi CIBIL checks, stored credit reports, Beehiiv.
// HTTP sources are cached in Redis when rdb is non-nil.
func buildAdapters(c *config.Config, reports source.CreditReportLister, rdb *redis.Client) []source.Adapter {
	backoff := resilience.DefaultBackoff()
	if c.Sources.RetryAttempts > 0 {
		backoff.Attempts = c.Sources.RetryAttempts
	}
	cached := func(a source.Adapter) source.Adapter {
		if rdb == nil {
			return a
		}
		return source.NewCachedAdapter(a, rdb, c.Sources.CacheTTL)
	}

	var out []source.Adapter
	if c.StrapiEnabled() {
		client := source.NewHTTPClient(c.Strapi.Token, source.WithRate(c.Sources.RatePerSec), source.WithBackoff(backoff))
		sc := source.StrapiConfig{
			BaseURL:       c.Strapi.BaseURL,
			PageSize:      c.Strapi.PageSize,
			CIBILPageSize: c.Strapi.CIBILPageSize,
		}
		out = append(out,
			cached(source.NewStrapiLoanAdapter(client, sc)),
			cached(source.NewStrapiCIBILAdapter(client, sc)),
		)
	}
	if reports != nil {
		out = append(out, source.NewCreditReportAdapter(reports, c.Sources.CreditReportLimit))
	}
	if c.BeehiivEnabled() {
		client := source.NewHTTPClient(c.Beehiiv.APIKey, source.WithRate(c.Sources.RatePerSec), source.WithBackoff(backoff))
		out = append(out, cached(source.NewBeehiivAdapter(client, c.Beehiiv.BaseURL, c.Beehiiv.PublicationID)))
	}
	return out
}
