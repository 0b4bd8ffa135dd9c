package main

import (
	"context"

	"jobfeed-engine/internal/config"
	"jobfeed-engine/internal/events"
	"jobfeed-engine/internal/lease"
	"jobfeed-engine/internal/messaging"
	"jobfeed-engine/internal/scheduler"
	"jobfeed-engine/internal/source/registry"
	"jobfeed-engine/internal/source/util"
	"jobfeed-engine/internal/status"
	"jobfeed-engine/internal/store"
	"jobfeed-engine/internal/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Log.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

func startTracing(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) error {
	shutdown, err := telemetry.InitTracer(context.Background(), cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			shutdown(ctx)
			return nil
		},
	})
	return nil
}

// newStore connects and fails fast when the schema has not been
// provisioned with cmd/migrate.
func newStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DSN,
		MaxConns: cfg.Store.MaxConns,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := st.VerifySchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return st.Close() },
	})
	return st, nil
}

func newHub() *events.Hub {
	return events.NewHub()
}

func newSink(lc fx.Lifecycle, cfg config.Config, hub *events.Hub, logger *zap.Logger) (events.Sink, error) {
	sinks := events.Fanout{hub}
	if cfg.NATS.URL == "" {
		return sinks, nil
	}
	pub, err := messaging.NewPublisher(cfg.NATS.URL, cfg.HTTP.Timeout, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return pub.Close() },
	})
	return append(sinks, pub), nil
}

// newLeaser uses Redis when configured so several engines can share one
// store. An unreachable Redis degrades to in-process leases.
func newLeaser(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) lease.Leaser {
	if cfg.Redis.Addr == "" {
		return lease.NewLocal()
	}
	r := lease.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err := r.Ping(context.Background()); err != nil {
		logger.Warn("redis unavailable, using local leases", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = r.Close()
		return lease.NewLocal()
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return r.Close() },
	})
	return r
}

func newPublisher(cfg config.Config, sink events.Sink, logger *zap.Logger) *status.Publisher {
	return status.NewPublisher(status.DefaultPolicy(cfg.Status.MaxStaleness), sink, logger.Named("status"))
}

func newScheduler(cfg config.Config, st store.Store, leaser lease.Leaser, sink events.Sink, pub *status.Publisher, logger *zap.Logger) (*scheduler.Scheduler, error) {
	entries := registry.Build(cfg, registry.Deps{
		Logger:  logger.Named("source"),
		HTTP:    util.NewHTTPClient(cfg.HTTP.Timeout),
		Limiter: util.NewHostLimiter(cfg.HTTP.RequestsPerSecond, cfg.HTTP.Burst),
	})
	sources := make([]scheduler.Source, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, scheduler.Source{Adapter: e.Adapter, Cadence: e.Cadence})
	}
	return scheduler.New(sources, scheduler.Options{
		BackoffBase:   cfg.Scheduler.BackoffBase,
		BackoffMax:    cfg.Scheduler.BackoffMax,
		FetchTimeout:  cfg.Scheduler.FetchTimeout,
		ShutdownGrace: cfg.Scheduler.ShutdownGrace,
		StoreRetries:  cfg.Scheduler.StoreRetries,
		LeaseTTL:      cfg.Redis.LeaseTTL,
	}, scheduler.Deps{
		Store:    st,
		Logger:   logger.Named("scheduler"),
		Leaser:   leaser,
		Sink:     sink,
		Observer: pub,
	})
}
