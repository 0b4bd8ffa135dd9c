package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"jobfeed-engine/internal/config"
	"jobfeed-engine/internal/events"
	"jobfeed-engine/internal/httpapi"
	"jobfeed-engine/internal/scheduler"
	"jobfeed-engine/internal/status"
	"jobfeed-engine/internal/store"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	statusRefreshEvery = 30 * time.Second
	retentionEvery     = time.Hour
)

// runScheduler drives all sources plus the periodic status refresh and
// retention janitor for the lifetime of the app.
func runScheduler(lc fx.Lifecycle, sd fx.Shutdowner, cfg config.Config, sched *scheduler.Scheduler, pub *status.Publisher, st store.Store, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := sched.Run(ctx); err != nil {
					logger.Error("scheduler exited", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			go scheduler.Every(ctx, statusRefreshEvery, "status-refresh", pub.Refresh, logger)
			if cfg.Store.Retention > 0 {
				go scheduler.Every(ctx, retentionEvery, "retention", scheduler.PruneTask(st, cfg.Store.Retention, logger), logger)
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func serveHTTP(lc fx.Lifecycle, sd fx.Shutdowner, cfg config.Config, st store.Store, hub *events.Hub, pub *status.Publisher, sched *scheduler.Scheduler, logger *zap.Logger) {
	mux := httpapi.NewMux(httpapi.Deps{
		Store:     st,
		Hub:       hub,
		Status:    pub,
		Scheduler: sched,
		Logger:    logger,
	})
	if token := os.Getenv("JOBFEED_SHUTDOWN_TOKEN"); token != "" {
		mux.HandleFunc("/shutdown", shutdownHandler(token, sd))
	}
	httpLog := logger.Named("http")
	srv := &http.Server{
		Addr:              listenAddr(cfg),
		Handler:           httpapi.Chain(mux, httpapi.RequestID, httpapi.Recover(httpLog), httpapi.AccessLog(httpLog), httpapi.Cors),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("engine listening", zap.String("addr", "http://"+srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func listenAddr(cfg config.Config) string {
	return net.JoinHostPort(cfg.App.Listen, strconv.Itoa(cfg.App.Port))
}

// shutdownHandler lets a supervising process stop the engine over
// loopback with a shared token.
func shutdownHandler(token string, sd fx.Shutdowner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		got := r.Header.Get("X-Shutdown-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("shutting down\n"))
		_ = sd.Shutdown()
	}
}
