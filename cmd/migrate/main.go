// Command migrate provisions the database schema. The engine itself only
// verifies it and refuses to start when tables are missing.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"jobfeed-engine/internal/config"
	"jobfeed-engine/internal/store"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "path to config.yml")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*configPath, *envFile, logger); err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, envFile string, logger *zap.Logger) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return err
	}
	cfg, v := config.NormalizeAndValidate(cfg)
	if !v.OK() {
		return v
	}
	if cfg.Store.Driver == "sqlite" {
		if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DSN,
		MaxConns: cfg.Store.MaxConns,
	}, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	applied, err := store.Migrate(ctx, st, logger)
	if err != nil {
		return err
	}
	if err := st.VerifySchema(ctx); err != nil {
		return err
	}
	logger.Info("schema ready", zap.String("driver", cfg.Store.Driver), zap.Int("applied", applied))
	return nil
}
