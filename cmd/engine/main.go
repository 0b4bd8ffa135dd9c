package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"jobfeed-engine/internal/config"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml (default: <data dir>/config.yml)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	setFor := flag.String("set-secret", "", "store the credential read from stdin for this source id in the OS keychain, then exit")
	deleteFor := flag.String("delete-secret", "", "remove the keychain credential of this source id, then exit")
	flag.Parse()

	cfg, warnings, err := loadConfig(*configPath, *envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	switch {
	case *setFor != "":
		account, err := setSecret(cfg, *setFor, os.Stdin)
		if err != nil {
			log.Fatalf("set secret: %v", err)
		}
		log.Printf("stored keychain secret %s", account)
		return
	case *deleteFor != "":
		account, err := deleteSecret(cfg, *deleteFor)
		if err != nil {
			log.Fatalf("delete secret: %v", err)
		}
		log.Printf("deleted keychain secret %s", account)
		return
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newStore,
			newHub,
			newSink,
			newLeaser,
			newPublisher,
			newScheduler,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.StopTimeout(cfg.Scheduler.ShutdownGrace+5*time.Second),
		fx.Invoke(
			func(l *zap.Logger) {
				for _, w := range warnings {
					l.Warn("config warning", zap.String("detail", w))
				}
			},
			startTracing,
			runScheduler,
			serveHTTP,
		),
	)

	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}

// loadConfig resolves the config file, applies env overrides and returns
// the normalized config together with validation warnings.
func loadConfig(path, envFile string) (config.Config, []string, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, nil, err
	}
	if path == "" {
		dataDir := os.Getenv("JOBFEED_DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		p, err := config.EnsureUserConfig(dataDir, filepath.Join("config", "config.yml"))
		if err != nil {
			return config.Config{}, nil, err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, nil, err
	}
	cfg, v := config.NormalizeAndValidate(cfg)
	if !v.OK() {
		return config.Config{}, nil, v
	}
	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, v.Warnings, nil
}
