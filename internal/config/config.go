package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"jobfeed-engine/internal/classify"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// Listen is the host the HTTP feed binds to.
		Listen  string `yaml:"listen"`
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"app"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	Store struct {
		Driver   string `yaml:"driver"` // sqlite | postgres
		DSN      string `yaml:"dsn"`
		MaxConns int    `yaml:"max_conns"`
		// Retention prunes postings not seen for this long; zero keeps
		// everything.
		Retention time.Duration `yaml:"retention"`
	} `yaml:"store"`

	Scheduler struct {
		DefaultCadence time.Duration `yaml:"default_cadence"`
		BackoffBase    time.Duration `yaml:"backoff_base"`
		BackoffMax     time.Duration `yaml:"backoff_max"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout"`
		ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
		StoreRetries   int           `yaml:"store_retries"`
	} `yaml:"scheduler"`

	Status struct {
		MaxStaleness time.Duration `yaml:"max_staleness"`
	} `yaml:"status"`

	HTTP struct {
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
		UserAgent         string        `yaml:"user_agent"`
		Timeout           time.Duration `yaml:"timeout"`
	} `yaml:"http"`

	Telegram struct {
		AppID       int    `yaml:"app_id"`
		AppHash     string `yaml:"app_hash"`
		SessionPath string `yaml:"session_path"`
	} `yaml:"telegram"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		LeaseTTL time.Duration `yaml:"lease_ttl"`
	} `yaml:"redis"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Telemetry struct {
		ServiceName  string `yaml:"service_name"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`

	Classify struct {
		JobKeywords []string        `yaml:"job_keywords"`
		Categories  []classify.Rule `yaml:"categories"`
		BlockAny    []string        `yaml:"block_any"`
	} `yaml:"classify"`

	Sources []Source `yaml:"sources"`
}

// Source is one configured adapter instance. Only the fields of its kind
// are read.
type Source struct {
	ID      string        `yaml:"id"`
	Kind    string        `yaml:"kind"`
	Enabled *bool         `yaml:"enabled"`
	Cadence time.Duration `yaml:"cadence"`

	// telegram
	Channels      []string `yaml:"channels"`
	BatchSize     int      `yaml:"batch_size"`
	BackfillLimit int      `yaml:"backfill_limit"`

	// telegram_web
	Channel string `yaml:"channel"`

	// lever, greenhouse, smartrecruiters, workday
	Slug         string `yaml:"slug"`
	Token        string `yaml:"token"`
	BoardURL     string `yaml:"board_url"`
	Organization string `yaml:"organization"`
	BaseURL      string `yaml:"base_url"`
	Hydrate      bool   `yaml:"hydrate"`

	// email
	IMAPHost    string        `yaml:"imap_host"`
	IMAPPort    int           `yaml:"imap_port"`
	Username    string        `yaml:"username"`
	Mailbox     string        `yaml:"mailbox"`
	SubjectAny  []string      `yaml:"subject_any"`
	MaxMessages int           `yaml:"max_messages"`
	Lookback    time.Duration `yaml:"lookback"`
}

func (s Source) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides file settings with JOBFEED_* variables.
func ApplyEnv(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = n
	}

	str("JOBFEED_LISTEN", &cfg.App.Listen)
	num("JOBFEED_PORT", &cfg.App.Port)
	str("JOBFEED_DATA_DIR", &cfg.App.DataDir)
	str("JOBFEED_LOG_LEVEL", &cfg.Log.Level)
	str("JOBFEED_STORE_DRIVER", &cfg.Store.Driver)
	str("JOBFEED_STORE_DSN", &cfg.Store.DSN)
	num("JOBFEED_TELEGRAM_APP_ID", &cfg.Telegram.AppID)
	str("JOBFEED_TELEGRAM_APP_HASH", &cfg.Telegram.AppHash)
	str("JOBFEED_TELEGRAM_SESSION", &cfg.Telegram.SessionPath)
	str("JOBFEED_REDIS_ADDR", &cfg.Redis.Addr)
	str("JOBFEED_REDIS_PASSWORD", &cfg.Redis.Password)
	str("JOBFEED_NATS_URL", &cfg.NATS.URL)
	str("JOBFEED_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}
