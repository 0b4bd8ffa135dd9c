package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadParsesDurations(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yml", `
scheduler:
  backoff_base: 2s
  backoff_max: 1m
sources:
  - id: a
    kind: lever
    slug: acme
    cadence: 90s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.BackoffBase != 2*time.Second || cfg.Scheduler.BackoffMax != time.Minute {
		t.Fatalf("backoff = %s/%s", cfg.Scheduler.BackoffBase, cfg.Scheduler.BackoffMax)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Cadence != 90*time.Second {
		t.Fatalf("sources = %+v", cfg.Sources)
	}
}

func TestSampleConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yml"))
	if err != nil {
		t.Fatal(err)
	}
	_, res := NormalizeAndValidate(cfg)
	if !res.OK() {
		t.Fatalf("sample config invalid: %v", res.Errors)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	var cfg Config
	cfg.Sources = []Source{{ID: " lever-acme ", Kind: "Lever", Slug: "acme"}}

	out, res := NormalizeAndValidate(cfg)
	if !res.OK() {
		t.Fatalf("errors: %v", res.Errors)
	}
	if out.Store.Driver != "sqlite" || out.Store.DSN != filepath.Join("data", "jobfeed.db") {
		t.Fatalf("store = %+v", out.Store)
	}
	s := out.Sources[0]
	if s.ID != "lever-acme" || s.Kind != "lever" || s.Cadence != 5*time.Minute {
		t.Fatalf("source = %+v", s)
	}
	if !s.IsEnabled() {
		t.Fatal("sources are enabled by default")
	}
}

func TestValidationErrorsAndWarnings(t *testing.T) {
	var cfg Config
	cfg.Store.Driver = "postgres"
	cfg.Scheduler.BackoffBase = time.Hour
	cfg.Scheduler.BackoffMax = time.Minute
	cfg.Sources = []Source{
		{ID: "a", Kind: "lever"},
		{ID: "a", Kind: "greenhouse", Token: "x"},
		{ID: "b", Kind: "carrier-pigeon"},
	}

	_, res := NormalizeAndValidate(cfg)
	if res.OK() {
		t.Fatal("expected errors")
	}
	joined := strings.Join(res.Errors, "\n")
	for _, want := range []string{"store.dsn", "backoff_base", "duplicated"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing error about %s in %q", want, joined)
		}
	}
	warns := strings.Join(res.Warnings, "\n")
	for _, want := range []string{"slug is required", "unknown kind"} {
		if !strings.Contains(warns, want) {
			t.Errorf("missing warning about %s in %q", want, warns)
		}
	}
	if !strings.Contains(res.Error(), "store.dsn") {
		t.Fatalf("Error() = %q", res.Error())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", "JOBFEED_STORE_DRIVER=postgres\nJOBFEED_TELEGRAM_APP_ID=42\n")
	t.Setenv("JOBFEED_STORE_DSN", "postgres://localhost/jobfeed")
	// godotenv never overrides variables already present.
	t.Setenv("JOBFEED_STORE_DRIVER", "")
	os.Unsetenv("JOBFEED_STORE_DRIVER")
	t.Setenv("JOBFEED_TELEGRAM_APP_ID", "")
	os.Unsetenv("JOBFEED_TELEGRAM_APP_ID")

	if err := LoadEnvFile(env); err != nil {
		t.Fatal(err)
	}
	var cfg Config
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/jobfeed" || cfg.Telegram.AppID != 42 {
		t.Fatalf("cfg = %+v %+v", cfg.Store, cfg.Telegram)
	}

	t.Setenv("JOBFEED_PORT", "eighty")
	if err := ApplyEnv(&cfg); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestLoadEnvFileMissingIsFine(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureUserConfigCopiesOnce(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "default.yml", "app:\n  port: 9000\n")
	data := filepath.Join(dir, "data")

	p, err := EnsureUserConfig(data, def)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("app:\n  port: 9100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := EnsureUserConfig(data, def); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.App.Port != 9100 {
		t.Fatalf("user config overwritten, port = %d", cfg.App.Port)
	}
}
