package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/fx"
)

type fakeShutdowner struct{ calls int }

func (f *fakeShutdowner) Shutdown(...fx.ShutdownOption) error {
	f.calls++
	return nil
}

func TestShutdownHandler(t *testing.T) {
	cases := []struct {
		name, method, remote, token string
		want, calls                 int
	}{
		{"ok", http.MethodPost, "127.0.0.1:5000", "s3cret", http.StatusOK, 1},
		{"wrong method", http.MethodGet, "127.0.0.1:5000", "s3cret", http.StatusMethodNotAllowed, 0},
		{"remote caller", http.MethodPost, "10.0.0.8:5000", "s3cret", http.StatusForbidden, 0},
		{"bad token", http.MethodPost, "[::1]:5000", "nope", http.StatusUnauthorized, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sd := &fakeShutdowner{}
			req := httptest.NewRequest(tc.method, "/shutdown", nil)
			req.RemoteAddr = tc.remote
			req.Header.Set("X-Shutdown-Token", tc.token)
			rec := httptest.NewRecorder()

			shutdownHandler("s3cret", sd)(rec, req)
			if rec.Code != tc.want || sd.calls != tc.calls {
				t.Fatalf("code=%d calls=%d, want %d/%d", rec.Code, sd.calls, tc.want, tc.calls)
			}
		})
	}
}

func TestListenAddrFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	body := "app:\n  data_dir: " + filepath.Join(dir, "data") + "\n  port: 9090\nsources: []\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JOBFEED_LISTEN", "0.0.0.0")

	cfg, _, err := loadConfig(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := listenAddr(cfg); got != "0.0.0.0:9090" {
		t.Fatalf("listen address = %q", got)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	body := "app:\n  data_dir: " + filepath.Join(dir, "data") + "\nsources: []\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, warnings, err := loadConfig(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Port != 8080 || cfg.Store.Driver != "sqlite" {
		t.Fatalf("defaults not applied: %+v", cfg.App)
	}
	if got := listenAddr(cfg); got != "127.0.0.1:8080" {
		t.Fatalf("default listen address = %q", got)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for an empty source list")
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
}
