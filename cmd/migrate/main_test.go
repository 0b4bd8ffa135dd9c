package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestRunMigratesSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yml")
	body := "app:\n  data_dir: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)

	for i := 0; i < 2; i++ {
		if err := run(cfgPath, "", logger); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "jobfeed.db")); err != nil {
		t.Fatalf("database not created: %v", err)
	}
}
