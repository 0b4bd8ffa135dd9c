package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

func (v Validation) Error() string {
	return "config validation failed:\n- " + strings.Join(v.Errors, "\n- ")
}

var knownKinds = map[string]bool{
	"telegram":        true,
	"telegram_web":    true,
	"lever":           true,
	"greenhouse":      true,
	"email":           true,
	"smartrecruiters": true,
	"workday":         true,
}

// NormalizeAndValidate fills defaults and returns the normalized copy.
// Errors stop the process; problems confined to one source are warnings,
// because that source is reported as misconfigured at runtime while the
// others keep running.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	trimList := func(xs []string) []string {
		seen := map[string]bool{}
		var ys []string
		for _, x := range xs {
			x = strings.TrimSpace(x)
			if x == "" {
				continue
			}
			key := strings.ToLower(x)
			if seen[key] {
				continue
			}
			seen[key] = true
			ys = append(ys, x)
		}
		return ys
	}
	durationDefault := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}

	// ---- defaults ----
	out.App.Listen = strings.TrimSpace(out.App.Listen)
	if out.App.Listen == "" {
		out.App.Listen = "127.0.0.1"
	}
	if out.App.Port == 0 {
		out.App.Port = 8080
	}
	if out.App.DataDir == "" {
		out.App.DataDir = "data"
	}
	if out.Log.Level == "" {
		out.Log.Level = "info"
	}
	out.Store.Driver = strings.ToLower(strings.TrimSpace(out.Store.Driver))
	if out.Store.Driver == "" {
		out.Store.Driver = "sqlite"
	}
	if out.Store.Driver == "sqlite" && out.Store.DSN == "" {
		out.Store.DSN = filepath.Join(out.App.DataDir, "jobfeed.db")
	}
	if out.Store.MaxConns <= 0 {
		out.Store.MaxConns = 10
	}
	durationDefault(&out.Scheduler.DefaultCadence, 5*time.Minute)
	durationDefault(&out.Scheduler.BackoffBase, 5*time.Second)
	durationDefault(&out.Scheduler.BackoffMax, 15*time.Minute)
	durationDefault(&out.Scheduler.FetchTimeout, 2*time.Minute)
	durationDefault(&out.Scheduler.ShutdownGrace, 10*time.Second)
	if out.Scheduler.StoreRetries <= 0 {
		out.Scheduler.StoreRetries = 5
	}
	durationDefault(&out.Status.MaxStaleness, 24*time.Hour)
	if out.HTTP.Burst <= 0 {
		out.HTTP.Burst = 1
	}
	durationDefault(&out.HTTP.Timeout, 20*time.Second)
	if out.Telegram.SessionPath == "" {
		out.Telegram.SessionPath = filepath.Join(out.App.DataDir, "telegram-session.json")
	}
	durationDefault(&out.Redis.LeaseTTL, 5*time.Minute)
	if out.Telemetry.ServiceName == "" {
		out.Telemetry.ServiceName = "jobfeed-engine"
	}

	out.Classify.JobKeywords = trimList(out.Classify.JobKeywords)
	out.Classify.BlockAny = trimList(out.Classify.BlockAny)

	// ---- process-level rules ----
	if out.App.Port < 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}
	switch out.Store.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(out.Store.DSN) == "" {
			res.addErr("store.dsn is required when store.driver=postgres")
		}
	default:
		res.addErr("store.driver must be sqlite or postgres, got %q", out.Store.Driver)
	}
	if out.Store.Retention < 0 {
		res.addErr("store.retention must be >= 0")
	}
	if out.Scheduler.BackoffBase > out.Scheduler.BackoffMax {
		res.addErr("scheduler.backoff_base (%s) exceeds scheduler.backoff_max (%s)", out.Scheduler.BackoffBase, out.Scheduler.BackoffMax)
	}
	for i, r := range out.Classify.Categories {
		if r.Tag == "" {
			res.addErr("classify.categories[%d].tag is required", i)
		}
		if len(r.Any) == 0 {
			res.addErr("classify.categories[%d].any must have at least 1 term", i)
		}
	}
	if out.Status.MaxStaleness < 2*out.Scheduler.DefaultCadence {
		res.addWarn("status.max_staleness (%s) is below twice the default cadence; sources will flip to error quickly", out.Status.MaxStaleness)
	}

	// ---- sources ----
	ids := map[string]bool{}
	for i := range out.Sources {
		s := &out.Sources[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		s.Channels = trimList(s.Channels)
		s.SubjectAny = trimList(s.SubjectAny)

		if s.ID == "" {
			res.addErr("sources[%d].id is required", i)
			continue
		}
		if ids[s.ID] {
			res.addErr("sources[%d].id %q is duplicated", i, s.ID)
		}
		ids[s.ID] = true

		if s.Cadence <= 0 {
			s.Cadence = out.Scheduler.DefaultCadence
		} else if s.Cadence < 10*time.Second && s.Kind != "telegram" {
			res.addWarn("source %s: cadence %s is very low and may cause rate limits", s.ID, s.Cadence)
		}

		if !knownKinds[s.Kind] {
			res.addWarn("source %s: unknown kind %q", s.ID, s.Kind)
			continue
		}
		if !s.IsEnabled() {
			continue
		}
		switch s.Kind {
		case "telegram":
			if out.Telegram.AppID == 0 || out.Telegram.AppHash == "" {
				res.addWarn("source %s: telegram.app_id/app_hash are not set", s.ID)
			}
		case "telegram_web":
			if s.Channel == "" {
				res.addWarn("source %s: channel is required", s.ID)
			}
		case "lever", "smartrecruiters":
			if s.Slug == "" {
				res.addWarn("source %s: slug is required", s.ID)
			}
		case "greenhouse":
			if s.Token == "" {
				res.addWarn("source %s: token is required", s.ID)
			}
		case "workday":
			if s.BoardURL == "" {
				res.addWarn("source %s: board_url is required", s.ID)
			}
		case "email":
			if s.IMAPHost == "" || s.Username == "" {
				res.addWarn("source %s: imap_host and username are required", s.ID)
			}
			if len(s.SubjectAny) == 0 {
				res.addWarn("source %s: subject_any is empty; every job-like mail is ingested", s.ID)
			}
		}
	}
	if len(out.Sources) == 0 {
		res.addWarn("no sources configured; status will always be connected")
	}

	return out, res
}
