// Package registry turns configured sources into adapters.
package registry

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jobfeed-engine/internal/classify"
	"jobfeed-engine/internal/config"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/secrets"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/email"
	"jobfeed-engine/internal/source/greenhouse"
	"jobfeed-engine/internal/source/lever"
	"jobfeed-engine/internal/source/smartrecruiters"
	"jobfeed-engine/internal/source/telegram"
	"jobfeed-engine/internal/source/tgtext"
	"jobfeed-engine/internal/source/tgweb"
	"jobfeed-engine/internal/source/util"
	"jobfeed-engine/internal/source/workday"

	"go.uber.org/zap"
)

type Entry struct {
	Adapter source.Adapter
	Cadence time.Duration
}

// Lookup resolves a secret by keychain account with an environment
// fallback; secrets.Lookup in production.
type Lookup func(account, envKey string) (string, error)

type Deps struct {
	Logger  *zap.Logger
	HTTP    *http.Client
	Limiter *util.HostLimiter
	Secrets Lookup
}

// Build returns one entry per enabled source, in configuration order. A
// source whose adapter cannot be constructed is still returned, as a
// source.Misconfigured, so it is scheduled and reported instead of taking
// the engine down.
func Build(cfg config.Config, deps Deps) []Entry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HTTP == nil {
		deps.HTTP = util.NewHTTPClient(cfg.HTTP.Timeout)
	}
	if deps.Secrets == nil {
		deps.Secrets = secrets.Lookup
	}
	classifier := classify.New(cfg.Classify.JobKeywords, cfg.Classify.Categories, cfg.Classify.BlockAny)
	parser := tgtext.Parser{Classifier: classifier}

	var out []Entry
	for _, sc := range cfg.Sources {
		if !sc.IsEnabled() {
			deps.Logger.Info("source disabled", zap.String("source", sc.ID))
			continue
		}
		a, err := build(cfg, sc, deps, classifier, parser)
		if err != nil {
			deps.Logger.Error("source misconfigured",
				zap.String("source", sc.ID),
				zap.String("kind", sc.Kind),
				zap.Error(err))
			a = source.Misconfigured{SourceID: sc.ID, SourceKind: sc.Kind, Err: err}
		}
		out = append(out, Entry{Adapter: a, Cadence: sc.Cadence})
	}
	return out
}

func build(cfg config.Config, sc config.Source, deps Deps, classifier classify.Classifier, parser tgtext.Parser) (source.Adapter, error) {
	ua := cfg.HTTP.UserAgent
	switch sc.Kind {
	case telegram.Kind:
		hash := strings.TrimSpace(cfg.Telegram.AppHash)
		if hash == "" && cfg.Telegram.AppID != 0 {
			hash, _ = deps.Secrets(secrets.TelegramAccount(cfg.Telegram.AppID), "JOBFEED_TELEGRAM_APP_HASH")
		}
		return telegram.New(sc.ID, telegram.Config{
			AppID:         cfg.Telegram.AppID,
			AppHash:       hash,
			SessionPath:   cfg.Telegram.SessionPath,
			Channels:      sc.Channels,
			BatchSize:     sc.BatchSize,
			BackfillLimit: sc.BackfillLimit,
			Heartbeat:     sc.Cadence,
		}, parser, deps.Logger)

	case tgweb.Kind:
		return tgweb.New(sc.ID, tgweb.Config{
			Channel:   sc.Channel,
			BaseURL:   sc.BaseURL,
			UserAgent: ua,
		}, parser, deps.HTTP, deps.Limiter, deps.Logger)

	case lever.Kind:
		return lever.New(sc.ID, lever.Config{
			Slug:         sc.Slug,
			Organization: sc.Organization,
			BaseURL:      sc.BaseURL,
			UserAgent:    ua,
			Hydrate:      sc.Hydrate,
		}, deps.HTTP, deps.Limiter, deps.Logger)

	case greenhouse.Kind:
		return greenhouse.New(sc.ID, greenhouse.Config{
			Token:        sc.Token,
			Organization: sc.Organization,
			BaseURL:      sc.BaseURL,
			UserAgent:    ua,
		}, deps.HTTP, deps.Limiter, deps.Logger)

	case smartrecruiters.Kind:
		return smartrecruiters.New(sc.ID, smartrecruiters.Config{
			Slug:         sc.Slug,
			Organization: sc.Organization,
			BaseURL:      sc.BaseURL,
			UserAgent:    ua,
		}, deps.HTTP, deps.Limiter, deps.Logger)

	case workday.Kind:
		return workday.New(sc.ID, workday.Config{
			BoardURL:     sc.BoardURL,
			Organization: sc.Organization,
			UserAgent:    ua,
		}, cfg.HTTP.Timeout, deps.Limiter, deps.Logger)

	case email.Kind:
		addr := sc.IMAPHost
		if sc.IMAPPort != 0 && addr != "" && !strings.Contains(addr, ":") {
			addr = net.JoinHostPort(addr, strconv.Itoa(sc.IMAPPort))
		}
		pw, err := deps.Secrets(secrets.IMAPAccount(sc.Username, sc.IMAPHost), "JOBFEED_EMAIL_PASSWORD")
		if err != nil {
			return nil, err
		}
		return email.New(sc.ID, email.Config{
			Addr:        addr,
			Username:    sc.Username,
			Password:    pw,
			Mailbox:     sc.Mailbox,
			SubjectAny:  sc.SubjectAny,
			MaxMessages: sc.MaxMessages,
			Lookback:    sc.Lookback,
		}, classifier, deps.Logger)
	}
	return nil, errors.Configuration("unknown source kind "+sc.Kind, nil)
}
