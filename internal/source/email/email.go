// Package email polls an IMAP mailbox for job alert mail. The mailbox is
// opened read-only; progress is tracked by UID in the source cursor rather
// than by setting \Seen.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"jobfeed-engine/internal/classify"
	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/util"

	"go.uber.org/zap"
)

const Kind = "email"

const maxDesc = 20000

type Config struct {
	Addr     string // host:port, port defaults to 993
	Username string
	Password string
	Mailbox  string
	// SubjectAny restricts ingestion to mail whose subject contains one of
	// these terms (case-insensitive). Empty accepts every subject.
	SubjectAny  []string
	MaxMessages int
	Lookback    time.Duration
}

func (c Config) host() string {
	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return c.Addr
	}
	return host
}

type Adapter struct {
	id         string
	cfg        Config
	classifier classify.Classifier
	box        mailbox
	logger     *zap.Logger
}

func New(id string, cfg Config, classifier classify.Classifier, logger *zap.Logger) (*Adapter, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" || cfg.Username == "" {
		return nil, errors.Configuration("email source "+id+" needs imap addr and username", nil)
	}
	if cfg.Password == "" {
		return nil, errors.Configuration("email source "+id+" has no password (set it in the keyring or JOBFEED_EMAIL_PASSWORD)", nil)
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "993")
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 200
	}
	return &Adapter{
		id:         id,
		cfg:        cfg,
		classifier: classifier,
		box:        imapMailbox{cfg: cfg},
		logger:     logger.With(zap.String("source", id)),
	}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return Kind }

// Fetch reads the messages after the cursor. The cursor is
// "<uidvalidity>:<uid>"; a changed UIDVALIDITY means the server renumbered
// the mailbox and the scan starts over (already stored postings dedup).
func (a *Adapter) Fetch(ctx context.Context, cursor string) (source.Batch, error) {
	validity, after := parseCursor(cursor)

	gotValidity, msgs, err := a.box.Since(ctx, after, a.cfg.MaxMessages)
	if err != nil {
		return source.Batch{}, err
	}
	if validity != 0 && gotValidity != validity {
		a.logger.Warn("mailbox uidvalidity changed, rescanning",
			zap.Uint32("old", validity),
			zap.Uint32("new", gotValidity))
		if gotValidity, msgs, err = a.box.Since(ctx, 0, a.cfg.MaxMessages); err != nil {
			return source.Batch{}, err
		}
		after = 0
	}

	batch := source.Batch{}
	highest := after
	for _, m := range msgs {
		if m.UID > highest {
			highest = m.UID
		}
		p, ok, err := a.posting(gotValidity, m)
		switch {
		case err != nil:
			batch.AddMalformed(err)
		case ok:
			batch.Add(p)
		}
	}
	if gotValidity != 0 {
		batch.Cursor = fmt.Sprintf("%d:%d", gotValidity, highest)
	}
	return batch, nil
}

func (a *Adapter) posting(validity uint32, m Message) (domain.Posting, bool, error) {
	if len(m.Raw) == 0 {
		return domain.Posting{}, false, errors.MalformedPayload(fmt.Sprintf("email uid %d has no body", m.UID), nil)
	}
	msg, err := parseRFC822(m.Raw, m.Subject)
	if err != nil {
		return domain.Posting{}, false, errors.MalformedPayload(fmt.Sprintf("email uid %d", m.UID), err)
	}

	if len(a.cfg.SubjectAny) > 0 && !containsAnyCI(msg.Subject, a.cfg.SubjectAny) {
		return domain.Posting{}, false, nil
	}

	body := util.CleanText(msg.Plain)
	if body == "" {
		body = util.HTMLToText(msg.HTML)
	}
	if ok, reason := a.classifier.IsJobPost(msg.Subject + "\n" + body); !ok {
		a.logger.Debug("skipped non-job mail", zap.Uint32("uid", m.UID), zap.String("reason", reason))
		return domain.Posting{}, false, nil
	}

	fields := parseSubject(msg.Subject)
	if fields.Title == "" {
		return domain.Posting{}, false, errors.MalformedPayload(fmt.Sprintf("email uid %d has no subject", m.UID), nil)
	}
	org := fields.Company
	if org == "" {
		org = guessCompanyFromFrom(m.From)
	}

	externalID := "email:uid:" + strconv.FormatUint(uint64(validity), 10) + ":" + strconv.FormatUint(uint64(m.UID), 10)
	if msg.MessageID != "" {
		externalID = "email:" + msg.MessageID
	}

	link := firstURL(msg.Plain)
	if link == "" {
		link = firstURL(msg.HTML)
	}

	raw, _ := json.Marshal(map[string]any{
		"uid":        m.UID,
		"message_id": msg.MessageID,
		"from":       m.From,
		"subject":    msg.Subject,
		"date":       m.Date.UTC().Format(time.RFC3339),
	})

	p := domain.Posting{
		SourceID:     a.id,
		ExternalID:   externalID,
		Title:        util.Clip(fields.Title, 255),
		Organization: util.Clip(org, 255),
		Location:     fields.Location,
		Description:  util.Clip(body, maxDesc),
		URL:          util.CanonicalizeURL(link),
		WorkMode:     util.InferWorkMode(fields.Location, msg.Subject, body),
		Tags:         a.classifier.Categorize(msg.Subject + "\n" + body),
		Raw:          raw,
	}
	if !m.Date.IsZero() {
		d := m.Date.UTC()
		p.PostedAt = &d
	}
	return p, true, nil
}

func parseCursor(cursor string) (validity, uid uint32) {
	v, u, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, 0
	}
	vv, err1 := strconv.ParseUint(v, 10, 32)
	uu, err2 := strconv.ParseUint(u, 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return uint32(vv), uint32(uu)
}

func containsAnyCI(s string, any []string) bool {
	ls := strings.ToLower(s)
	for _, a := range any {
		a = strings.TrimSpace(a)
		if a != "" && strings.Contains(ls, strings.ToLower(a)) {
			return true
		}
	}
	return false
}
