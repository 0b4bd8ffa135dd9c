// Package tgweb polls the public web preview of a Telegram channel
// (t.me/s/<channel>). It needs no credentials and works for any public
// channel, at the cost of seeing only the most recent page of posts.
package tgweb

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/tgtext"
	"jobfeed-engine/internal/source/util"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const Kind = "telegram_web"

const defaultBaseURL = "https://t.me"

type Config struct {
	Channel   string
	BaseURL   string
	UserAgent string
}

type Adapter struct {
	id      string
	cfg     Config
	parser  tgtext.Parser
	hc      *http.Client
	limiter *util.HostLimiter
	logger  *zap.Logger
}

func New(id string, cfg Config, parser tgtext.Parser, hc *http.Client, limiter *util.HostLimiter, logger *zap.Logger) (*Adapter, error) {
	cfg.Channel = strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "@")
	if cfg.Channel == "" {
		return nil, errors.Configuration("telegram_web source "+id+" needs a channel", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if hc == nil {
		hc = util.NewHTTPClient(0)
	}
	return &Adapter{
		id:      id,
		cfg:     cfg,
		parser:  parser,
		hc:      hc,
		limiter: limiter,
		logger:  logger.With(zap.String("source", id)),
	}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return Kind }

// Fetch returns the posts newer than cursor, the highest message id seen
// so far. The returned cursor never moves backwards.
func (a *Adapter) Fetch(ctx context.Context, cursor string) (source.Batch, error) {
	after := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			a.logger.Warn("ignoring unreadable cursor", zap.String("cursor", cursor))
		} else {
			after = n
		}
	}

	pageURL := fmt.Sprintf("%s/s/%s", a.cfg.BaseURL, a.cfg.Channel)
	res, err := util.Get(ctx, a.hc, a.limiter, pageURL, a.cfg.UserAgent)
	if err != nil {
		return source.Batch{}, err
	}
	defer res.Body.Close()

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return source.Batch{}, errors.TransientFetch("parse "+pageURL, err)
	}

	title := util.CleanText(doc.Find(".tgme_channel_info_header_title").First().Text())
	highest := after
	batch := source.Batch{}

	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, s *goquery.Selection) {
		post, _ := s.Attr("data-post")
		id, err := messageID(post)
		if err != nil {
			batch.AddMalformed(errors.MalformedPayload("telegram_web post "+post, err))
			return
		}
		if id <= after {
			return
		}
		if id > highest {
			highest = id
		}

		m := tgtext.Message{
			Channel:      a.cfg.Channel,
			ChannelTitle: title,
			ID:           id,
			Text:         messageText(s.Find(".tgme_widget_message_text").First()),
			Views:        parseCount(s.Find(".tgme_widget_message_views").First().Text()),
		}
		if dt, ok := s.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				m.Date = t.UTC()
			}
		}

		p, ok, err := a.parser.Parse(a.id, m)
		switch {
		case err != nil:
			batch.AddMalformed(err)
		case ok:
			batch.Add(p)
		}
	})

	if highest > 0 {
		batch.Cursor = strconv.Itoa(highest)
	}
	a.logger.Debug("telegram_web page fetched",
		zap.String("channel", a.cfg.Channel),
		zap.Int("after", after),
		zap.Int("items", len(batch.Items)))
	return batch, nil
}

// messageID reads the id out of a data-post attribute ("channel/123").
func messageID(post string) (int, error) {
	i := strings.LastIndex(post, "/")
	if i < 0 {
		return 0, fmt.Errorf("unexpected data-post %q", post)
	}
	id, err := strconv.Atoi(post[i+1:])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("unexpected data-post %q", post)
	}
	return id, nil
}

// messageText keeps line breaks, which the title heuristics rely on.
func messageText(s *goquery.Selection) string {
	s.Find("br").ReplaceWithHtml("\n")
	var lines []string
	for _, l := range strings.Split(s.Text(), "\n") {
		lines = append(lines, util.CleanText(l))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// parseCount reads view counters such as "980", "1.2K" or "3M".
func parseCount(s string) int {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(v * mult)
}
