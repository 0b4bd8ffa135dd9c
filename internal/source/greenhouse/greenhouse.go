// Package greenhouse polls one Greenhouse job board through the public
// boards API.
package greenhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/util"

	"go.uber.org/zap"
)

const Kind = "greenhouse"

const defaultBaseURL = "https://boards-api.greenhouse.io"

type Config struct {
	Token        string // boards.greenhouse.io/<token>
	Organization string
	BaseURL      string
	UserAgent    string
}

type Adapter struct {
	id      string
	cfg     Config
	hc      *http.Client
	limiter *util.HostLimiter
	logger  *zap.Logger
}

func New(id string, cfg Config, hc *http.Client, limiter *util.HostLimiter, logger *zap.Logger) (*Adapter, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.Configuration("greenhouse source "+id+" needs a board token", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Organization == "" {
		cfg.Organization = cfg.Token
	}
	if hc == nil {
		hc = util.NewHTTPClient(0)
	}
	return &Adapter{
		id:      id,
		cfg:     cfg,
		hc:      hc,
		limiter: limiter,
		logger:  logger.With(zap.String("source", id)),
	}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return Kind }

type board struct {
	Jobs []json.RawMessage `json:"jobs"`
}

type ghJob struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	AbsoluteURL string `json:"absolute_url"`
	UpdatedAt   string `json:"updated_at"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
	Content     string `json:"content"` // escaped html
	Departments []struct {
		Name string `json:"name"`
	} `json:"departments"`
}

func (a *Adapter) Fetch(ctx context.Context, _ string) (source.Batch, error) {
	apiURL := fmt.Sprintf("%s/v1/boards/%s/jobs?content=true", a.cfg.BaseURL, a.cfg.Token)

	res, err := util.Get(ctx, a.hc, a.limiter, apiURL, a.cfg.UserAgent)
	if err != nil {
		return source.Batch{}, err
	}
	defer res.Body.Close()

	var b board
	if err := json.NewDecoder(res.Body).Decode(&b); err != nil {
		return source.Batch{}, errors.TransientFetch("greenhouse decode board "+a.cfg.Token, err)
	}

	var batch source.Batch
	for i, msg := range b.Jobs {
		p, err := a.posting(msg)
		if err != nil {
			batch.AddMalformed(errors.MalformedPayload(fmt.Sprintf("greenhouse %s item %d", a.cfg.Token, i), err))
			continue
		}
		batch.Add(p)
	}
	a.logger.Debug("greenhouse board fetched",
		zap.String("token", a.cfg.Token),
		zap.Int("items", len(batch.Items)))
	return batch, nil
}

func (a *Adapter) posting(msg json.RawMessage) (domain.Posting, error) {
	var j ghJob
	if err := json.Unmarshal(msg, &j); err != nil {
		return domain.Posting{}, err
	}
	id := ""
	if j.ID != 0 {
		id = strconv.FormatInt(j.ID, 10)
	} else {
		id = extractJobID(j.AbsoluteURL)
	}
	title := util.CleanText(j.Title)
	if id == "" || title == "" {
		return domain.Posting{}, fmt.Errorf("job without id or title")
	}

	desc := util.HTMLToText(html.UnescapeString(j.Content))
	loc := util.NormalizeLocation(j.Location.Name)
	p := domain.Posting{
		SourceID:     a.id,
		ExternalID:   fmt.Sprintf("greenhouse:%s:%s", a.cfg.Token, id),
		Title:        title,
		Organization: a.cfg.Organization,
		Location:     loc,
		Description:  desc,
		URL:          util.CanonicalizeURL(j.AbsoluteURL),
		WorkMode:     util.InferWorkMode(loc, title, desc),
		Raw:          msg,
	}
	for _, d := range j.Departments {
		if n := util.CleanText(d.Name); n != "" {
			p.Tags = append(p.Tags, strings.ToLower(n))
		}
	}
	if t, err := time.Parse(time.RFC3339, j.UpdatedAt); err == nil {
		t = t.UTC()
		p.PostedAt = &t
	}
	return p, nil
}

// extractJobID takes the digits after /jobs/ in a board URL.
func extractJobID(u string) string {
	parts := strings.Split(u, "/jobs/")
	if len(parts) < 2 {
		return ""
	}
	tail := parts[1]
	end := 0
	for end < len(tail) && tail[end] >= '0' && tail[end] <= '9' {
		end++
	}
	return tail[:end]
}
