// Package lever polls one public Lever postings board.
package lever

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/util"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const Kind = "lever"

const defaultBaseURL = "https://api.lever.co"

type Config struct {
	Slug         string // api.lever.co/v0/postings/<slug>
	Organization string
	BaseURL      string
	UserAgent    string
	// Hydrate fetches the hosted page of postings that lack a location.
	Hydrate bool
	Workers int
}

type Adapter struct {
	id      string
	cfg     Config
	hc      *http.Client
	limiter *util.HostLimiter
	logger  *zap.Logger
}

func New(id string, cfg Config, hc *http.Client, limiter *util.HostLimiter, logger *zap.Logger) (*Adapter, error) {
	cfg.Slug = strings.TrimSpace(cfg.Slug)
	if cfg.Slug == "" {
		return nil, errors.Configuration("lever source "+id+" needs a board slug", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Organization == "" {
		cfg.Organization = cfg.Slug
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
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

type leverPosting struct {
	ID         string `json:"id"`
	Text       string `json:"text"` // title
	HostedURL  string `json:"hostedUrl"`
	CreatedAt  int64  `json:"createdAt"` // ms epoch
	Categories struct {
		Location   string `json:"location"`
		Team       string `json:"team"`
		Commitment string `json:"commitment"`
	} `json:"categories"`
	WorkplaceType    string `json:"workplaceType"`
	Description      string `json:"description"` // html
	DescriptionPlain string `json:"descriptionPlain"`
}

// Fetch returns the whole board; Lever has no incremental cursor.
func (a *Adapter) Fetch(ctx context.Context, _ string) (source.Batch, error) {
	apiURL := fmt.Sprintf("%s/v0/postings/%s?mode=json", a.cfg.BaseURL, a.cfg.Slug)

	res, err := util.Get(ctx, a.hc, a.limiter, apiURL, a.cfg.UserAgent)
	if err != nil {
		return source.Batch{}, err
	}
	defer res.Body.Close()

	var raw []json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return source.Batch{}, errors.TransientFetch("lever decode board "+a.cfg.Slug, err)
	}

	var batch source.Batch
	var thin []int
	for i, msg := range raw {
		p, err := a.posting(msg)
		if err != nil {
			batch.AddMalformed(errors.MalformedPayload(fmt.Sprintf("lever %s item %d", a.cfg.Slug, i), err))
			continue
		}
		if p.Location == "" && p.URL != "" {
			thin = append(thin, len(batch.Items))
		}
		batch.Add(p)
	}

	if a.cfg.Hydrate && len(thin) > 0 {
		a.hydrateAll(ctx, &batch, thin)
	}

	a.logger.Debug("lever board fetched",
		zap.String("slug", a.cfg.Slug),
		zap.Int("items", len(batch.Items)))
	return batch, nil
}

func (a *Adapter) posting(msg json.RawMessage) (domain.Posting, error) {
	var lp leverPosting
	if err := json.Unmarshal(msg, &lp); err != nil {
		return domain.Posting{}, err
	}
	title := util.CleanText(lp.Text)
	if lp.ID == "" || title == "" {
		return domain.Posting{}, fmt.Errorf("posting without id or title")
	}

	desc := util.CleanText(lp.DescriptionPlain)
	if desc == "" {
		desc = util.HTMLToText(lp.Description)
	}
	loc := util.NormalizeLocation(lp.Categories.Location)
	mode := util.InferWorkMode(loc+" "+lp.WorkplaceType, title, desc)

	p := domain.Posting{
		SourceID:     a.id,
		ExternalID:   fmt.Sprintf("lever:%s:%s", a.cfg.Slug, lp.ID),
		Title:        title,
		Organization: a.cfg.Organization,
		Location:     loc,
		Description:  desc,
		URL:          util.CanonicalizeURL(lp.HostedURL),
		WorkMode:     mode,
		Raw:          msg,
	}
	for _, t := range []string{lp.Categories.Team, lp.Categories.Commitment} {
		if t = util.CleanText(t); t != "" {
			p.Tags = append(p.Tags, strings.ToLower(t))
		}
	}
	if lp.CreatedAt > 0 {
		t := time.UnixMilli(lp.CreatedAt).UTC()
		p.PostedAt = &t
	}
	return p, nil
}

// hydrateAll fills missing locations from the hosted job pages. Failures
// only cost the enrichment; the posting is kept as is.
func (a *Adapter) hydrateAll(ctx context.Context, batch *source.Batch, idx []int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for _, i := range idx {
		p := &batch.Items[i].Posting
		g.Go(func() error {
			if err := a.hydrate(gctx, p); err != nil {
				a.logger.Debug("lever hydrate failed", zap.String("url", p.URL), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Adapter) hydrate(ctx context.Context, p *domain.Posting) error {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := util.Get(cctx, a.hc, a.limiter, p.URL, a.cfg.UserAgent)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return err
	}
	if loc := util.FindLocation(doc); loc != "" {
		p.Location = loc
	}
	if p.WorkMode == util.WorkModeUnknown {
		p.WorkMode = util.InferWorkMode(p.Location, p.Title, p.Description)
	}
	return nil
}
