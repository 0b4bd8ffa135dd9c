// Package smartrecruiters polls the public postings API of one
// SmartRecruiters company.
package smartrecruiters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/util"

	"go.uber.org/zap"
)

const Kind = "smartrecruiters"

const (
	defaultBaseURL = "https://api.smartrecruiters.com"
	jobsHost       = "https://jobs.smartrecruiters.com"
)

type Config struct {
	// Slug is the company identifier used in jobs.smartrecruiters.com/<slug>.
	Slug         string
	Organization string
	BaseURL      string
	UserAgent    string
	PageSize     int
	MaxItems     int
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
		return nil, errors.Configuration("smartrecruiters source "+id+" needs a company slug", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Organization == "" {
		cfg.Organization = cfg.Slug
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 5000
	}
	if hc == nil {
		hc = util.NewHTTPClient(0)
	}
	return &Adapter{id: id, cfg: cfg, hc: hc, limiter: limiter, logger: logger.With(zap.String("source", id))}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return Kind }

// { "content": [...], "totalFound": N, "offset": O, "limit": L }
type postingsResponse struct {
	Content    []json.RawMessage `json:"content"`
	TotalFound int               `json:"totalFound"`
}

type posting struct {
	ID           string    `json:"id"`
	UUID         string    `json:"uuid"`
	Name         string    `json:"name"`
	ReleasedDate time.Time `json:"releasedDate"`
	Ref          string    `json:"ref"`
	Location     struct {
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
		Remote  bool   `json:"remote"`
	} `json:"location"`
	Department struct {
		Label string `json:"label"`
	} `json:"department"`
}

// Fetch pages through every open posting. There is no incremental cursor.
func (a *Adapter) Fetch(ctx context.Context, _ string) (source.Batch, error) {
	base := fmt.Sprintf("%s/v1/companies/%s/postings", a.cfg.BaseURL, url.PathEscape(a.cfg.Slug))

	var batch source.Batch
	for offset := 0; offset < a.cfg.MaxItems; offset += a.cfg.PageSize {
		u := fmt.Sprintf("%s?limit=%d&offset=%d", base, a.cfg.PageSize, offset)
		pr, err := a.page(ctx, u)
		if err != nil {
			return source.Batch{}, err
		}
		if len(pr.Content) == 0 {
			break
		}
		for i, msg := range pr.Content {
			p, err := a.posting(msg)
			if err != nil {
				batch.AddMalformed(errors.MalformedPayload(fmt.Sprintf("smartrecruiters %s item %d", a.cfg.Slug, offset+i), err))
				continue
			}
			batch.Add(p)
		}
		if pr.TotalFound > 0 && offset+a.cfg.PageSize >= pr.TotalFound {
			break
		}
	}

	a.logger.Debug("smartrecruiters company fetched", zap.String("slug", a.cfg.Slug), zap.Int("items", len(batch.Items)))
	return batch, nil
}

func (a *Adapter) page(ctx context.Context, u string) (postingsResponse, error) {
	res, err := util.Get(ctx, a.hc, a.limiter, u, a.cfg.UserAgent)
	if err != nil {
		return postingsResponse{}, err
	}
	defer res.Body.Close()

	var pr postingsResponse
	if err := json.NewDecoder(res.Body).Decode(&pr); err != nil {
		return postingsResponse{}, errors.TransientFetch("smartrecruiters decode "+a.cfg.Slug, err)
	}
	return pr, nil
}

func (a *Adapter) posting(msg json.RawMessage) (domain.Posting, error) {
	var sp posting
	if err := json.Unmarshal(msg, &sp); err != nil {
		return domain.Posting{}, err
	}
	title := strings.TrimSpace(sp.Name)
	id := strings.TrimSpace(firstNonEmpty(sp.ID, sp.UUID, sp.Ref))
	if title == "" || id == "" {
		return domain.Posting{}, fmt.Errorf("posting without id or title")
	}

	loc := util.NormalizeLocation(strings.Join(nonEmpty(sp.Location.City, sp.Location.Region, sp.Location.Country), ", "))
	mode := util.InferWorkMode(loc, title, "")
	if sp.Location.Remote {
		mode = util.WorkModeRemote
	}

	p := domain.Posting{
		SourceID:     a.id,
		ExternalID:   fmt.Sprintf("smartrecruiters:%s:%s", a.cfg.Slug, id),
		Title:        title,
		Organization: a.cfg.Organization,
		Location:     loc,
		URL:          fmt.Sprintf("%s/%s/%s", jobsHost, a.cfg.Slug, id),
		WorkMode:     mode,
		Raw:          msg,
	}
	if dep := strings.ToLower(strings.TrimSpace(sp.Department.Label)); dep != "" {
		p.Tags = []string{dep}
	}
	if !sp.ReleasedDate.IsZero() {
		t := sp.ReleasedDate.UTC()
		p.PostedAt = &t
	}
	return p, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
