// Package workday polls the JSON search endpoint behind a Workday career
// site. Many tenants want the CSRF cookie a browser receives on the board
// page, so the adapter keeps a cookie jar and bootstraps a session on
// demand.
package workday

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source"
	"jobfeed-engine/internal/source/util"

	"go.uber.org/zap"
)

const Kind = "workday"

type Config struct {
	// BoardURL is the public career site, e.g.
	// https://acme.wd5.myworkdayjobs.com/en-US/External
	BoardURL     string
	Organization string
	UserAgent    string
	PageSize     int
	MaxItems     int
}

type board struct {
	Scheme string
	Host   string
	Tenant string
	Site   string
	Locale string
}

type Adapter struct {
	id      string
	cfg     Config
	board   board
	hc      *http.Client
	limiter *util.HostLimiter
	logger  *zap.Logger

	mu   sync.Mutex
	csrf string
}

func New(id string, cfg Config, timeout time.Duration, limiter *util.HostLimiter, logger *zap.Logger) (*Adapter, error) {
	b, err := parseBoardURL(cfg.BoardURL)
	if err != nil {
		return nil, errors.Configuration("workday source "+id+" has a bad board url", err)
	}
	if cfg.Organization == "" {
		cfg.Organization = b.Tenant
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 20 {
		cfg.PageSize = 20
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 2000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0"
	}
	hc := util.NewHTTPClient(timeout)
	hc.Jar, _ = cookiejar.New(nil)

	return &Adapter{
		id:      id,
		cfg:     cfg,
		board:   b,
		hc:      hc,
		limiter: limiter,
		logger:  logger.With(zap.String("source", id)),
	}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return Kind }

type searchRequest struct {
	AppliedFacets map[string]any `json:"appliedFacets"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
	SearchText    string         `json:"searchText"`
}

type searchResponse struct {
	Total       int               `json:"total"`
	JobPostings []json.RawMessage `json:"jobPostings"`
}

type wdPosting struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	ExternalPath     string   `json:"externalPath"`
	ExternalURL      string   `json:"externalUrl"`
	LocationsText    string   `json:"locationsText"`
	Location         string   `json:"location"`
	PostedOnDate     string   `json:"postedOnDate"`
	JobReqID         string   `json:"jobRequisitionId"`
	JobRequisitionID string   `json:"jobRequisitionID"`
	BulletFields     []string `json:"bulletFields"`
}

func (a *Adapter) Fetch(ctx context.Context, _ string) (source.Batch, error) {
	var batch source.Batch
	for offset := 0; offset < a.cfg.MaxItems; offset += a.cfg.PageSize {
		sr, err := a.search(ctx, offset)
		if err != nil {
			return source.Batch{}, err
		}
		if len(sr.JobPostings) == 0 {
			break
		}
		for i, msg := range sr.JobPostings {
			p, err := a.posting(msg)
			if err != nil {
				batch.AddMalformed(errors.MalformedPayload(fmt.Sprintf("workday %s item %d", a.board.Tenant, offset+i), err))
				continue
			}
			batch.Add(p)
		}
		if sr.Total > 0 && offset+a.cfg.PageSize >= sr.Total {
			break
		}
	}
	a.logger.Debug("workday board fetched", zap.String("tenant", a.board.Tenant), zap.Int("items", len(batch.Items)))
	return batch, nil
}

// search posts one page, bootstrapping the session once when the tenant
// rejects a request without a CSRF token.
func (a *Adapter) search(ctx context.Context, offset int) (searchResponse, error) {
	payload, _ := json.Marshal(searchRequest{AppliedFacets: map[string]any{}, Limit: a.cfg.PageSize, Offset: offset})

	res, err := a.post(ctx, payload)
	if err != nil && !errors.IsConfiguration(err) {
		return searchResponse{}, err
	}
	if err != nil {
		if berr := a.bootstrap(ctx); berr != nil {
			return searchResponse{}, berr
		}
		if res, err = a.post(ctx, payload); err != nil {
			return searchResponse{}, err
		}
	}
	defer res.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return searchResponse{}, errors.TransientFetch("workday decode "+a.board.Tenant, err)
	}
	return sr, nil
}

func (a *Adapter) post(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.board.jobsEndpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Configuration("workday request", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", a.board.origin())
	req.Header.Set("Referer", strings.TrimRight(a.cfg.BoardURL, "/"))
	req.Header.Set("Accept-Language", firstNonEmpty(a.board.Locale, "en-US"))

	a.mu.Lock()
	csrf := a.csrf
	a.mu.Unlock()
	if csrf != "" {
		req.Header.Set("x-calypso-csrf-token", csrf)
	}
	return util.Do(a.hc, a.limiter, req)
}

// bootstrap loads the board page so the jar receives CALYPSO_CSRF_TOKEN.
func (a *Adapter) bootstrap(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BoardURL, nil)
	if err != nil {
		return errors.Configuration("workday board url", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	if err := a.limiter.WaitURL(ctx, a.cfg.BoardURL); err != nil {
		return errors.TransientFetch("rate limiter", err)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return errors.TransientFetch("workday bootstrap", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_, _ = io.Copy(io.Discard, resp.Body)
	if looksLikeCloudflareBlock(resp, string(preview)) {
		return errors.TransientFetch("workday host "+a.board.Host+" is behind a bot challenge", nil)
	}

	u, _ := url.Parse(a.cfg.BoardURL)
	for _, c := range a.hc.Jar.Cookies(u) {
		if c.Name == "CALYPSO_CSRF_TOKEN" && c.Value != "" {
			a.mu.Lock()
			a.csrf = c.Value
			a.mu.Unlock()
			return nil
		}
	}
	return errors.Configuration(fmt.Sprintf("workday bootstrap: no CSRF cookie (status %d)", resp.StatusCode), nil)
}

func (a *Adapter) posting(msg json.RawMessage) (domain.Posting, error) {
	var wp wdPosting
	if err := json.Unmarshal(msg, &wp); err != nil {
		return domain.Posting{}, err
	}
	title := strings.TrimSpace(wp.Title)
	jobURL := a.board.absoluteJobURL(wp)
	if title == "" || jobURL == "" {
		return domain.Posting{}, fmt.Errorf("posting without title or path")
	}

	jobID := strings.TrimSpace(firstNonEmpty(wp.JobReqID, wp.JobRequisitionID, wp.ID))
	if jobID == "" && len(wp.BulletFields) > 0 {
		jobID = strings.TrimSpace(wp.BulletFields[0])
	}
	ext := fmt.Sprintf("workday:%s:%s:%s", a.board.Tenant, a.board.Site, jobID)
	if jobID == "" {
		ext = "workday:url:" + util.CanonicalizeURL(jobURL)
	}

	loc := util.NormalizeLocation(firstNonEmpty(wp.LocationsText, wp.Location))
	return domain.Posting{
		SourceID:     a.id,
		ExternalID:   ext,
		Title:        title,
		Organization: a.cfg.Organization,
		Location:     loc,
		URL:          util.CanonicalizeURL(jobURL),
		WorkMode:     util.InferWorkMode(loc, title, ""),
		PostedAt:     parsePostedAt(wp.PostedOnDate),
		Raw:          msg,
	}, nil
}

func parseBoardURL(raw string) (board, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return board{}, fmt.Errorf("empty board url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return board{}, err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return board{}, fmt.Errorf("missing host in %q", raw)
	}

	parts := strings.Split(u.Host, ".")
	if len(parts) < 3 {
		return board{}, fmt.Errorf("unexpected host %q", u.Host)
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return board{}, fmt.Errorf("unexpected path %q", u.Path)
	}
	locale := ""
	if len(segs) >= 2 && looksLikeLocale(segs[0]) {
		locale = normalizeLocale(segs[0])
		segs = segs[1:]
	}

	return board{
		Scheme: u.Scheme,
		Host:   u.Host,
		Tenant: parts[0],
		Site:   segs[len(segs)-1],
		Locale: locale,
	}, nil
}

// en-US, en-us
func looksLikeLocale(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != '-' {
		return false
	}
	return isAlpha(s[0:2]) && isAlpha(s[3:5])
}

func normalizeLocale(s string) string {
	return strings.ToLower(s[0:2]) + "-" + strings.ToUpper(s[3:5])
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

func (b board) origin() string {
	return b.Scheme + "://" + b.Host
}

func (b board) jobsEndpoint() string {
	base := fmt.Sprintf("%s/wday/cxs/%s/%s/jobs", b.origin(), b.Tenant, b.Site)
	if b.Locale == "" {
		return base
	}
	return base + "?locale=" + url.QueryEscape(b.Locale)
}

func (b board) absoluteJobURL(p wdPosting) string {
	if p.ExternalURL != "" {
		return strings.TrimSpace(p.ExternalURL)
	}
	path := strings.TrimSpace(p.ExternalPath)
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if b.Locale != "" {
		path = "/" + b.Locale + "/" + b.Site + path
	} else {
		path = "/" + b.Site + path
	}
	return b.origin() + path
}

// parsePostedAt accepts RFC3339, YYYY-MM-DD and epoch seconds or
// milliseconds.
func parsePostedAt(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		var t time.Time
		if n >= 1_000_000_000_000 {
			t = time.UnixMilli(n).UTC()
		} else {
			t = time.Unix(n, 0).UTC()
		}
		return &t
	}
	return nil
}

func looksLikeCloudflareBlock(resp *http.Response, bodyPreview string) bool {
	server := strings.ToLower(resp.Header.Get("Server"))
	if strings.Contains(server, "cloudflare") && resp.Header.Get("CF-RAY") != "" {
		return true
	}
	low := strings.ToLower(bodyPreview)
	if strings.Contains(low, "/cdn-cgi/") ||
		(strings.Contains(low, "cloudflare") && strings.Contains(low, "checking your browser")) {
		return true
	}
	return resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
