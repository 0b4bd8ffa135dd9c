package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobfeed-engine/internal/errors"
)

const DefaultUserAgent = "jobfeed/1.0 (+local)"

func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Get issues a rate-limited GET and returns the open response. Status codes
// are mapped onto the error taxonomy: 404, 401 and 403 mean the source is
// pointed at something that does not exist (Configuration); 429, 5xx and
// transport failures are TransientFetch.
func Get(ctx context.Context, hc *http.Client, limiter *HostLimiter, url, userAgent string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Configuration("bad source url "+url, err)
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	return Do(hc, limiter, req)
}

// Do sends req after waiting on the host limiter and maps the status the
// same way Get does.
func Do(hc *http.Client, limiter *HostLimiter, req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	if err := limiter.WaitURL(req.Context(), url); err != nil {
		return nil, errors.TransientFetch("rate limiter", err)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}

	res, err := hc.Do(req)
	if err != nil {
		return nil, errors.TransientFetch(req.Method+" "+url, err)
	}
	switch {
	case res.StatusCode == http.StatusNotFound,
		res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusForbidden:
		drain(res)
		return nil, errors.Configuration(fmt.Sprintf("%s %s: status %d", req.Method, url, res.StatusCode), nil)
	case res.StatusCode >= 400:
		drain(res)
		return nil, errors.TransientFetch(fmt.Sprintf("%s %s: status %d", req.Method, url, res.StatusCode), nil)
	}
	return res, nil
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()
}
