package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
)

// DynamicFetcher renders pages through a remote browser service with a
// scrapingbee-style HTTP API: one GET per page, target URL and options as
// query parameters, rendered HTML as the response body.
type DynamicFetcher struct {
	client      *http.Client
	rendererURL string
	rendererKey string
}

// NewDynamicFetcher builds the dynamic fetcher. Returns nil when no
// renderer endpoint is configured; callers treat a nil fetcher as
// failover-disabled.
func NewDynamicFetcher(cfg *config.FetchConfig) *DynamicFetcher {
	if cfg.RendererURL == "" {
		return nil
	}
	return &DynamicFetcher{
		client: &http.Client{
			Timeout: cfg.DynamicTimeout,
		},
		rendererURL: cfg.RendererURL,
		rendererKey: cfg.RendererKey,
	}
}

// Fetch renders one URL. useProxy routes the render through the service's
// residential proxy pool for hosts that block datacenter traffic.
func (f *DynamicFetcher) Fetch(ctx context.Context, target string, useProxy bool) (*Result, error) {
	q := url.Values{}
	q.Set("api_key", f.rendererKey)
	q.Set("url", target)
	q.Set("render_js", "true")
	q.Set("wait", "2000")
	if useProxy {
		q.Set("premium_proxy", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.rendererURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid renderer request for %q: %w", target, err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: renderer: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading rendered body: %s", ErrUnavailable, err)
	}

	// The renderer relays the origin status; its own 429/5xx means the
	// render service is saturated, which is a transport failure for us.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: renderer returned %d", ErrUnavailable, resp.StatusCode)
	}

	return &Result{
		URL:        target,
		FinalURL:   target,
		StatusCode: resp.StatusCode,
		Body:       body,
		Dynamic:    true,
		Elapsed:    time.Since(start),
	}, nil
}
