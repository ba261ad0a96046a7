package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/stadspuls/harvester/pkg/config"
)

// maxBodyBytes caps how much of a response we read. Listing pages larger
// than this are truncated; the extractor only ever sees the first chunk.
const maxBodyBytes = 10 << 20

// StaticFetcher retrieves pages with a plain HTTP client and browser-like
// headers. It never follows more than the default redirect chain and
// returns HTTP error statuses as results, not errors.
type StaticFetcher struct {
	client    *http.Client
	userAgent string
}

// NewStaticFetcher builds the static fetcher from config.
func NewStaticFetcher(cfg *config.FetchConfig) *StaticFetcher {
	return &StaticFetcher{
		client: &http.Client{
			Timeout: cfg.StaticTimeout,
		},
		userAgent: cfg.UserAgent,
	}
}

// Fetch retrieves one URL. language biases the Accept-Language header to
// the source's declared language; empty defaults to Dutch.
func (f *StaticFetcher) Fetch(ctx context.Context, url, language string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch url %q: %w", url, err)
	}
	setBrowserHeaders(req, f.userAgent, language)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %s", ErrUnavailable, err)
	}

	return &Result{
		URL:        url,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
		Elapsed:    time.Since(start),
	}, nil
}

// decodeBody reads the response transcoded to UTF-8. Older municipal
// sites still serve ISO-8859-1; without this, diacritics in titles and
// venue names arrive mangled and break content hashing.
func decodeBody(r io.Reader, contentType string) ([]byte, error) {
	decoded, err := charset.NewReader(r, contentType)
	if err != nil {
		return io.ReadAll(r)
	}
	return io.ReadAll(decoded)
}

// setBrowserHeaders makes the request look like an ordinary browser tab.
// Several municipal sites serve empty listings to bare Go user agents,
// and some localize the listing by Accept-Language.
func setBrowserHeaders(req *http.Request, userAgent, language string) {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", acceptLanguage(language))
	req.Header.Set("Cache-Control", "no-cache")
}

// acceptLanguage builds an Accept-Language value biased to the source's
// declared language, with English as the common fallback.
func acceptLanguage(language string) string {
	switch language {
	case "", "nl":
		return "nl-NL,nl;q=0.9,en;q=0.8"
	case "en":
		return "en-US,en;q=0.9,nl;q=0.8"
	case "de":
		return "de-DE,de;q=0.9,en;q=0.8,nl;q=0.7"
	default:
		return language + ";q=0.9,en;q=0.8"
	}
}
