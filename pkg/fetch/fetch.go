// Package fetch retrieves source pages. A static HTTP fetcher handles the
// common case; a remote rendering service takes over when a source needs
// JavaScript or keeps failing. The failover decision lives in Session and
// is one-way for the lifetime of a scrape run.
package fetch

import (
	"errors"
	"time"
)

// Sentinel errors for fetch outcomes.
var (
	// ErrBlocked indicates the host answered but refused us (403, 429,
	// challenge page). Counts toward failover.
	ErrBlocked = errors.New("fetch blocked by host")

	// ErrUnavailable indicates a transport-level failure (DNS, timeout,
	// connection reset). Counts toward failover.
	ErrUnavailable = errors.New("fetch transport failure")

	// ErrRendererDisabled indicates dynamic fetching was required but no
	// renderer is configured.
	ErrRendererDisabled = errors.New("dynamic renderer not configured")
)

// Result is a completed page retrieval. StatusCode is always set when the
// host answered; HTTP errors are results, not Go errors, so the caller
// decides what a 404 listing page means.
type Result struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Dynamic    bool
	Elapsed    time.Duration
}

// OK reports whether the response status is usable page content.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 400
}

// Blocked reports whether the host actively refused the request.
func (r *Result) Blocked() bool {
	switch r.StatusCode {
	case 403, 407, 429, 503:
		return true
	}
	return false
}
