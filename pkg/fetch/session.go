package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

// Session is the per-source-run failover state machine. It starts on the
// source's declared strategy and switches to the dynamic renderer after
// FailoverThreshold transient failures. The switch is one-way: once a run
// has gone dynamic it stays dynamic, because a host that just blocked the
// static client will block it again next page.
type Session struct {
	cfg     *config.FetchConfig
	static  *StaticFetcher
	dynamic *DynamicFetcher
	limiter *HostLimiter
	source  *models.Source

	useDynamic bool
	transient  int
}

// NewSession opens a fetch session for one source run.
func NewSession(cfg *config.FetchConfig, static *StaticFetcher, dynamic *DynamicFetcher, limiter *HostLimiter, source *models.Source) *Session {
	s := &Session{
		cfg:     cfg,
		static:  static,
		dynamic: dynamic,
		limiter: limiter,
		source:  source,
	}
	// use_proxy and the dynamic strategies skip the static ladder entirely.
	if source.UseProxy || source.FetchStrategy.Dynamic() {
		s.useDynamic = true
	}
	return s
}

// Dynamic reports whether the session has switched to the renderer.
func (s *Session) Dynamic() bool { return s.useDynamic }

// Fetch retrieves one URL, honoring the host limiter and retrying with
// exponential backoff. Transport failures and blocked statuses count
// toward the failover threshold; crossing it switches to the renderer and
// grants it an attempt of its own, even when the static ladder has just
// spent the whole retry budget. All later pages go through the renderer.
func (s *Session) Fetch(ctx context.Context, url string) (*Result, error) {
	delay := time.Duration(s.source.RateLimitMS) * time.Millisecond

	var lastErr error
	attempts := s.cfg.RetryMaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.limiter.Wait(ctx, url, delay); err != nil {
			return nil, err
		}

		result, err := s.fetchOnce(ctx, url)
		if err == nil && !result.Blocked() {
			s.transient = 0
			return result, nil
		}

		if err == nil {
			err = ErrBlocked
		}
		lastErr = err
		if s.noteTransient(url, err) {
			attempts++
		}

		if attempt < attempts {
			if werr := s.backoff(ctx, attempt); werr != nil {
				return nil, werr
			}
		}
	}
	return nil, lastErr
}

// fetchOnce dispatches to the active fetcher.
func (s *Session) fetchOnce(ctx context.Context, url string) (*Result, error) {
	if s.useDynamic {
		if s.dynamic == nil {
			return nil, ErrRendererDisabled
		}
		return s.dynamic.Fetch(ctx, url, s.source.UseProxy)
	}
	return s.static.Fetch(ctx, url, s.source.Language)
}

// noteTransient counts a failure and flips to dynamic at the threshold.
// Reports whether this call performed the flip, so the caller can extend
// the retry budget for the renderer's first attempt.
func (s *Session) noteTransient(url string, err error) bool {
	s.transient++
	if s.useDynamic || s.transient < s.cfg.FailoverThreshold {
		return false
	}
	if s.dynamic == nil {
		slog.Warn("Failover threshold reached but no renderer configured",
			"source_id", s.source.ID, "url", url, "failures", s.transient)
		return false
	}
	s.useDynamic = true
	slog.Info("Switching source run to dynamic renderer",
		"source_id", s.source.ID, "url", url,
		"failures", s.transient, "last_error", err)
	return true
}

// backoff sleeps base × 2^(attempt-1) capped at the configured max.
func (s *Session) backoff(ctx context.Context, attempt int) error {
	d := s.cfg.RetryBaseDelay << (attempt - 1)
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transient classifies an error from Fetch for queue failure accounting.
// Renderer misconfiguration is permanent; everything else is retryable.
func Transient(err error) bool {
	return !errors.Is(err, ErrRendererDisabled)
}
