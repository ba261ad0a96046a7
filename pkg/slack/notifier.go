// Package slack posts operational notifications to a Slack webhook. The
// notifier is nil-safe: a missing webhook disables it and every call
// becomes a no-op, so callers never guard.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	slackapi "github.com/slack-go/slack"

	"github.com/stadspuls/harvester/pkg/config"
)

// Notifier posts pipeline notifications. A nil *Notifier is valid.
type Notifier struct {
	webhookURL string
	channel    string
}

// NewNotifier builds a notifier from config. Returns nil when Slack is
// disabled or no webhook is configured.
func NewNotifier(cfg *config.Config) *Notifier {
	if cfg.Slack == nil || !cfg.Slack.Enabled {
		return nil
	}
	url := cfg.SlackWebhookURL()
	if url == "" {
		slog.Warn("Slack enabled but webhook env var is empty, notifications disabled")
		return nil
	}
	return &Notifier{webhookURL: url, channel: cfg.Slack.Channel}
}

// HealingApplied announces an accepted selector recipe.
func (n *Notifier) HealingApplied(ctx context.Context, sourceName string, newMatches int, confidence float64) {
	n.post(ctx, fmt.Sprintf(":wrench: Healed selectors for *%s*: %d matches (confidence %.2f)",
		sourceName, newMatches, confidence))
}

// HealingRejected announces a healing attempt that failed validation.
func (n *Notifier) HealingRejected(ctx context.Context, sourceName, reason string) {
	n.post(ctx, fmt.Sprintf(":warning: Healing rejected for *%s*: %s", sourceName, reason))
}

// SourceQuarantined announces a source taken out of rotation.
func (n *Notifier) SourceQuarantined(ctx context.Context, sourceName string, failures int) {
	n.post(ctx, fmt.Sprintf(":rotating_light: Source *%s* quarantined after %d consecutive failures",
		sourceName, failures))
}

// PipelineError announces an operational error worth a human look.
func (n *Notifier) PipelineError(ctx context.Context, component string, err error) {
	n.post(ctx, fmt.Sprintf(":x: %s: %v", component, err))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if n == nil {
		return
	}
	msg := &slackapi.WebhookMessage{Text: text, Channel: n.channel}
	if err := slackapi.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		slog.Warn("Failed to post Slack notification", "error", err)
	}
}
