// Package embedder produces the fixed-width event vectors. Embedding is
// never on the critical path: a provider failure persists the event
// without a vector and the background sweep fills it in later.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stadspuls/harvester/pkg/llm"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/store"
)

// maxComposeChars caps the text sent to the embedding provider.
const maxComposeChars = 8000

// Embedder turns events into vectors of models.EmbeddingDim width.
type Embedder struct {
	client llm.Client
	events *store.EventStore
}

// NewEmbedder creates an Embedder. client may be nil, which disables
// embedding entirely.
func NewEmbedder(client llm.Client, events *store.EventStore) *Embedder {
	return &Embedder{client: client, events: events}
}

// ComposeText builds the embedding input for an event.
func ComposeText(e *models.Event) string {
	parts := []string{
		e.Title,
		e.Description,
		e.VenueName,
		e.VenueAddress,
		string(e.Category),
		strings.Join(e.Tags, " "),
	}
	var kept []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	text := strings.Join(kept, " | ")
	if len(text) > maxComposeChars {
		text = text[:maxComposeChars]
	}
	return text
}

// PadVector zero-pads a provider vector to the fixed storage width.
// Overlong vectors are truncated; providers should never produce them,
// but a misconfigured model must not corrupt the column.
func PadVector(v []float32) []float32 {
	if len(v) == models.EmbeddingDim {
		return v
	}
	out := make([]float32, models.EmbeddingDim)
	copy(out, v)
	return out
}

// Embed computes the vector for one event in place. Returns an error only
// for the caller's logging; the event stays valid without a vector.
func (e *Embedder) Embed(ctx context.Context, event *models.Event) error {
	if e.client == nil {
		return nil
	}
	text := ComposeText(event)
	if text == "" {
		return nil
	}

	vectors, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding failed for event %s: %w", event.ID, err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("embedding provider returned no vector for event %s", event.ID)
	}
	event.Embedding = PadVector(vectors[0])
	return nil
}

// SweepMissing re-embeds up to limit events that were persisted without a
// vector. Returns the number embedded.
func (e *Embedder) SweepMissing(ctx context.Context, limit int) (int, error) {
	if e.client == nil {
		return 0, nil
	}
	events, err := e.events.MissingEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}

	embedded := 0
	for i := range events {
		event := &events[i]
		if err := e.Embed(ctx, event); err != nil {
			slog.Warn("Re-embed sweep failed for event", "event_id", event.ID, "error", err)
			continue
		}
		if event.Embedding == nil {
			continue
		}
		if err := e.events.SetEmbedding(ctx, event.ID, event.Embedding); err != nil {
			return embedded, err
		}
		embedded++
	}
	return embedded, nil
}
