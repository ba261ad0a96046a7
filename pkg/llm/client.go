// Package llm wraps the completion and embedding provider behind a small
// interface so stage executors never touch provider SDK types directly.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/stadspuls/harvester/pkg/config"
)

// ErrRateLimited indicates the provider rejected the call with a 429.
// Callers treat this as a signal to requeue at lower priority rather
// than burn the attempt budget.
var ErrRateLimited = errors.New("llm provider rate limited")

// Client is the provider surface the pipeline depends on.
type Client interface {
	// Complete runs a single-prompt completion and returns the text.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteJSON runs a completion in JSON mode and returns the raw
	// JSON text with any markdown code fence stripped.
	CompleteJSON(ctx context.Context, prompt string) (string, error)

	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	llm         *openai.LLM
	model       string
	temperature float64
}

// NewOpenAIClient builds a client from the LLM config section. The API
// key is resolved from the configured environment variable.
func NewOpenAIClient(cfg *config.LLMConfig) (*OpenAIClient, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("llm api key not set (env %s)", cfg.APIKeyEnv)
	}

	opts := []openai.Option{
		openai.WithToken(key),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	return &OpenAIClient{
		llm:         model,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Complete runs a single-prompt completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithTemperature(c.temperature))
	if err != nil {
		return "", classify(err)
	}
	return out, nil
}

// CompleteJSON runs a completion in JSON mode and strips code fences.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithTemperature(c.temperature),
		llms.WithJSONMode())
	if err != nil {
		return "", classify(err)
	}
	return StripCodeFence(out), nil
}

// Embed returns embedding vectors for the given texts.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, classify(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

// classify maps provider errors onto pipeline sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") {
		return fmt.Errorf("%w: %s", ErrRateLimited, err)
	}
	return err
}

// StripCodeFence removes a surrounding markdown code fence from model
// output. Models routinely wrap JSON in ```json fences even when asked
// not to.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line ("json", "yaml", ...).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
