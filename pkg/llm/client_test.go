package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare json untouched",
			input: `{"title": "Jazz in de Tuin"}`,
			want:  `{"title": "Jazz in de Tuin"}`,
		},
		{
			name:  "json fence with language tag",
			input: "```json\n{\"title\": \"Jazz in de Tuin\"}\n```",
			want:  `{"title": "Jazz in de Tuin"}`,
		},
		{
			name:  "fence without language tag",
			input: "```\n[1, 2, 3]\n```",
			want:  `[1, 2, 3]`,
		},
		{
			name:  "surrounding whitespace",
			input: "  \n```json\n{}\n```\n  ",
			want:  `{}`,
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.input))
		})
	}
}

func TestClassifyRateLimit(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		limited bool
	}{
		{"status code 429", errors.New("API returned unexpected status code: 429"), true},
		{"rate limit text", errors.New("Rate limit reached for requests"), true},
		{"quota text", errors.New("you exceeded your current quota"), true},
		{"server error", errors.New("API returned unexpected status code: 500"), false},
		{"network error", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.limited, errors.Is(got, ErrRateLimited))
		})
	}
}
