package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/llm"
	"github.com/stadspuls/harvester/pkg/models"
)

// AIStrategy is the extraction fallback of last resort: hand the model a
// truncated slice of the page and ask for a strict JSON card array. Cards
// with dates outside the target years are rejected — models routinely
// hallucinate last year's edition of a recurring event.
type AIStrategy struct {
	Client llm.Client
	Cfg    *config.ExtractConfig
}

func (s *AIStrategy) Method() models.ParsingMethod { return models.MethodAIFallback }

const aiExtractPrompt = `You extract public event listings from raw HTML.
Return ONLY a JSON object of the form {"events": [...]}. Each event has:
"title" (string, required), "date" (string, raw as written on the page,
required), "time" (string, optional), "location" (string, optional),
"description" (string, optional), "detail_url" (string, optional),
"image_url" (string, optional), "category" (string, optional, exactly one
of: %s).
Keep titles and descriptions in the language of the page; never translate.
Only include real upcoming events. Do not invent events, dates, or venues.
If the page contains no events, return {"events": []}.

Source: %s
Page URL: %s

HTML:
%s`

func (s *AIStrategy) Extract(ctx context.Context, page *Page) ([]models.RawEventCard, error) {
	if s.Client == nil {
		return nil, nil
	}

	html := page.HTML
	if max := s.Cfg.AITruncateBytes; max > 0 && len(html) > max {
		html = html[:max]
	}

	out, err := s.Client.CompleteJSON(ctx,
		fmt.Sprintf(aiExtractPrompt, categoryKeys(), page.Source.Name, page.URL, html))
	if err != nil {
		return nil, fmt.Errorf("ai extraction for %s: %w", page.URL, err)
	}

	var payload struct {
		Events []models.RawEventCard `json:"events"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(out)), &payload); err != nil {
		return nil, fmt.Errorf("ai extraction returned invalid JSON: %w", err)
	}

	years := s.targetYears()
	var cards []models.RawEventCard
	for _, card := range payload.Events {
		if card.Title == "" || card.Date == "" {
			continue
		}
		if year, found := yearIn(card.Date); found && !years[year] {
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// categoryKeys renders the closed category set for the prompt.
func categoryKeys() string {
	keys := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		keys[i] = string(c)
	}
	return strings.Join(keys, ", ")
}

// targetYears returns the accepted year set; default current and next.
func (s *AIStrategy) targetYears() map[int]bool {
	years := make(map[int]bool)
	if len(s.Cfg.TargetYears) > 0 {
		for _, y := range s.Cfg.TargetYears {
			years[y] = true
		}
		return years
	}
	now := time.Now().Year()
	years[now] = true
	years[now+1] = true
	return years
}

// yearIn finds a four-digit year in a raw date string.
func yearIn(date string) (int, bool) {
	fields := strings.FieldsFunc(date, func(r rune) bool {
		return r < '0' || r > '9'
	})
	for _, f := range fields {
		if len(f) == 4 {
			if y, err := strconv.Atoi(f); err == nil && y >= 2000 && y <= 2100 {
				return y, true
			}
		}
	}
	return 0, false
}
