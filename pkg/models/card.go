package models

// ParsingMethod names the extraction strategy that produced a card. The
// order below is trust order, most to least trusted.
type ParsingMethod string

const (
	MethodRecipe     ParsingMethod = "recipe"
	MethodHydration  ParsingMethod = "hydration"
	MethodJSONLD     ParsingMethod = "json_ld"
	MethodMicrodata  ParsingMethod = "microdata"
	MethodFeed       ParsingMethod = "feed"
	MethodDOM        ParsingMethod = "dom"
	MethodHeuristic  ParsingMethod = "heuristic"
	MethodAI         ParsingMethod = "ai"
	MethodAIFallback ParsingMethod = "ai_fallback"
)

// Trusted reports whether fields from this method are reliable enough to
// skip AI parsing downstream.
func (m ParsingMethod) Trusted() bool {
	switch m {
	case MethodRecipe, MethodHydration, MethodJSONLD, MethodMicrodata, MethodFeed:
		return true
	}
	return false
}

// NeedsAIPolish reports whether the method's output may require an AI pass
// to fill weak fields. AI-produced cards are already final.
func (m ParsingMethod) NeedsAIPolish() bool {
	return m == MethodDOM || m == MethodHeuristic
}

// RawEventCard is one candidate event as produced by an extraction
// strategy, before normalization. String fields hold raw site text.
type RawEventCard struct {
	Title        string        `json:"title"`
	Date         string        `json:"date"`
	Time         string        `json:"time,omitempty"`
	Location     string        `json:"location,omitempty"`
	Description  string        `json:"description,omitempty"`
	DetailURL    string        `json:"detail_url,omitempty"`
	ImageURL     string        `json:"image_url,omitempty"`
	CategoryHint string        `json:"category_hint,omitempty"`
	Method       ParsingMethod `json:"parsing_method"`

	// RawHTML keeps the card's own markup for downstream re-parse
	// (time extraction, geo hints).
	RawHTML string `json:"raw_html,omitempty"`

	// Normalized fields, filled by the normalizer.
	EventDate    string   `json:"event_date,omitempty"` // YYYY-MM-DD
	EventTime    string   `json:"event_time,omitempty"` // HH:MM or TBD
	Category     Category `json:"category,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	PersonaTags  []string `json:"persona_tags,omitempty"`
	PriceRaw     string   `json:"price_raw,omitempty"`
	Organizer    string   `json:"organizer,omitempty"`
	Performer    string   `json:"performer,omitempty"`
	TicketsURL   string   `json:"tickets_url,omitempty"`
	VenueName    string   `json:"venue_name,omitempty"`
	VenueAddress string   `json:"venue_address,omitempty"`
	QualityScore float64  `json:"quality_score,omitempty"`
}
