// Package normalize turns raw extracted cards into validated, fingerprinted
// event candidates: date and time parsing, category classification, price
// parsing, quality scoring, and the noise filter.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

// Validation sentinels. Both are permanent for the card in question; the
// queue item as a whole gets one transient retry per the failure budget.
var (
	ErrNotAnEvent  = errors.New("card rejected by noise filter")
	ErrInvalidDate = errors.New("card has no valid date in the target window")
)

// Normalizer derives the canonical fields of a card in place.
type Normalizer struct {
	cfg *config.ExtractConfig
	now func() time.Time
}

// NewNormalizer creates a Normalizer. The extraction config supplies the
// target-year window shared with the AI fallback.
func NewNormalizer(cfg *config.ExtractConfig) *Normalizer {
	return &Normalizer{cfg: cfg, now: time.Now}
}

// Normalize validates and fills the card's normalized fields. The card is
// modified in place; on error it must be discarded.
func (n *Normalizer) Normalize(card *models.RawEventCard) error {
	card.Title = collapse(card.Title)
	card.Description = collapse(card.Description)
	card.Location = collapse(card.Location)

	if !IsProbableEvent(card.Title, card.Description) {
		return fmt.Errorf("%w: %q", ErrNotAnEvent, card.Title)
	}

	now := n.now()
	card.EventDate = ParseDate(card.Date, now, n.targetYears(now))
	if card.EventDate == "" {
		return fmt.Errorf("%w: %q", ErrInvalidDate, card.Date)
	}

	// The explicit time field wins, then a clock carried inside an ISO
	// start date, then the text ladder. The date string never goes
	// through the generic ladder: "12.04.2026" would read as 12:04.
	card.EventTime = ExtractTime(card.Time)
	if card.EventTime == TimeTBD {
		if clock := ClockFromISO(card.Date); clock != "" {
			card.EventTime = clock
		} else {
			card.EventTime = ExtractTime(card.Description, card.RawHTML)
		}
	}

	if !models.ValidCategory(card.Category) {
		card.Category = ClassifyCategory(card.Title, card.Description, card.CategoryHint)
	}

	if card.VenueName == "" {
		card.VenueName, card.VenueAddress = splitLocation(card.Location)
	}
	return nil
}

// BuildEvent assembles a canonical event from a normalized card.
func (n *Normalizer) BuildEvent(card *models.RawEventCard, sourceID string) (*models.Event, error) {
	ts, timeKnown, err := AssembleTimestamp(card.EventDate, card.EventTime)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		SourceID:     sourceID,
		Title:        card.Title,
		Description:  card.Description,
		Category:     card.Category,
		EventDate:    ts,
		EventTime:    card.EventTime,
		TimeKnown:    timeKnown,
		VenueName:    card.VenueName,
		VenueAddress: card.VenueAddress,
		ImageURL:     card.ImageURL,
		Tags:         card.Tags,
		PersonaTags:  card.PersonaTags,
		Organizer:    card.Organizer,
		Performer:    card.Performer,
		TicketsURL:   card.TicketsURL,

		ContentHash:      models.ContentHash(card.Title, card.EventDate),
		EventFingerprint: models.EventFingerprint(card.Title, card.EventDate, sourceID),
	}

	price := ParsePrice(card.PriceRaw)
	event.PriceRaw = price.Raw
	event.PriceMin = price.Min
	event.PriceMax = price.Max
	event.PriceCurrency = price.Currency

	event.QualityScore = QualityScore(event, n.now())
	return event, nil
}

func (n *Normalizer) targetYears(now time.Time) map[int]bool {
	years := make(map[int]bool)
	if len(n.cfg.TargetYears) > 0 {
		for _, y := range n.cfg.TargetYears {
			years[y] = true
		}
		return years
	}
	years[now.Year()] = true
	years[now.Year()+1] = true
	return years
}

// QualityScore is the weighted completeness sum over an assembled event:
// description length, non-placeholder image, venue, coordinates, and a
// plausible date window.
func QualityScore(event *models.Event, now time.Time) float64 {
	score := 0.0

	switch {
	case len(event.Description) >= 50:
		score += 0.3
	case len(event.Description) > 0:
		score += 0.15
	}
	if event.ImageURL != "" && !PlaceholderImage(event.ImageURL) {
		score += 0.2
	}
	if event.VenueName != "" {
		score += 0.2
	}
	if event.Coordinates().Valid() {
		score += 0.2
	}
	if !event.EventDate.Before(now.Truncate(24*time.Hour)) &&
		event.EventDate.Before(now.AddDate(2, 0, 0)) {
		score += 0.1
	}
	return score
}

// placeholderImageRe matches tracking pixels and stock placeholders that
// should never count as (or be stored as) an event image.
var placeholderImageRe = regexp.MustCompile(
	`(?i)(placeholder|default|blank|spacer|pixel|1x1|facebook\.com/tr|doubleclick|analytics|\.gif$)`)

// PlaceholderImage reports whether the URL is a placeholder or tracking
// pixel rather than a real image.
func PlaceholderImage(url string) bool {
	return placeholderImageRe.MatchString(url)
}

// priceRe finds decimal amounts like "27,50" or "27.50" or "15".
var priceRe = regexp.MustCompile(`(\d+(?:[.,]\d{1,2})?)`)

// freePatterns mark explicitly free events.
var freePatterns = []string{"gratis", "free", "vrije gift", "vrij entree", "vrije toegang", "kostenlos"}

// ParsePrice extracts numeric bounds and currency from a raw price string.
// "€ 15 - € 25" yields min 15 max 25; "gratis" yields 0/0.
func ParsePrice(raw string) models.Price {
	price := models.Price{Raw: strings.TrimSpace(raw)}
	if price.Raw == "" {
		return price
	}

	lower := strings.ToLower(price.Raw)
	for _, pattern := range freePatterns {
		if strings.Contains(lower, pattern) {
			zero := 0.0
			price.Min, price.Max = &zero, &zero
			price.Currency = "EUR"
			return price
		}
	}

	if strings.ContainsAny(price.Raw, "€") || strings.Contains(lower, "eur") {
		price.Currency = "EUR"
	} else if strings.ContainsAny(price.Raw, "$") {
		price.Currency = "USD"
	} else if strings.ContainsAny(price.Raw, "£") {
		price.Currency = "GBP"
	}

	matches := priceRe.FindAllString(price.Raw, -1)
	var amounts []float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err == nil {
			amounts = append(amounts, v)
		}
	}
	if len(amounts) == 0 {
		return price
	}

	minV, maxV := amounts[0], amounts[0]
	for _, v := range amounts[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	price.Min, price.Max = &minV, &maxV
	return price
}

// splitLocation breaks a combined "Venue, Street 1 City" string into name
// and address at the first comma.
func splitLocation(location string) (name, address string) {
	if location == "" {
		return "", ""
	}
	if i := strings.Index(location, ","); i > 0 {
		return strings.TrimSpace(location[:i]), strings.TrimSpace(location[i+1:])
	}
	return location, ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
