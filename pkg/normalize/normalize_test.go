package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

func testNormalizer() *Normalizer {
	n := NewNormalizer(&config.ExtractConfig{TargetYears: []int{2026, 2027}})
	n.now = func() time.Time { return testNow }
	return n
}

func TestNormalizeHappyPath(t *testing.T) {
	n := testNormalizer()
	card := &models.RawEventCard{
		Title:       "  Voorjaarsconcert  ",
		Date:        "zaterdag 12 april 2026",
		Description: "Het jaarlijkse voorjaarsconcert met het stadsorkest in de grote zaal.",
		Location:    "Paradiso, Weteringschans 6 Amsterdam",
		Time:        "aanvang 20:00",
	}

	require.NoError(t, n.Normalize(card))
	assert.Equal(t, "Voorjaarsconcert", card.Title)
	assert.Equal(t, "2026-04-12", card.EventDate)
	assert.Equal(t, "20:00", card.EventTime)
	assert.Equal(t, models.CategoryMusic, card.Category)
	assert.Equal(t, "Paradiso", card.VenueName)
	assert.Equal(t, "Weteringschans 6 Amsterdam", card.VenueAddress)
}

func TestNormalizeKeepsISOStartTime(t *testing.T) {
	n := testNormalizer()
	card := &models.RawEventCard{
		Title:       "Voorjaarsconcert",
		Date:        "2026-04-12T20:00:00+02:00",
		Description: "Het jaarlijkse voorjaarsconcert met het stadsorkest.",
	}

	require.NoError(t, n.Normalize(card))
	assert.Equal(t, "2026-04-12", card.EventDate)
	assert.Equal(t, "20:00", card.EventTime,
		"the clock inside an ISO startDate must survive normalization")

	event, err := n.BuildEvent(card, "src-a")
	require.NoError(t, err)
	assert.True(t, event.TimeKnown)
	assert.Equal(t, "20:00", event.EventTime)
	assert.Equal(t, time.Date(2026, 4, 12, 20, 0, 0, 0, time.UTC), event.EventDate)
}

func TestClockFromISO(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"2026-04-12T20:00:00+02:00", "20:00"},
		{"2026-04-12T09:30:00Z", "09:30"},
		{"2026-04-12 18:15:00", "18:15"},
		{"2026-04-12", ""},
		{"12 april 2026", ""},
		{"12.04.2026", ""},                // dotted dates are not clocks
		{"2026-04-12T00:00:00+02:00", ""}, // midnight means date-only
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClockFromISO(tt.raw), "raw=%q", tt.raw)
	}
}

func TestNormalizeRejectsListingHeading(t *testing.T) {
	n := testNormalizer()
	card := &models.RawEventCard{
		Title: "Concerten in Amsterdam",
		Date:  "12 april 2026",
	}
	err := n.Normalize(card)
	assert.ErrorIs(t, err, ErrNotAnEvent)
}

func TestNormalizeRejectsInvalidDate(t *testing.T) {
	n := testNormalizer()
	card := &models.RawEventCard{Title: "Echte titel", Date: "31 februari 2026"}
	assert.ErrorIs(t, n.Normalize(card), ErrInvalidDate)

	card = &models.RawEventCard{Title: "Echte titel", Date: ""}
	assert.ErrorIs(t, n.Normalize(card), ErrInvalidDate)
}

func TestBuildEventFingerprints(t *testing.T) {
	n := testNormalizer()
	card := &models.RawEventCard{
		Title: "Voorjaarsconcert",
		Date:  "2026-04-12",
		Time:  "om 18:00",
	}
	require.NoError(t, n.Normalize(card))

	event, err := n.BuildEvent(card, "src-a")
	require.NoError(t, err)

	assert.Equal(t, models.ContentHash("Voorjaarsconcert", "2026-04-12"), event.ContentHash)
	assert.Equal(t, models.EventFingerprint("Voorjaarsconcert", "2026-04-12", "src-a"), event.EventFingerprint)
	assert.Equal(t, time.Date(2026, 4, 12, 18, 0, 0, 0, time.UTC), event.EventDate)
	assert.True(t, event.TimeKnown)

	// Same card from another source: same content hash, different fingerprint.
	other, err := n.BuildEvent(card, "src-b")
	require.NoError(t, err)
	assert.Equal(t, event.ContentHash, other.ContentHash)
	assert.NotEqual(t, event.EventFingerprint, other.EventFingerprint)
}

func TestBuildEventTBDTime(t *testing.T) {
	n := testNormalizer()
	card := &models.RawEventCard{Title: "Open dag", Date: "2026-05-01"}
	require.NoError(t, n.Normalize(card))
	require.Equal(t, TimeTBD, card.EventTime)

	event, err := n.BuildEvent(card, "src-a")
	require.NoError(t, err)
	assert.False(t, event.TimeKnown)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), event.EventDate)
	assert.Equal(t, TimeTBD, event.EventTime)
}

func TestClassifyCategory(t *testing.T) {
	tests := []struct {
		title string
		desc  string
		hint  string
		want  models.Category
	}{
		{"Voorjaarsconcert", "met het stadsorkest", "", models.CategoryMusic},
		{"Kindermiddag", "knutselen voor kinderen", "", models.CategoryFamily},
		{"Wijnproeverij", "", "", models.CategoryFood},
		{"Stadswandeling door het centrum", "", "", models.CategoryActive},
		{"Inspraakavond gemeente", "", "", models.CategoryCivic},
		{"Tentoonstelling moderne kunst", "", "", models.CategoryCulture},
		{"Afterparty in de club", "", "", models.CategoryNightlife},
		{"Taalcafé voor nieuwkomers", "", "", models.CategorySocial},
		{"Bijeenkomst", "", "", models.CategoryCommunity},
		{"Whatever", "", "MUSIC", models.CategoryMusic},
		{"Whatever", "", "music", models.CategoryMusic},
		{"Whatever", "", "niet-bestaand", models.CategoryCommunity},
	}

	for _, tt := range tests {
		got := ClassifyCategory(tt.title, tt.desc, tt.hint)
		assert.Equal(t, tt.want, got, "title=%q hint=%q", tt.title, tt.hint)
	}
}

func TestIsProbableEvent(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"Voorjaarsconcert", true},
		{"Jazz in de Tuin", true},
		{"Concerten in Amsterdam", false},
		{"Events in Utrecht", false},
		{"Evenementen in Rotterdam deze week", false},
		{"What's on in Leiden", false},
		{"Home", false},
		{"Lees meer", false},
		{"Volgende", false},
		{"Reacties (12)", false},
		{"123", false},
		{"ab", false},
		{"Amsterdam Light Festival", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsProbableEvent(tt.title, ""), "title=%q", tt.title)
	}
}

func TestParsePrice(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		raw      string
		min, max *float64
		currency string
	}{
		{"€ 27,50", f(27.50), f(27.50), "EUR"},
		{"€ 15 - € 25", f(15), f(25), "EUR"},
		{"15.00", f(15), f(15), ""},
		{"gratis", f(0), f(0), "EUR"},
		{"Free entry", f(0), f(0), "EUR"},
		{"$10", f(10), f(10), "USD"},
		{"", nil, nil, ""},
		{"prijs volgt", nil, nil, ""},
	}

	for _, tt := range tests {
		got := ParsePrice(tt.raw)
		if tt.min == nil {
			assert.Nil(t, got.Min, "raw=%q", tt.raw)
		} else {
			require.NotNil(t, got.Min, "raw=%q", tt.raw)
			assert.Equal(t, *tt.min, *got.Min, "raw=%q", tt.raw)
			assert.Equal(t, *tt.max, *got.Max, "raw=%q", tt.raw)
		}
		assert.Equal(t, tt.currency, got.Currency, "raw=%q", tt.raw)
	}
}

func TestQualityScore(t *testing.T) {
	lat, lng := 52.36, 4.88
	full := &models.Event{
		Description: "Een lange beschrijving van ruim vijftig tekens zodat het volle gewicht telt.",
		ImageURL:    "https://cdn.example.nl/event.jpg",
		VenueName:   "Paradiso",
		Latitude:    &lat,
		Longitude:   &lng,
		EventDate:   testNow.AddDate(0, 1, 0),
	}
	assert.InDelta(t, 1.0, QualityScore(full, testNow), 1e-9)

	empty := &models.Event{EventDate: testNow.AddDate(0, 1, 0)}
	assert.InDelta(t, 0.1, QualityScore(empty, testNow), 1e-9)

	shortDesc := &models.Event{Description: "kort", EventDate: testNow.AddDate(0, 1, 0)}
	assert.InDelta(t, 0.25, QualityScore(shortDesc, testNow), 1e-9)

	placeholder := &models.Event{
		ImageURL:  "https://cdn.example.nl/images/placeholder.png",
		EventDate: testNow.AddDate(0, 1, 0),
	}
	assert.InDelta(t, 0.1, QualityScore(placeholder, testNow), 1e-9,
		"placeholder images earn no image weight")

	zeroCoords := &models.Event{
		Latitude:  f64(0),
		Longitude: f64(0),
		EventDate: testNow.AddDate(0, 1, 0),
	}
	assert.InDelta(t, 0.1, QualityScore(zeroCoords, testNow), 1e-9,
		"(0,0) never counts as coordinates")

	past := &models.Event{EventDate: testNow.AddDate(-1, 0, 0)}
	assert.InDelta(t, 0.0, QualityScore(past, testNow), 1e-9)
}

func f64(v float64) *float64 { return &v }
