// Package extract turns a fetched listing page into raw event cards via a
// waterfall of strategies, ordered most to least trusted. A CMS
// fingerprint may reorder the deterministic strategies; the AI fallback
// always runs last and only when everything else came up short.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

// Page is one fetched listing page plus its source context.
type Page struct {
	URL    string
	HTML   string
	Source *models.Source

	doc *goquery.Document
}

// Doc lazily parses the page HTML.
func (p *Page) Doc() (*goquery.Document, error) {
	if p.doc != nil {
		return p.doc, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", p.URL, err)
	}
	p.doc = doc
	return doc, nil
}

// Strategy is one extraction approach in the waterfall.
type Strategy interface {
	Method() models.ParsingMethod
	Extract(ctx context.Context, page *Page) ([]models.RawEventCard, error)
}

// Outcome is the result of a full waterfall run over one page.
type Outcome struct {
	Cards          []models.RawEventCard
	Winner         models.ParsingMethod
	CMSLabel       string
	StrategyCounts map[models.ParsingMethod]int
	NextPageURL    string
	ParseDuration  time.Duration
}

// FetchFunc retrieves an auxiliary URL (feed probes) within the current
// source run, inheriting its rate limiting and failover state.
type FetchFunc func(ctx context.Context, url string) ([]byte, int, error)

// Waterfall runs the registered strategies in trust order.
type Waterfall struct {
	cfg        *config.ExtractConfig
	strategies []Strategy
	ai         Strategy
}

// NewWaterfall assembles the standard strategy set. ai may be nil, which
// disables the fallback.
func NewWaterfall(cfg *config.ExtractConfig, fetchAux FetchFunc, ai Strategy) *Waterfall {
	return &Waterfall{
		cfg: cfg,
		strategies: []Strategy{
			&RecipeStrategy{},
			&JSONLDStrategy{MaxGraphDepth: cfg.MaxGraphDepth},
			&MicrodataStrategy{},
			&HydrationStrategy{},
			&FeedStrategy{Fetch: fetchAux},
			&DOMStrategy{},
		},
		ai: ai,
	}
}

// Run executes the waterfall. The winner is the first strategy producing
// at least MinCards cards; every strategy tried before the winner has its
// count recorded for insights. Returns ExtractionEmpty semantics — zero
// cards and no error — only when even the AI fallback found nothing.
func (w *Waterfall) Run(ctx context.Context, page *Page) (*Outcome, error) {
	start := time.Now()
	outcome := &Outcome{
		StrategyCounts: make(map[models.ParsingMethod]int),
	}

	minCards := w.cfg.MinCards
	if minCards < 1 {
		minCards = 1
	}

	label, ordered := Fingerprint(page, w.strategies)
	outcome.CMSLabel = label

	// An operator-pinned method on the source outranks the fingerprint:
	// it is promoted to the front, nothing is skipped.
	if page.Source != nil && page.Source.PreferredMethod != "" {
		ordered = reorder(ordered, []models.ParsingMethod{models.ParsingMethod(page.Source.PreferredMethod)})
	}

	for _, strategy := range ordered {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cards, err := strategy.Extract(ctx, page)
		if err != nil {
			// A broken strategy never aborts the waterfall.
			outcome.StrategyCounts[strategy.Method()] = 0
			continue
		}
		cards = w.finish(page, strategy.Method(), cards)
		outcome.StrategyCounts[strategy.Method()] = len(cards)

		if len(cards) >= minCards {
			outcome.Cards = cards
			outcome.Winner = strategy.Method()
			break
		}
	}

	if outcome.Winner == "" && w.ai != nil {
		cards, err := w.ai.Extract(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("ai extraction fallback: %w", err)
		}
		cards = w.finish(page, w.ai.Method(), cards)
		outcome.StrategyCounts[w.ai.Method()] = len(cards)
		if len(cards) > 0 {
			outcome.Cards = cards
			outcome.Winner = w.ai.Method()
		}
	}

	if doc, err := page.Doc(); err == nil {
		outcome.NextPageURL = FindNextPage(doc, page.URL)
	}
	outcome.ParseDuration = time.Since(start)
	return outcome, nil
}

// finish tags cards with their method and resolves relative URLs.
func (w *Waterfall) finish(page *Page, method models.ParsingMethod, cards []models.RawEventCard) []models.RawEventCard {
	out := cards[:0]
	for _, c := range cards {
		if strings.TrimSpace(c.Title) == "" {
			continue
		}
		c.Method = method
		c.Title = collapseSpace(c.Title)
		c.DetailURL = absoluteURL(page.URL, c.DetailURL)
		c.ImageURL = absoluteURL(page.URL, c.ImageURL)
		out = append(out, c)
	}
	return out
}

// absoluteURL resolves ref against base; empty or unparsable refs stay
// as-is.
func absoluteURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// collapseSpace trims and collapses runs of whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
