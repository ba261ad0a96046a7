// Package dedup implements the golden-record merge policy: when two
// records describe the same real-world event, the merge is additive and
// never downgrades a populated field.
package dedup

import (
	"sort"
	"time"

	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/normalize"
)

// MergeResult describes what a merge changed.
type MergeResult struct {
	Changed bool

	// NeedsReembed is set when descriptive fields changed materially and
	// the stored vector no longer represents the record.
	NeedsReembed bool
}

// SameEvent is the identity predicate: same content hash (cross-source
// duplicate) or same fingerprint (re-run of one source).
func SameEvent(a, b *models.Event) bool {
	return a.ContentHash == b.ContentHash || a.EventFingerprint == b.EventFingerprint
}

// Merge folds incoming into existing per the golden-record policy and
// reports what changed. healed marks merges arriving through the healing
// path, which stamps last_healed_at.
func Merge(existing, incoming *models.Event, healed bool, now time.Time) MergeResult {
	var result MergeResult

	// Longer non-empty description wins; comparable lengths keep existing.
	if betterDescription(existing.Description, incoming.Description) {
		existing.Description = incoming.Description
		result.Changed = true
		result.NeedsReembed = true
	}

	// Image: replace only a missing or tracking-pixel image.
	if incoming.ImageURL != "" && !normalize.PlaceholderImage(incoming.ImageURL) {
		if existing.ImageURL == "" || normalize.PlaceholderImage(existing.ImageURL) {
			existing.ImageURL = incoming.ImageURL
			result.Changed = true
		}
	}

	// Fill-if-empty fields.
	result.Changed = fillString(&existing.VenueName, incoming.VenueName) || result.Changed
	if existing.VenueName == incoming.VenueName && incoming.VenueAddress != "" {
		result.Changed = fillString(&existing.VenueAddress, incoming.VenueAddress) || result.Changed
	}
	result.Changed = fillString(&existing.TicketsURL, incoming.TicketsURL) || result.Changed
	result.Changed = fillString(&existing.Organizer, incoming.Organizer) || result.Changed
	result.Changed = fillString(&existing.Performer, incoming.Performer) || result.Changed

	if existing.PriceRaw == "" && incoming.PriceRaw != "" {
		existing.PriceRaw = incoming.PriceRaw
		existing.PriceMin = incoming.PriceMin
		existing.PriceMax = incoming.PriceMax
		existing.PriceCurrency = incoming.PriceCurrency
		result.Changed = true
	}

	// Tag union, deduplicated and ordered for determinism.
	if merged, changed := unionTags(existing.Tags, incoming.Tags); changed {
		existing.Tags = merged
		result.Changed = true
	}
	if merged, changed := unionTags(existing.PersonaTags, incoming.PersonaTags); changed {
		existing.PersonaTags = merged
		result.Changed = true
	}

	// Coordinates: only absent-or-null-island gets replaced.
	if !existing.Coordinates().Valid() && incoming.Coordinates().Valid() {
		existing.Latitude = incoming.Latitude
		existing.Longitude = incoming.Longitude
		result.Changed = true
	}

	if !existing.TimeKnown && incoming.TimeKnown {
		existing.EventTime = incoming.EventTime
		existing.TimeKnown = true
		existing.EventDate = incoming.EventDate
		result.Changed = true
	}

	existing.QualityScore = normalize.QualityScore(existing, now)
	existing.UpdatedAt = now
	if healed {
		existing.LastHealedAt = &now
	}
	return result
}

// betterDescription implements "keep the longer non-null description; if
// lengths comparable, prefer existing". Comparable means within 20%.
func betterDescription(existing, incoming string) bool {
	if incoming == "" {
		return false
	}
	if existing == "" {
		return true
	}
	return len(incoming)*5 > len(existing)*6 // incoming > 1.2 × existing
}

// unionTags merges two tag sets. The result is sorted so that merging in
// either order yields the same record.
func unionTags(a, b []string) ([]string, bool) {
	if len(b) == 0 {
		return a, false
	}
	seen := make(map[string]bool, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	added := false
	for _, t := range b {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
			added = true
		}
	}
	if !added {
		return a, false
	}
	sort.Strings(merged)
	return merged, true
}

func fillString(dst *string, src string) bool {
	if *dst == "" && src != "" {
		*dst = src
		return true
	}
	return false
}
