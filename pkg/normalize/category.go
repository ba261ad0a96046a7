package normalize

import (
	"strings"

	"github.com/stadspuls/harvester/pkg/models"
)

// categoryKeywords maps lowercase keywords to categories. Order in
// categoryOrder decides ties: the first category with a hit wins, and
// anything without a hit falls back to COMMUNITY.
var categoryKeywords = map[models.Category][]string{
	models.CategoryMusic: {
		"concert", "muziek", "music", "band", "dj", "festival", "optreden",
		"jazz", "orkest", "koor", "symfonie", "live",
	},
	models.CategoryNightlife: {
		"club", "nacht", "nightlife", "party", "feest", "borrel", "uitgaan",
		"rave", "afterparty",
	},
	models.CategoryCulture: {
		"museum", "tentoonstelling", "expositie", "theater", "toneel", "film",
		"cabaret", "kunst", "gallery", "galerie", "lezing", "boek", "poëzie",
		"dans", "ballet", "opera", "erfgoed",
	},
	models.CategoryFood: {
		"eten", "food", "proeverij", "wijn", "bier", "culinair", "restaurant",
		"markt", "foodtruck", "diner", "brunch", "streekproducten",
	},
	models.CategoryActive: {
		"sport", "hardlopen", "wandeling", "wandelen", "fietsen", "yoga",
		"zwemmen", "toernooi", "marathon", "fitness", "schaatsen", "run",
	},
	models.CategoryFamily: {
		"kinderen", "kids", "familie", "family", "jeugd", "poppenkast",
		"speurtocht", "knutselen", "kindervoorstelling",
	},
	models.CategoryCivic: {
		"gemeente", "raad", "inspraak", "verkiezing", "burgemeester",
		"referendum", "informatieavond", "bewonersavond", "stadhuis",
	},
	models.CategorySocial: {
		"netwerk", "meetup", "ontmoeting", "speeddate", "koffieochtend",
		"taalcafé", "taalcafe", "repair café", "repair cafe",
	},
}

// categoryOrder breaks ties when multiple categories match. More specific
// categories outrank the broad ones.
var categoryOrder = []models.Category{
	models.CategoryFamily,
	models.CategoryNightlife,
	models.CategoryMusic,
	models.CategoryFood,
	models.CategoryActive,
	models.CategoryCivic,
	models.CategoryCulture,
	models.CategorySocial,
}

// ClassifyCategory maps title+description+hint to the closed category set.
// A hint that is already a valid category key wins outright; ambiguous
// text falls back to COMMUNITY.
func ClassifyCategory(title, description, hint string) models.Category {
	if c := models.Category(strings.ToUpper(strings.TrimSpace(hint))); models.ValidCategory(c) {
		return c
	}

	text := strings.ToLower(title + " " + description + " " + hint)
	for _, category := range categoryOrder {
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(text, kw) {
				return category
			}
		}
	}
	return models.CategoryCommunity
}
