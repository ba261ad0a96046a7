package extract

import (
	"strings"

	"github.com/stadspuls/harvester/pkg/models"
)

// cmsSignature maps detection hints to a CMS label and the strategies that
// historically win on that platform. Preferred methods are moved to the
// front; nothing is ever skipped.
type cmsSignature struct {
	label     string
	hints     []string
	preferred []models.ParsingMethod
}

var cmsSignatures = []cmsSignature{
	{
		label:     "wordpress",
		hints:     []string{"wp-content/", "wp-includes/", "wordpress"},
		preferred: []models.ParsingMethod{models.MethodJSONLD, models.MethodFeed},
	},
	{
		label:     "nextjs",
		hints:     []string{"__next_data__", "/_next/static/"},
		preferred: []models.ParsingMethod{models.MethodHydration, models.MethodJSONLD},
	},
	{
		label:     "nuxt",
		hints:     []string{"window.__nuxt__", "/_nuxt/"},
		preferred: []models.ParsingMethod{models.MethodHydration},
	},
	{
		label:     "drupal",
		hints:     []string{"drupal-settings-json", "sites/default/files", "drupal"},
		preferred: []models.ParsingMethod{models.MethodJSONLD, models.MethodDOM},
	},
	{
		label:     "squarespace",
		hints:     []string{"squarespace.com", "static1.squarespace"},
		preferred: []models.ParsingMethod{models.MethodJSONLD},
	},
	{
		label:     "wix",
		hints:     []string{"wix.com", "wixstatic.com"},
		preferred: []models.ParsingMethod{models.MethodHydration, models.MethodJSONLD},
	},
	{
		label:     "joomla",
		hints:     []string{"joomla", "/media/jui/"},
		preferred: []models.ParsingMethod{models.MethodDOM},
	},
}

// Fingerprint inspects generator meta, asset paths, and class patterns and
// returns a CMS label plus the strategy order to use. Unknown platforms
// keep the default trust order.
func Fingerprint(page *Page, base []Strategy) (string, []Strategy) {
	html := strings.ToLower(page.HTML)

	for _, sig := range cmsSignatures {
		for _, hint := range sig.hints {
			if strings.Contains(html, hint) {
				return sig.label, reorder(base, sig.preferred)
			}
		}
	}
	return "unknown", base
}

// reorder moves preferred methods to the front, keeping relative order of
// the rest. The result always contains every input strategy exactly once.
func reorder(base []Strategy, preferred []models.ParsingMethod) []Strategy {
	out := make([]Strategy, 0, len(base))
	used := make(map[models.ParsingMethod]bool, len(base))

	for _, m := range preferred {
		for _, s := range base {
			if s.Method() == m && !used[m] {
				out = append(out, s)
				used[m] = true
			}
		}
	}
	for _, s := range base {
		if !used[s.Method()] {
			out = append(out, s)
			used[s.Method()] = true
		}
	}
	return out
}
