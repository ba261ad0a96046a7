// Package enrich fills in what extraction could not: venue coordinates via
// a hybrid geocoder (page coordinates, fuzzy cache, provider round-robin)
// and event images rehosted to object storage.
package enrich

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/models"
)

// Map-URL coordinate patterns, in match order.
var (
	atLatLngRe = regexp.MustCompile(`@(-?\d{1,3}\.\d+),(-?\d{1,3}\.\d+)`)
	gmapsPinRe = regexp.MustCompile(`!3d(-?\d{1,3}\.\d+)!4d(-?\d{1,3}\.\d+)`)
	llParamRe  = regexp.MustCompile(`[?&](?:ll|center|q)=(-?\d{1,3}\.\d+),(-?\d{1,3}\.\d+)`)
	osmHashRe  = regexp.MustCompile(`#map=\d+/(-?\d{1,3}\.\d+)/(-?\d{1,3}\.\d+)`)
)

// ExtractCoordinates mines a page (or card snippet) for venue coordinates:
// JSON-LD geo, microdata lat/lng itemprops, OpenGraph place tags, the ICBM
// meta, then embedded map URLs. First valid point wins; (0,0) and
// out-of-range values never match.
func ExtractCoordinates(html string) (models.Coordinates, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.Coordinates{}, false
	}

	if c, ok := jsonLDGeo(doc); ok {
		return c, true
	}
	if c, ok := microdataGeo(doc); ok {
		return c, true
	}
	if c, ok := metaGeo(doc); ok {
		return c, true
	}
	return mapURLGeo(doc, html)
}

func jsonLDGeo(doc *goquery.Document) (models.Coordinates, bool) {
	var found models.Coordinates
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var node any
		if err := json.Unmarshal([]byte(sel.Text()), &node); err != nil {
			return true
		}
		if c, ok := findGeoNode(node, 8); ok {
			found = c
			return false
		}
		return true
	})
	return found, found.Valid()
}

// findGeoNode walks structured data for a GeoCoordinates-shaped object.
func findGeoNode(node any, depth int) (models.Coordinates, bool) {
	if depth <= 0 {
		return models.Coordinates{}, false
	}
	switch n := node.(type) {
	case []any:
		for _, item := range n {
			if c, ok := findGeoNode(item, depth-1); ok {
				return c, true
			}
		}
	case map[string]any:
		lat, latOK := numeric(n["latitude"])
		lng, lngOK := numeric(n["longitude"])
		if latOK && lngOK {
			c := models.Coordinates{Lat: lat, Lng: lng}
			if c.Valid() {
				return c, true
			}
		}
		for _, val := range n {
			if c, ok := findGeoNode(val, depth-1); ok {
				return c, true
			}
		}
	}
	return models.Coordinates{}, false
}

func microdataGeo(doc *goquery.Document) (models.Coordinates, bool) {
	lat, latOK := parseCoord(itempropValue(doc, "latitude"))
	lng, lngOK := parseCoord(itempropValue(doc, "longitude"))
	if latOK && lngOK {
		c := models.Coordinates{Lat: lat, Lng: lng}
		return c, c.Valid()
	}
	return models.Coordinates{}, false
}

func itempropValue(doc *goquery.Document, prop string) string {
	sel := doc.Find(`[itemprop="` + prop + `"]`).First()
	if content, ok := sel.Attr("content"); ok && content != "" {
		return content
	}
	return strings.TrimSpace(sel.Text())
}

func metaGeo(doc *goquery.Document) (models.Coordinates, bool) {
	// OpenGraph place tags.
	latStr := metaValue(doc, "place:location:latitude")
	lngStr := metaValue(doc, "place:location:longitude")
	if lat, ok := parseCoord(latStr); ok {
		if lng, ok := parseCoord(lngStr); ok {
			c := models.Coordinates{Lat: lat, Lng: lng}
			if c.Valid() {
				return c, true
			}
		}
	}

	// ICBM: "52.36, 4.88"
	if icbm := metaValue(doc, "ICBM"); icbm != "" {
		parts := strings.Split(icbm, ",")
		if len(parts) == 2 {
			if lat, ok := parseCoord(parts[0]); ok {
				if lng, ok := parseCoord(parts[1]); ok {
					c := models.Coordinates{Lat: lat, Lng: lng}
					if c.Valid() {
						return c, true
					}
				}
			}
		}
	}
	return models.Coordinates{}, false
}

func metaValue(doc *goquery.Document, name string) string {
	sel := doc.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}

// mapURLGeo scans hrefs and iframe srcs, then the raw HTML, for embedded
// map links that carry the pin location.
func mapURLGeo(doc *goquery.Document, html string) (models.Coordinates, bool) {
	var urls []string
	doc.Find("a[href], iframe[src]").Each(func(_ int, sel *goquery.Selection) {
		if v, ok := sel.Attr("href"); ok {
			urls = append(urls, v)
		}
		if v, ok := sel.Attr("src"); ok {
			urls = append(urls, v)
		}
	})
	urls = append(urls, html)

	for _, candidate := range urls {
		if !strings.Contains(candidate, "map") && !strings.Contains(candidate, "maps") {
			continue
		}
		for _, re := range []*regexp.Regexp{gmapsPinRe, atLatLngRe, llParamRe, osmHashRe} {
			if m := re.FindStringSubmatch(candidate); m != nil {
				lat, latOK := parseCoord(m[1])
				lng, lngOK := parseCoord(m[2])
				if latOK && lngOK {
					c := models.Coordinates{Lat: lat, Lng: lng}
					if c.Valid() {
						return c, true
					}
				}
			}
		}
	}
	return models.Coordinates{}, false
}

func parseCoord(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		return parseCoord(n)
	}
	return 0, false
}
