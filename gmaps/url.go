package gmaps

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	zoomRe       = regexp.MustCompile(`,(\d+(?:\.\d+)?)z`)
	placeCoordRe = regexp.MustCompile(`!3d(-?[0-9.]+)!4d(-?[0-9.]+)`)
)

// searchURL builds the navigation URL for a query, optionally centered on
// coordinates at a zoom level. Coordinates and zoom must be set together.
func searchURL(query, geoCoordinates string, zoom int) string {
	query = url.QueryEscape(query)

	if geoCoordinates != "" && zoom > 0 {
		return fmt.Sprintf("https://www.google.com/maps/search/%s/@%s,%dz",
			query, strings.ReplaceAll(geoCoordinates, " ", ""), zoom)
	}

	return fmt.Sprintf("https://www.google.com/maps/search/%s", query)
}

// placeDetailURL builds a detail navigation URL from a place ID. The site
// redirects it to the canonical place page.
func placeDetailURL(query, placeID string) string {
	return fmt.Sprintf(
		"https://www.google.com/maps/search/?api=1&query=%s&query_place_id=%s",
		url.QueryEscape(query), url.QueryEscape(placeID),
	)
}

// parseZoomFromURL reads the zoom level out of a `@lat,lng,<z>z` navigation
// URL. Returns 0 when the URL carries no zoom token.
func parseZoomFromURL(u string) float64 {
	m := zoomRe.FindStringSubmatch(u)
	if m == nil {
		return 0
	}

	z, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}

	return z
}

// coordsFromPlaceURL reads the `!3d<lat>!4d<lng>` pair embedded in a
// resolved place URL.
func coordsFromPlaceURL(u string) (lat, lng float64, ok bool) {
	m := placeCoordRe.FindStringSubmatch(u)
	if m == nil {
		return 0, 0, false
	}

	lat, errLat := strconv.ParseFloat(m[1], 64)
	lng, errLng := strconv.ParseFloat(m[2], 64)

	if errLat != nil || errLng != nil {
		return 0, 0, false
	}

	return lat, lng, true
}

// isSearchEndpoint reports whether an intercepted response URL belongs to
// the search-results XHR endpoint.
func isSearchEndpoint(u string) bool {
	return strings.Contains(u, "/search?") && strings.Contains(u, "tbm=map")
}

// pageNumberFromURL reads the 1-based result-page number from the `ech`
// query parameter of a search endpoint URL. Missing or invalid reads as
// page 1.
func pageNumberFromURL(rawURL string) int {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 1
	}

	n, err := strconv.Atoi(parsed.Query().Get("ech"))
	if err != nil || n < 1 {
		return 1
	}

	return n
}
