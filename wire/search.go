package wire

import (
	"encoding/json"
	"math"
)

// Coordinates is a WGS84 point, rounded to 7 decimal digits.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ParsedAddress is the structured address block attached to a search result.
type ParsedAddress struct {
	Neighborhood string `json:"neighborhood,omitempty"`
	Street       string `json:"street,omitempty"`
	City         string `json:"city,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	State        string `json:"state,omitempty"`
	CountryCode  string `json:"countryCode,omitempty"`
}

// PlaceStub is a lightweight record for one search-result entry, prior to
// full detail extraction.
type PlaceStub struct {
	PlaceID         string
	Title           string
	Coordinates     *Coordinates
	AddressParsed   *ParsedAddress
	IsAdvertisement bool
	Score           float64
	ReviewCount     int
}

// SearchPage is one decoded page of search results.
type SearchPage struct {
	Organic []PlaceStub
	Ads     []PlaceStub
	// SkippedNoDetail counts raw items lacking the detail sub-array.
	SkippedNoDetail int
}

// Result detail sub-array accessor paths. One schema version per frontend
// generation; bump here when the service reshuffles indices.
const (
	idxDetail      = 14
	idxPlaceID     = 78
	idxTitle       = 11
	idxScore1      = 4
	idxScore2      = 7
	idxCount2      = 8
	idxCoords      = 9
	idxLat         = 2
	idxLng         = 3
	idxAddress1    = 183
	idxAddress2    = 1
	idxNeighborhd  = 0
	idxStreet      = 1
	idxCity        = 3
	idxPostalCode  = 4
	idxState       = 5
	idxCountryCode = 6
)

// searchEnvelope is the outer object of a search endpoint body. The actual
// result array arrives doubly encoded as a framed JSON string under "d".
type searchEnvelope struct {
	D string `json:"d"`
}

// DecodeSearchPage decodes one intercepted search-results response body.
//
// The body is either the envelope object carrying a doubly-encoded framed
// array under "d", or (on older frontends) the framed array itself. Organic
// results sit under [0][1], one detail sub-array per item at index 14; the
// first element of the organic list is either listing metadata or, on
// direct-URL navigations, the directly loaded place itself, and is always
// skipped. Ads sit under [2][1] with the same detail shape.
func DecodeSearchPage(raw []byte) (page *SearchPage, err error) {
	defer recoverDecode("search page", &err)

	root, err := searchRoot(raw)
	if err != nil {
		return nil, err
	}

	page = &SearchPage{}

	organic := getNthElementAndCast[[]any](root, 0, 1)
	for i := 1; i < len(organic); i++ {
		stub, ok := stubFromItem(getNthElementAndCast[[]any](organic, i), false)
		if !ok {
			page.SkippedNoDetail++
			continue
		}

		page.Organic = append(page.Organic, stub)
	}

	ads := getNthElementAndCast[[]any](root, 2, 1)
	for i := range ads {
		stub, ok := stubFromItem(getNthElementAndCast[[]any](ads, i), true)
		if !ok {
			page.SkippedNoDetail++
			continue
		}

		page.Ads = append(page.Ads, stub)
	}

	return page, nil
}

func searchRoot(raw []byte) ([]any, error) {
	body := stripFraming(raw)

	if len(body) == 0 {
		return nil, decodeErrf("search page", "%w: empty body", ErrMalformedEnvelope)
	}

	if body[0] == '[' {
		return parseFramedArray("search page", body)
	}

	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, decodeErrf("search page", "%w: %v", ErrMalformedEnvelope, err)
	}

	if env.D == "" {
		return nil, decodeErrf("search page", "%w: envelope carries no payload", ErrMalformedEnvelope)
	}

	return parseFramedArray("search page", []byte(env.D))
}

func stubFromItem(item []any, isAd bool) (PlaceStub, bool) {
	detail := getNthElementAndCast[[]any](item, idxDetail)
	if len(detail) == 0 {
		return PlaceStub{}, false
	}

	stub := PlaceStub{
		PlaceID:         getNthElementAndCast[string](detail, idxPlaceID),
		Title:           getNthElementAndCast[string](detail, idxTitle),
		IsAdvertisement: isAd,
		Score:           getNthElementAndCast[float64](detail, idxScore1, idxScore2),
		ReviewCount:     int(getNthElementAndCast[float64](detail, idxScore1, idxCount2)),
	}

	if stub.PlaceID == "" {
		return PlaceStub{}, false
	}

	latRaw := getNthElement(detail, idxCoords, idxLat)
	lngRaw := getNthElement(detail, idxCoords, idxLng)

	if lat, ok := latRaw.(float64); ok {
		if lng, ok := lngRaw.(float64); ok {
			stub.Coordinates = &Coordinates{
				Lat: round7(lat),
				Lng: round7(lng),
			}
		}
	}

	if addr := getNthElementAndCast[[]any](detail, idxAddress1, idxAddress2); len(addr) > 0 {
		stub.AddressParsed = &ParsedAddress{
			Neighborhood: getNthElementAndCast[string](addr, idxNeighborhd),
			Street:       getNthElementAndCast[string](addr, idxStreet),
			City:         getNthElementAndCast[string](addr, idxCity),
			PostalCode:   getNthElementAndCast[string](addr, idxPostalCode),
			State:        getNthElementAndCast[string](addr, idxState),
			CountryCode:  getNthElementAndCast[string](addr, idxCountryCode),
		}
	}

	return stub, true
}

func round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}
