package gmaps

import (
	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/wire"
)

// ScrapingOptions is the immutable per-run configuration shared by every
// job. Built once at startup, passed by pointer, never mutated afterwards.
type ScrapingOptions struct {
	LangCode string

	MaxPageDepth        int
	MaxReviews          int
	MaxImages           int
	MaxAutomaticZoomOut int

	ReviewSort      wire.ReviewSort
	TranslationMode wire.TranslationMode
	PersonalData    wire.PersonalDataOptions

	Geofence *geo.Polygon
	// AcceptUnknownCoords admits stubs whose coordinates are not known yet
	// when a geofence is configured. The fence itself never accepts an
	// unknown point; this is enqueue policy.
	AcceptUnknownCoords bool

	// AdsCountTowardQuota makes sponsored entries consume crawl budget.
	// Historically ambiguous behavior, so it is a policy switch.
	AdsCountTowardQuota bool

	ExtractHours            bool
	ExtractPopularTimes     bool
	ExtractPeopleAlsoSearch bool
	ExtractAttributes       bool
	ExtractReviews          bool
	ExtractImages           bool
}

// DefaultOptions returns the options used when no flags override them.
func DefaultOptions() *ScrapingOptions {
	return &ScrapingOptions{
		LangCode:            "en",
		MaxPageDepth:        10,
		MaxReviews:          0,
		MaxImages:           0,
		MaxAutomaticZoomOut: 2,
		ReviewSort:          wire.SortMostRelevant,
		TranslationMode:     wire.TranslationOnlyOriginal,
		PersonalData:        wire.AllPersonalData(),
		AcceptUnknownCoords: true,
		ExtractHours:        true,
		ExtractPopularTimes: true,
		ExtractAttributes:   true,
		ExtractReviews:      true,
	}
}
