package gmaps

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/placecrawl/placecrawl/wire"
)

// PlaceResult is the record emitted per crawled place. A failed task that
// exhausted its retries is emitted too, with Failed set and the diagnostic
// snapshot keys attached, so it is never silently dropped.
type PlaceResult struct {
	PlaceID         string              `json:"placeId"`
	URL             string              `json:"url"`
	Title           string              `json:"title"`
	Rank            int                 `json:"rank"`
	IsAdvertisement bool                `json:"isAdvertisement"`
	SearchString    string              `json:"searchString"`
	ScrapedAt       time.Time           `json:"scrapedAt"`
	Location        *wire.Coordinates   `json:"location,omitempty"`
	Address         *wire.ParsedAddress `json:"address,omitempty"`
	PlusCode        string              `json:"plusCode,omitempty"`

	Score       float64 `json:"score"`
	ReviewCount int     `json:"reviewCount"`

	OpeningHours          map[string][]string    `json:"openingHours,omitempty"`
	PopularTimesHistogram map[string]map[int]int `json:"popularTimesHistogram,omitempty"`
	PeopleAlsoSearch      []string               `json:"peopleAlsoSearch,omitempty"`
	AdditionalInfo        map[string][]string    `json:"additionalInfo,omitempty"`
	Reviews               []wire.Review          `json:"reviews,omitempty"`
	ImageURLs             []string               `json:"imageUrls,omitempty"`

	Failed        bool     `json:"failed,omitempty"`
	FailureReason string   `json:"failureReason,omitempty"`
	SnapshotKeys  []string `json:"snapshotKeys,omitempty"`
}

func (r *PlaceResult) Validate() error {
	if r.PlaceID == "" && r.URL == "" {
		return fmt.Errorf("result has neither place id nor url")
	}

	return nil
}

func (r *PlaceResult) CsvHeaders() []string {
	return []string{
		"place_id",
		"url",
		"title",
		"rank",
		"is_advertisement",
		"search_string",
		"scraped_at",
		"latitude",
		"longitude",
		"street",
		"city",
		"postal_code",
		"state",
		"country_code",
		"plus_code",
		"score",
		"review_count",
		"opening_hours",
		"popular_times",
		"people_also_search",
		"additional_info",
		"reviews",
		"image_urls",
		"failed",
		"failure_reason",
		"snapshot_keys",
	}
}

func (r *PlaceResult) CsvRow() []string {
	var lat, lng string
	if r.Location != nil {
		lat = fmt.Sprintf("%.7f", r.Location.Lat)
		lng = fmt.Sprintf("%.7f", r.Location.Lng)
	}

	addr := r.Address
	if addr == nil {
		addr = &wire.ParsedAddress{}
	}

	return []string{
		r.PlaceID,
		r.URL,
		r.Title,
		fmt.Sprintf("%d", r.Rank),
		fmt.Sprintf("%t", r.IsAdvertisement),
		r.SearchString,
		r.ScrapedAt.UTC().Format(time.RFC3339),
		lat,
		lng,
		addr.Street,
		addr.City,
		addr.PostalCode,
		addr.State,
		addr.CountryCode,
		r.PlusCode,
		fmt.Sprintf("%.1f", r.Score),
		fmt.Sprintf("%d", r.ReviewCount),
		jsonCell(r.OpeningHours),
		jsonCell(r.PopularTimesHistogram),
		jsonCell(r.PeopleAlsoSearch),
		jsonCell(r.AdditionalInfo),
		jsonCell(r.Reviews),
		jsonCell(r.ImageURLs),
		fmt.Sprintf("%t", r.Failed),
		r.FailureReason,
		strings.Join(r.SnapshotKeys, " "),
	}
}

// jsonCell renders a nested value as a JSON cell, empty when there is
// nothing to render.
func jsonCell(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return ""
	}

	return string(data)
}
