package gmaps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/placecrawl/placecrawl/wire"
)

func TestCsvRowMatchesHeaders(t *testing.T) {
	result := PlaceResult{
		PlaceID:      "p1",
		URL:          "https://example.com/p1",
		Title:        "Cafe",
		Rank:         3,
		SearchString: "coffee",
		ScrapedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Location:     &wire.Coordinates{Lat: 52.1234567, Lng: 13.7654321},
		Address:      &wire.ParsedAddress{Street: "1 Main St", City: "Springfield"},
		Score:        4.5,
		ReviewCount:  12,
		Reviews:      []wire.Review{{ReviewID: reviewID("r1"), Stars: 5}},
		ImageURLs:    []string{"https://img.example.com/1"},
	}

	headers := result.CsvHeaders()
	row := result.CsvRow()
	require.Len(t, row, len(headers))

	require.Equal(t, "p1", row[0])
	require.Equal(t, "52.1234567", row[7])
	require.Equal(t, "13.7654321", row[8])
	require.Equal(t, "1 Main St", row[9])
	require.Equal(t, "4.5", row[15])
	require.Equal(t, "false", row[23])
}

func TestCsvRowEmptyOptionalBlocks(t *testing.T) {
	result := PlaceResult{PlaceID: "p1"}

	row := result.CsvRow()
	require.Len(t, row, len(result.CsvHeaders()))

	// nested cells are empty, not the literal "null"
	require.Empty(t, row[17])
	require.Empty(t, row[21])
}

func TestFailedMarkerRecord(t *testing.T) {
	result := PlaceResult{
		PlaceID:       "p1",
		URL:           "https://example.com/p1",
		Failed:        true,
		FailureReason: "detail page content not ready",
		SnapshotKeys:  []string{"ERROR-SNAPSHOT-title-timeout"},
	}

	require.NoError(t, result.Validate())

	row := result.CsvRow()
	require.Equal(t, "true", row[23])
	require.Equal(t, "detail page content not ready", row[24])
	require.Equal(t, "ERROR-SNAPSHOT-title-timeout", row[25])
}

func TestValidate(t *testing.T) {
	require.Error(t, (&PlaceResult{}).Validate())
	require.NoError(t, (&PlaceResult{PlaceID: "p"}).Validate())
	require.NoError(t, (&PlaceResult{URL: "u"}).Validate())
}
