package postgres

import (
	"testing"

	"github.com/gosom/scrapemate"
	"github.com/stretchr/testify/require"

	"github.com/placecrawl/placecrawl/exiter"
	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/gmaps"
	"github.com/placecrawl/placecrawl/wire"
)

func fencedOptions(t *testing.T) *gmaps.ScrapingOptions {
	t.Helper()

	fence, err := geo.PolygonFromGeoJSON([]byte(
		`{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}`))
	require.NoError(t, err)

	opts := gmaps.DefaultOptions()
	opts.Geofence = fence
	opts.MaxReviews = 40
	opts.LangCode = "de"

	return opts
}

func TestSearchJobPayloadRoundTrip(t *testing.T) {
	job := gmaps.NewSearchJob("seed-1", "coffee berlin", "52.52,13.40", 15, fencedOptions(t))

	payloadType, payload, err := encodeJob(job)
	require.NoError(t, err)
	require.Equal(t, payloadTypeSearch, payloadType)

	decoded, err := decodeJob(payloadType, payload)
	require.NoError(t, err)

	got, ok := decoded.(*gmaps.SearchJob)
	require.True(t, ok)

	require.Equal(t, job.ID, got.ID)
	require.Equal(t, job.Query, got.Query)
	require.Equal(t, job.URL, got.URL)
	require.Equal(t, job.URLParams, got.URLParams)
	require.Equal(t, "de", got.Opts.LangCode)
	require.Equal(t, 40, got.Opts.MaxReviews)

	// the fence survives serialization with its geometry intact
	require.NotNil(t, got.Opts.Geofence)
	require.True(t, got.Opts.Geofence.Contains(&geo.Point{Lat: 5, Lng: 5}))
	require.False(t, got.Opts.Geofence.Contains(&geo.Point{Lat: 15, Lng: 5}))
}

func TestPlaceJobPayloadRoundTrip(t *testing.T) {
	task := gmaps.PlaceTask{
		Stub: wire.PlaceStub{
			PlaceID:     "p-1",
			Title:       "Cafe",
			Coordinates: &wire.Coordinates{Lat: 5, Lng: 5},
		},
		Rank:         7,
		SearchString: "coffee berlin",
	}

	job := gmaps.NewPlaceJob("seed-1", "https://example.com/place/p-1", task, fencedOptions(t))

	payloadType, payload, err := encodeJob(job)
	require.NoError(t, err)
	require.Equal(t, payloadTypePlace, payloadType)

	decoded, err := decodeJob(payloadType, payload)
	require.NoError(t, err)

	got, ok := decoded.(*gmaps.PlaceJob)
	require.True(t, ok)

	require.Equal(t, job.ID, got.ID)
	require.Equal(t, "seed-1", got.ParentID)
	require.Equal(t, job.URL, got.URL)
	require.Equal(t, task, got.Task)

	// a rebuilt job emits its result like a freshly constructed one
	require.True(t, got.UseInResults())
}

func TestEncodeJobWithoutGeofence(t *testing.T) {
	job := gmaps.NewSearchJob("seed-2", "pizza", "", 0, nil)

	payloadType, payload, err := encodeJob(job)
	require.NoError(t, err)

	decoded, err := decodeJob(payloadType, payload)
	require.NoError(t, err)

	got, ok := decoded.(*gmaps.SearchJob)
	require.True(t, ok)
	require.Nil(t, got.Opts.Geofence)
}

func TestDecodeJobUnknownPayloadType(t *testing.T) {
	_, err := decodeJob("bogus", nil)
	require.Error(t, err)
}

func TestWithJobEnricher(t *testing.T) {
	p, ok := NewProvider(nil, WithJobEnricher(func(job scrapemate.IJob) {
		if j, isPlace := job.(*gmaps.PlaceJob); isPlace {
			j.ExitMonitor = exiter.New()
		}
	})).(*provider)
	require.True(t, ok)
	require.NotNil(t, p.enrich)

	job := gmaps.NewPlaceJob("", "https://example.com/place/p-1", gmaps.PlaceTask{}, nil)
	require.Nil(t, job.ExitMonitor)

	p.enrich(job)
	require.NotNil(t, job.ExitMonitor)
}
