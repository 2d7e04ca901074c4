package gmaps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/kv"
	"github.com/placecrawl/placecrawl/placecache"
	"github.com/placecrawl/placecrawl/quota"
	"github.com/placecrawl/placecrawl/stats"
	"github.com/placecrawl/placecrawl/wire"
)

func testSearchPage(organic int, ads int) *wire.SearchPage {
	page := &wire.SearchPage{}

	for i := 0; i < organic; i++ {
		page.Organic = append(page.Organic, wire.PlaceStub{
			PlaceID:     string(rune('a'+i)) + "-place",
			Title:       "Place",
			Coordinates: &wire.Coordinates{Lat: 5, Lng: 5},
		})
	}

	for i := 0; i < ads; i++ {
		page.Ads = append(page.Ads, wire.PlaceStub{
			PlaceID:         string(rune('a'+i)) + "-ad",
			IsAdvertisement: true,
		})
	}

	return page
}

func newTestEnqueuer(t *testing.T, opts *ScrapingOptions, maxTotal int) *enqueuer {
	t.Helper()

	if opts == nil {
		opts = DefaultOptions()
	}

	cache := placecache.New(kv.NewInMemory(), "")
	require.NoError(t, cache.Load(context.Background()))

	return &enqueuer{
		query: "coffee",
		opts:  opts,
		quota: quota.New(kv.NewInMemory(), maxTotal, 0),
		cache: cache,
		stats: stats.New(kv.NewInMemory()),
	}
}

func TestHandlePageRanks(t *testing.T) {
	// page 2 with 3 organic results and 1 ad: ranks 21..23, ad counted
	// in statistics only
	e := newTestEnqueuer(t, nil, 0)

	tasks, quotaReached := e.handlePage(testSearchPage(3, 1), 2, "https://example.com/search?ech=2")
	require.False(t, quotaReached)
	require.Len(t, tasks, 3)

	require.Equal(t, 21, tasks[0].Rank)
	require.Equal(t, 22, tasks[1].Rank)
	require.Equal(t, 23, tasks[2].Rank)

	for _, task := range tasks {
		require.False(t, task.Stub.IsAdvertisement)
		require.Equal(t, "coffee", task.SearchString)
	}

	require.Contains(t, e.stats.Summary(), "ads=1")
}

func TestHandlePageQuota(t *testing.T) {
	e := newTestEnqueuer(t, nil, 2)

	tasks, quotaReached := e.handlePage(testSearchPage(5, 2), 1, "")
	require.True(t, quotaReached)
	require.Len(t, tasks, 2)
	require.False(t, e.quotaHeadroom())

	// ads never consumed budget
	require.Equal(t, 2, e.quota.EnqueuedTotal())
}

func TestHandlePageAdsConsumeQuotaWhenEnabled(t *testing.T) {
	opts := DefaultOptions()
	opts.AdsCountTowardQuota = true

	e := newTestEnqueuer(t, opts, 3)

	tasks, quotaReached := e.handlePage(testSearchPage(3, 2), 1, "")
	require.True(t, quotaReached)
	require.Len(t, tasks, 1)
	require.Equal(t, 3, e.quota.EnqueuedTotal())
}

func TestHandlePageGeofence(t *testing.T) {
	opts := DefaultOptions()
	opts.Geofence = geo.PolygonFromRings([]geo.Point{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0},
	})
	opts.AcceptUnknownCoords = false

	e := newTestEnqueuer(t, opts, 0)

	page := &wire.SearchPage{
		Organic: []wire.PlaceStub{
			{PlaceID: "inside", Coordinates: &wire.Coordinates{Lat: 5, Lng: 5}},
			{PlaceID: "outside", Coordinates: &wire.Coordinates{Lat: 50, Lng: 50}},
			{PlaceID: "unknown"},
		},
	}

	tasks, _ := e.handlePage(page, 1, "")
	require.Len(t, tasks, 1)
	require.Equal(t, "inside", tasks[0].Stub.PlaceID)

	// rejected places are still cached for future searches
	require.True(t, e.cache.Has("outside"))
	require.True(t, e.cache.Has("unknown"))

	require.Contains(t, e.stats.Summary(), "geo_rejected=2")
}

func TestHandlePageAcceptUnknownCoordsPolicy(t *testing.T) {
	opts := DefaultOptions()
	opts.Geofence = geo.PolygonFromRings([]geo.Point{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0},
	})
	opts.AcceptUnknownCoords = true

	e := newTestEnqueuer(t, opts, 0)

	page := &wire.SearchPage{
		Organic: []wire.PlaceStub{{PlaceID: "unknown"}},
	}

	tasks, _ := e.handlePage(page, 1, "")
	require.Len(t, tasks, 1)
}

func TestHandlePageCoordsFallBackToCache(t *testing.T) {
	e := newTestEnqueuer(t, nil, 0)
	e.cache.Put("known-before", "earlier search", &geo.Point{Lat: 3, Lng: 4})

	page := &wire.SearchPage{
		Organic: []wire.PlaceStub{{PlaceID: "known-before"}},
	}

	tasks, _ := e.handlePage(page, 1, "")
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].Stub.Coordinates)
	require.Equal(t, 3.0, tasks[0].Stub.Coordinates.Lat)
}
