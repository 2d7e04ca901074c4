package gmaps

import (
	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/placecache"
	"github.com/placecrawl/placecrawl/quota"
	"github.com/placecrawl/placecrawl/stats"
	"github.com/placecrawl/placecrawl/wire"
)

// searchPageSize is how many organic results one listing page carries.
const searchPageSize = 20

// PlaceTask is an accepted search hit, ready to be enqueued as a detail
// extraction job.
type PlaceTask struct {
	Stub         wire.PlaceStub
	Rank         int
	SearchString string
	PageURL      string
}

// enqueuer turns decoded search pages into place tasks, applying quota,
// geofence and cache policy. One per search job, fed by the response
// observer.
type enqueuer struct {
	query string
	opts  *ScrapingOptions

	quota *quota.Tracker
	cache *placecache.Cache
	stats *stats.Collector
}

// handlePage processes one decoded search page. The returned quotaReached
// flag tells the pagination loop to stop turning pages.
//
// Ads are counted in statistics but never ranked; whether they consume
// crawl budget is a policy switch. Every observed place updates the cache,
// rejected ones included, so the region stays informative for later
// searches.
func (e *enqueuer) handlePage(page *wire.SearchPage, pageNo int, pageURL string) ([]PlaceTask, bool) {
	if e.stats != nil {
		e.stats.SearchPage()
		e.stats.Ads(len(page.Ads))
	}

	if e.opts.AdsCountTowardQuota && e.quota != nil {
		for range page.Ads {
			if !e.quota.TryReserve(e.query) {
				break
			}
		}
	}

	var (
		tasks        []PlaceTask
		quotaReached bool
	)

	for idx, stub := range page.Organic {
		coords := e.resolveCoords(stub)
		e.cachePut(stub.PlaceID, coords)

		if !e.geofenceAccepts(coords) {
			if e.stats != nil {
				e.stats.GeoRejected()
			}

			continue
		}

		if quotaReached {
			continue
		}

		if e.quota != nil && !e.quota.TryReserve(e.query) {
			quotaReached = true
			continue
		}

		if e.stats != nil {
			e.stats.PlaceFound()
		}

		task := PlaceTask{
			Stub:         stub,
			Rank:         (pageNo-1)*searchPageSize + idx + 1,
			SearchString: e.query,
			PageURL:      pageURL,
		}

		if coords != nil && task.Stub.Coordinates == nil {
			task.Stub.Coordinates = &wire.Coordinates{Lat: coords.Lat, Lng: coords.Lng}
		}

		tasks = append(tasks, task)
	}

	return tasks, quotaReached
}

// resolveCoords prefers freshly decoded coordinates, falling back to the
// last known cached location.
func (e *enqueuer) resolveCoords(stub wire.PlaceStub) *geo.Point {
	if stub.Coordinates != nil {
		return &geo.Point{Lat: stub.Coordinates.Lat, Lng: stub.Coordinates.Lng}
	}

	if e.cache != nil {
		return e.cache.Location(stub.PlaceID)
	}

	return nil
}

func (e *enqueuer) cachePut(placeID string, coords *geo.Point) {
	if e.cache == nil || placeID == "" {
		return
	}

	e.cache.Put(placeID, e.query, coords)
}

// geofenceAccepts applies enqueue policy: the fence decides for known
// coordinates, AcceptUnknownCoords decides for unknown ones.
func (e *enqueuer) geofenceAccepts(coords *geo.Point) bool {
	if e.opts.Geofence == nil {
		return true
	}

	if coords == nil {
		return e.opts.AcceptUnknownCoords
	}

	return geo.PointInPolygon(e.opts.Geofence, coords)
}

// quotaHeadroom reports whether the search can still enqueue, without
// reserving. Used by the pagination loop to stop turning pages early.
func (e *enqueuer) quotaHeadroom() bool {
	if e.quota == nil {
		return true
	}

	return e.quota.CanEnqueueMore(e.query)
}
