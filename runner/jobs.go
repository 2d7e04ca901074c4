package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gosom/scrapemate"

	"github.com/placecrawl/placecrawl/deduper"
	"github.com/placecrawl/placecrawl/exiter"
	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/gmaps"
	"github.com/placecrawl/placecrawl/kv"
	"github.com/placecrawl/placecrawl/placecache"
	"github.com/placecrawl/placecrawl/quota"
	"github.com/placecrawl/placecrawl/snapshot"
	"github.com/placecrawl/placecrawl/stats"
	"github.com/placecrawl/placecrawl/wire"
)

// SeedDeps carries the shared crawl components every seed job is wired to.
type SeedDeps struct {
	Deduper     deduper.Deduper
	ExitMonitor exiter.Exiter
	Quota       *quota.Tracker
	Cache       *placecache.Cache
	Stats       *stats.Collector
	Store       kv.Store
	Snapshotter *snapshot.Snapshotter
}

// ScrapingOptionsFromConfig builds the immutable per-run options bag.
func ScrapingOptionsFromConfig(cfg *Config) (*gmaps.ScrapingOptions, error) {
	opts := gmaps.DefaultOptions()

	opts.LangCode = cfg.LangCode
	opts.MaxPageDepth = cfg.MaxDepth
	opts.MaxReviews = cfg.MaxReviews
	opts.MaxImages = cfg.MaxImages
	opts.MaxAutomaticZoomOut = cfg.MaxAutomaticZoomOut
	opts.ReviewSort = cfg.ReviewSortMode()
	opts.TranslationMode = cfg.TranslationPreference()
	opts.PersonalData = cfg.PersonalData()
	opts.AdsCountTowardQuota = cfg.AdsConsumeQuota
	opts.ExtractReviews = cfg.MaxReviews > 0
	opts.ExtractImages = cfg.MaxImages > 0

	if cfg.GeofenceFile != "" {
		data, err := os.ReadFile(cfg.GeofenceFile)
		if err != nil {
			return nil, fmt.Errorf("read geofence file: %w", err)
		}

		fence, err := geo.PolygonFromGeoJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse geofence file: %w", err)
		}

		opts.Geofence = fence
	}

	return opts, nil
}

// CreateSeedJobs reads one search query per line and builds the seed search
// jobs. A line of the form "query #!# id" pins the job ID, which keeps the
// pagination cursor stable across restarts.
func CreateSeedJobs(
	cfg *Config,
	r io.Reader,
	opts *gmaps.ScrapingOptions,
	deps SeedDeps,
) (jobs []scrapemate.IJob, err error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		query := strings.TrimSpace(scanner.Text())
		if query == "" || strings.HasPrefix(query, "#") {
			continue
		}

		var id string

		if before, after, ok := strings.Cut(query, "#!#"); ok {
			query = strings.TrimSpace(before)
			id = strings.TrimSpace(after)
		}

		jopts := []gmaps.SearchJobOptions{}

		if deps.Deduper != nil {
			jopts = append(jopts, gmaps.WithSearchDeduper(deps.Deduper))
		}

		if deps.ExitMonitor != nil {
			jopts = append(jopts, gmaps.WithSearchExitMonitor(deps.ExitMonitor))
		}

		if deps.Quota != nil {
			jopts = append(jopts, gmaps.WithSearchQuota(deps.Quota))
		}

		if deps.Cache != nil {
			jopts = append(jopts, gmaps.WithSearchPlaceCache(deps.Cache))
		}

		if deps.Stats != nil {
			jopts = append(jopts, gmaps.WithSearchStats(deps.Stats))
		}

		if deps.Store != nil {
			jopts = append(jopts, gmaps.WithSearchStore(deps.Store))
		}

		if deps.Snapshotter != nil {
			jopts = append(jopts, gmaps.WithSearchSnapshotter(deps.Snapshotter))
		}

		job := gmaps.NewSearchJob(id, query, cfg.GeoCoordinates, cfg.ZoomLevel, opts, jopts...)
		jobs = append(jobs, job)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if cfg.UseCachedPlaces && deps.Cache != nil {
		jobs = append(jobs, cachedPlaceJobs(cfg, opts, deps, queriesOf(jobs))...)
	}

	return jobs, nil
}

// cachedPlaceJobs re-serves already-known places inside the fenced region
// without re-running the search, one detail job per cached candidate.
func cachedPlaceJobs(
	cfg *Config,
	opts *gmaps.ScrapingOptions,
	deps SeedDeps,
	keywords []string,
) []scrapemate.IJob {
	limit := cfg.MaxPlaces
	ids := deps.Cache.IDsInRegion(opts.Geofence, limit, keywords...)

	var jobs []scrapemate.IJob

	popts := []gmaps.PlaceJobOptions{}

	if deps.ExitMonitor != nil {
		popts = append(popts, gmaps.WithPlaceExitMonitor(deps.ExitMonitor))
	}

	if deps.Stats != nil {
		popts = append(popts, gmaps.WithPlaceStats(deps.Stats))
	}

	for _, id := range ids {
		if deps.Quota != nil && !deps.Quota.TryReserve("cached") {
			break
		}

		var location *wire.Coordinates

		if entry, ok := deps.Cache.Get(id); ok && entry.Location != nil {
			location = &wire.Coordinates{Lat: entry.Location.Lat, Lng: entry.Location.Lng}
		}

		jobs = append(jobs, gmaps.NewCachedPlaceJob(id, "cached", location, opts, popts...))
	}

	return jobs
}

func queriesOf(jobs []scrapemate.IJob) []string {
	var out []string

	for _, job := range jobs {
		if sj, ok := job.(*gmaps.SearchJob); ok {
			out = append(out, sj.Query)
		}
	}

	return out
}
