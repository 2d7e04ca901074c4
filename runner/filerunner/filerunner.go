// Package filerunner runs a crawl against a local input file, writing
// results to a CSV or JSON file and keeping durable state in a sqlite
// database under the data folder.
package filerunner

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gosom/scrapemate"
	"github.com/gosom/scrapemate/adapters/writers/csvwriter"
	"github.com/gosom/scrapemate/adapters/writers/jsonwriter"
	"github.com/gosom/scrapemate/scrapemateapp"

	"github.com/placecrawl/placecrawl/deduper"
	"github.com/placecrawl/placecrawl/exiter"
	"github.com/placecrawl/placecrawl/gmaps"
	"github.com/placecrawl/placecrawl/kv"
	"github.com/placecrawl/placecrawl/placecache"
	"github.com/placecrawl/placecrawl/quota"
	"github.com/placecrawl/placecrawl/runner"
	"github.com/placecrawl/placecrawl/s3uploader"
	"github.com/placecrawl/placecrawl/snapshot"
	"github.com/placecrawl/placecrawl/stats"
	"github.com/placecrawl/placecrawl/tlmt"
)

type fileRunner struct {
	cfg     *runner.Config
	input   io.Reader
	writers []scrapemate.ResultWriter
	app     *scrapemateapp.ScrapemateApp
	outfile *os.File

	store       kv.Store
	quota       *quota.Tracker
	cache       *placecache.Cache
	stats       *stats.Collector
	snapshotter *snapshot.Snapshotter
	opts        *gmaps.ScrapingOptions
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeFile {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	ans := &fileRunner{
		cfg: cfg,
	}

	if err := ans.setInput(); err != nil {
		return nil, err
	}

	if err := ans.setWriters(); err != nil {
		return nil, err
	}

	if err := ans.setState(); err != nil {
		return nil, err
	}

	if err := ans.setApp(); err != nil {
		return nil, err
	}

	return ans, nil
}

func (r *fileRunner) Run(ctx context.Context) (err error) {
	var seedJobs []scrapemate.IJob

	t0 := time.Now().UTC()

	defer func() {
		elapsed := time.Now().UTC().Sub(t0)
		params := map[string]any{
			"job_count": len(seedJobs),
			"duration":  elapsed.String(),
		}

		if err != nil {
			params["error"] = err.Error()
		}

		evt := tlmt.NewEvent("file_runner", params)

		_ = runner.Telemetry().Send(ctx, evt)
	}()

	if err = r.loadState(ctx); err != nil {
		return err
	}

	dedup := deduper.New()
	exitMonitor := exiter.New()

	seedJobs, err = runner.CreateSeedJobs(r.cfg, r.input, r.opts, runner.SeedDeps{
		Deduper:     dedup,
		ExitMonitor: exitMonitor,
		Quota:       r.quota,
		Cache:       r.cache,
		Stats:       r.stats,
		Store:       r.store,
		Snapshotter: r.snapshotter,
	})
	if err != nil {
		return err
	}

	exitMonitor.SetSeedCount(len(seedJobs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exitMonitor.SetCancelFunc(cancel)

	go exitMonitor.Run(ctx)
	go r.stats.LogEvery(ctx, 2*time.Minute, func(line string) {
		fmt.Fprintln(os.Stderr, line)
	})
	go r.persistEvery(ctx, time.Minute)

	err = r.app.Start(ctx, seedJobs...)

	r.persistState(context.WithoutCancel(ctx))

	if r.stats != nil {
		fmt.Fprintln(os.Stderr, r.stats.Summary())
	}

	return err
}

func (r *fileRunner) Close(context.Context) error {
	if closer, ok := r.store.(io.Closer); ok {
		_ = closer.Close()
	}

	if r.app != nil {
		return r.app.Close()
	}

	if r.input != nil {
		if closer, ok := r.input.(io.Closer); ok {
			return closer.Close()
		}
	}

	if r.outfile != nil {
		return r.outfile.Close()
	}

	return nil
}

func (r *fileRunner) setInput() error {
	switch r.cfg.InputFile {
	case "", "stdin":
		r.input = os.Stdin
	default:
		f, err := os.Open(r.cfg.InputFile)
		if err != nil {
			return err
		}

		r.input = f
	}

	return nil
}

func (r *fileRunner) setWriters() error {
	var resultsWriter io.Writer

	switch r.cfg.ResultsFile {
	case "stdout":
		resultsWriter = os.Stdout
	default:
		f, err := os.Create(r.cfg.ResultsFile)
		if err != nil {
			return err
		}

		r.outfile = f

		resultsWriter = r.outfile
	}

	if r.cfg.JSON {
		r.writers = append(r.writers, jsonwriter.NewJSONWriter(resultsWriter))

		return nil
	}

	// BOM so spreadsheet applications detect the encoding
	if resultsWriter != os.Stdout {
		bom := []byte{0xEF, 0xBB, 0xBF}
		if _, err := resultsWriter.Write(bom); err != nil {
			return fmt.Errorf("write byte order mark: %w", err)
		}
	}

	r.writers = append(r.writers, csvwriter.NewCsvWriter(csv.NewWriter(resultsWriter)))

	return nil
}

// setState opens the durable state store and builds the crawl components
// that persist across runs: quota, place cache, statistics, snapshotter.
func (r *fileRunner) setState() error {
	if err := os.MkdirAll(r.cfg.DataFolder, 0o755); err != nil {
		return err
	}

	store, err := kv.NewSQLite(filepath.Join(r.cfg.DataFolder, "state.db"))
	if err != nil {
		return err
	}

	r.store = store
	r.quota = quota.New(store, r.cfg.MaxPlaces, r.cfg.MaxPlacesPerSearch)
	r.cache = placecache.New(store, r.cfg.CacheKey)
	r.stats = stats.New(store)

	var uploader snapshot.Uploader

	if r.cfg.AwsAccessKey != "" && r.cfg.S3Bucket != "" {
		uploader, err = s3uploader.New(context.Background(),
			r.cfg.AwsAccessKey, r.cfg.AwsSecretKey, r.cfg.AwsRegion,
			r.cfg.S3Bucket, r.cfg.S3Endpoint)
		if err != nil {
			return fmt.Errorf("snapshot uploader: %w", err)
		}
	}

	r.snapshotter = snapshot.New(store, uploader)

	r.opts, err = runner.ScrapingOptionsFromConfig(r.cfg)

	return err
}

func (r *fileRunner) loadState(ctx context.Context) error {
	if err := r.quota.Load(ctx); err != nil {
		return err
	}

	if err := r.cache.Load(ctx); err != nil {
		return err
	}

	if err := r.stats.Load(ctx); err != nil {
		return err
	}

	return r.snapshotter.Load(ctx)
}

// persistEvery flushes the crawl state on an interval while the crawl runs,
// so a killed process loses at most one interval of progress.
func (r *fileRunner) persistEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.persistState(ctx)
		}
	}
}

// persistState writes the crawl state back even when the run was cancelled,
// so the next invocation resumes instead of starting over.
func (r *fileRunner) persistState(ctx context.Context) {
	if err := r.quota.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist quota state: %v\n", err)
	}

	if err := r.cache.Save(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist place cache: %v\n", err)
	}

	if err := r.stats.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist statistics: %v\n", err)
	}

	if err := r.snapshotter.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist snapshot state: %v\n", err)
	}
}

func (r *fileRunner) setApp() error {
	opts := []func(*scrapemateapp.Config) error{
		scrapemateapp.WithConcurrency(r.cfg.Concurrency),
	}

	if r.cfg.ExitOnInactivityDuration > 0 {
		opts = append(opts, scrapemateapp.WithExitOnInactivity(r.cfg.ExitOnInactivityDuration))
	}

	if len(r.cfg.Proxies) > 0 {
		opts = append(opts, scrapemateapp.WithProxies(r.cfg.Proxies))
	}

	if r.cfg.Debug {
		opts = append(opts, scrapemateapp.WithJS(
			scrapemateapp.Headfull(),
			scrapemateapp.DisableImages(),
		))
	} else {
		opts = append(opts, scrapemateapp.WithJS(scrapemateapp.DisableImages()))
	}

	if !r.cfg.DisablePageReuse {
		opts = append(opts, scrapemateapp.WithPageReuseLimit(200))
	}

	matecfg, err := scrapemateapp.NewConfig(
		r.writers,
		opts...,
	)
	if err != nil {
		return err
	}

	r.app, err = scrapemateapp.NewScrapeMateApp(matecfg)

	return err
}
