// Package databaserunner runs the crawl against a postgres-backed work
// queue, either producing seed jobs or consuming the queue. Multiple
// consumer instances can share one database.
package databaserunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gosom/scrapemate"
	"github.com/gosom/scrapemate/scrapemateapp"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/placecrawl/placecrawl/deduper"
	"github.com/placecrawl/placecrawl/exiter"
	"github.com/placecrawl/placecrawl/gmaps"
	"github.com/placecrawl/placecrawl/kv"
	"github.com/placecrawl/placecrawl/placecache"
	"github.com/placecrawl/placecrawl/postgres"
	"github.com/placecrawl/placecrawl/quota"
	"github.com/placecrawl/placecrawl/runner"
	"github.com/placecrawl/placecrawl/s3uploader"
	"github.com/placecrawl/placecrawl/snapshot"
	"github.com/placecrawl/placecrawl/stats"
	"github.com/placecrawl/placecrawl/tlmt"
)

type dbRunner struct {
	cfg      *runner.Config
	conn     *sql.DB
	provider scrapemate.JobProvider
	produce  bool
	app      *scrapemateapp.ScrapemateApp
	opts     *gmaps.ScrapingOptions

	// consumer-local crawl state; queued payloads carry data only, so
	// every consumer wires its own components into decoded jobs
	store       kv.Store
	quota       *quota.Tracker
	cache       *placecache.Cache
	stats       *stats.Collector
	snapshotter *snapshot.Snapshotter
	dedup       deduper.Deduper
	exitMonitor exiter.Exiter
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeDatabase && cfg.RunMode != runner.RunModeDatabaseProduce {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	conn, err := openPsqlConn(cfg.Dsn)
	if err != nil {
		return nil, err
	}

	if err := postgres.CreateTables(context.Background(), conn); err != nil {
		return nil, err
	}

	opts, err := runner.ScrapingOptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	ans := dbRunner{
		cfg:     cfg,
		conn:    conn,
		produce: cfg.ProduceOnly,
		opts:    opts,
	}

	if ans.produce {
		ans.provider = postgres.NewProvider(conn)

		return &ans, nil
	}

	if err := ans.setState(); err != nil {
		return nil, err
	}

	ans.provider = postgres.NewProvider(conn, postgres.WithJobEnricher(ans.enrichJob))

	writers := []scrapemate.ResultWriter{
		postgres.NewResultWriter(conn),
	}

	appOpts := []func(*scrapemateapp.Config) error{
		scrapemateapp.WithConcurrency(cfg.Concurrency),
		scrapemateapp.WithProvider(ans.provider),
	}

	if cfg.ExitOnInactivityDuration > 0 {
		appOpts = append(appOpts, scrapemateapp.WithExitOnInactivity(cfg.ExitOnInactivityDuration))
	}

	if len(cfg.Proxies) > 0 {
		appOpts = append(appOpts, scrapemateapp.WithProxies(cfg.Proxies))
	}

	if cfg.Debug {
		appOpts = append(appOpts, scrapemateapp.WithJS(
			scrapemateapp.Headfull(),
			scrapemateapp.DisableImages(),
		))
	} else {
		appOpts = append(appOpts, scrapemateapp.WithJS(scrapemateapp.DisableImages()))
	}

	if !cfg.DisablePageReuse {
		appOpts = append(appOpts, scrapemateapp.WithPageReuseLimit(200))
	}

	matecfg, err := scrapemateapp.NewConfig(writers, appOpts...)
	if err != nil {
		return nil, err
	}

	ans.app, err = scrapemateapp.NewScrapeMateApp(matecfg)
	if err != nil {
		return nil, err
	}

	return &ans, nil
}

// setState opens the consumer-local durable state store and builds the
// crawl components shared by every decoded job.
func (d *dbRunner) setState() error {
	if err := os.MkdirAll(d.cfg.DataFolder, 0o755); err != nil {
		return err
	}

	store, err := kv.NewSQLite(filepath.Join(d.cfg.DataFolder, "state.db"))
	if err != nil {
		return err
	}

	d.store = store
	d.quota = quota.New(store, d.cfg.MaxPlaces, d.cfg.MaxPlacesPerSearch)
	d.cache = placecache.New(store, d.cfg.CacheKey)
	d.stats = stats.New(store)
	d.dedup = deduper.New()
	d.exitMonitor = exiter.New()

	var uploader snapshot.Uploader

	if d.cfg.AwsAccessKey != "" && d.cfg.S3Bucket != "" {
		uploader, err = s3uploader.New(context.Background(),
			d.cfg.AwsAccessKey, d.cfg.AwsSecretKey, d.cfg.AwsRegion,
			d.cfg.S3Bucket, d.cfg.S3Endpoint)
		if err != nil {
			return fmt.Errorf("snapshot uploader: %w", err)
		}
	}

	d.snapshotter = snapshot.New(store, uploader)

	return nil
}

// enrichJob re-attaches the consumer's runtime components to a job decoded
// from the queue.
func (d *dbRunner) enrichJob(job scrapemate.IJob) {
	switch j := job.(type) {
	case *gmaps.SearchJob:
		j.Deduper = d.dedup
		j.ExitMonitor = d.exitMonitor
		j.Quota = d.quota
		j.Cache = d.cache
		j.Stats = d.stats
		j.Store = d.store
		j.Snapshotter = d.snapshotter
	case *gmaps.PlaceJob:
		j.ExitMonitor = d.exitMonitor
		j.Stats = d.stats
		j.Store = d.store
		j.Snapshotter = d.snapshotter
	}
}

func (d *dbRunner) Run(ctx context.Context) (err error) {
	t0 := time.Now().UTC()

	defer func() {
		elapsed := time.Now().UTC().Sub(t0)
		params := map[string]any{
			"produce":  d.produce,
			"duration": elapsed.String(),
		}

		if err != nil {
			params["error"] = err.Error()
		}

		evt := tlmt.NewEvent("database_runner", params)

		_ = runner.Telemetry().Send(ctx, evt)
	}()

	if d.produce {
		return d.produceSeedJobs(ctx)
	}

	if err = d.loadState(ctx); err != nil {
		return err
	}

	seedCount, err := postgres.SeedCount(ctx, d.conn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.exitMonitor.SetSeedCount(seedCount)
	d.exitMonitor.SetCancelFunc(cancel)
	d.exitMonitor.SetResultCounter(postgres.ResultCount{DB: d.conn})

	go d.exitMonitor.Run(ctx)
	go d.stats.LogEvery(ctx, 2*time.Minute, func(line string) {
		fmt.Fprintln(os.Stderr, line)
	})
	go d.persistEvery(ctx, time.Minute)

	err = d.app.Start(ctx)

	d.persistState(context.WithoutCancel(ctx))

	return err
}

func (d *dbRunner) loadState(ctx context.Context) error {
	if err := d.quota.Load(ctx); err != nil {
		return err
	}

	if err := d.cache.Load(ctx); err != nil {
		return err
	}

	if err := d.stats.Load(ctx); err != nil {
		return err
	}

	return d.snapshotter.Load(ctx)
}

func (d *dbRunner) persistEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.persistState(ctx)
		}
	}
}

func (d *dbRunner) persistState(ctx context.Context) {
	if err := d.quota.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist quota state: %v\n", err)
	}

	if err := d.cache.Save(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist place cache: %v\n", err)
	}

	if err := d.stats.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist statistics: %v\n", err)
	}

	if err := d.snapshotter.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "persist snapshot state: %v\n", err)
	}
}

// produceSeedJobs pushes one search job per input line into the queue.
// Shared components are not attached; they would not survive encoding, and
// each consumer wires its own on decode.
func (d *dbRunner) produceSeedJobs(ctx context.Context) error {
	var input *os.File

	switch d.cfg.InputFile {
	case "", "stdin":
		input = os.Stdin
	default:
		f, err := os.Open(d.cfg.InputFile)
		if err != nil {
			return err
		}

		defer f.Close()

		input = f
	}

	jobs, err := runner.CreateSeedJobs(d.cfg, input, d.opts, runner.SeedDeps{})
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		return errors.New("no seed jobs to produce")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, job := range jobs {
		g.Go(func() error {
			return d.provider.Push(ctx, job)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "produced %d seed jobs\n", len(jobs))

	return nil
}

func (d *dbRunner) Close(context.Context) error {
	if d.store != nil {
		if closer, ok := d.store.(io.Closer); ok {
			_ = closer.Close()
		}
	}

	if d.app != nil {
		return d.app.Close()
	}

	if d.conn != nil {
		return d.conn.Close()
	}

	return nil
}

func openPsqlConn(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(10)

	return conn, nil
}
