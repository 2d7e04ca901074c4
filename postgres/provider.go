// Package postgres provides the durable work queue and result store used in
// database mode, so multiple crawler instances can cooperate on one queue.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/gosom/scrapemate"

	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/gmaps"
	"github.com/placecrawl/placecrawl/wire"
)

const (
	statusNew    = "new"
	statusQueued = "queued"
	statusDone   = "done"
	statusFailed = "failed"
)

var _ scrapemate.JobProvider = (*provider)(nil)

type provider struct {
	db *sql.DB

	jobc     chan scrapemate.IJob
	errc     chan error
	started  bool
	batchLen int
	enrich   func(scrapemate.IJob)
}

type ProviderOption func(*provider)

// WithJobEnricher attaches runtime components to every job decoded from the
// queue. Queued payloads carry data only, so each consumer re-wires its own
// quota, cache, stores and exit tracking through this hook.
func WithJobEnricher(fn func(scrapemate.IJob)) ProviderOption {
	return func(p *provider) {
		p.enrich = fn
	}
}

func NewProvider(db *sql.DB, opts ...ProviderOption) scrapemate.JobProvider {
	p := &provider{
		db:       db,
		jobc:     make(chan scrapemate.IJob, 100),
		errc:     make(chan error, 1),
		batchLen: 50,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *provider) Push(ctx context.Context, job scrapemate.IJob) error {
	payloadType, payload, err := encodeJob(job)
	if err != nil {
		return err
	}

	const q = `INSERT INTO crawl_jobs
		(id, priority, payload_type, payload, created_at, status)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (id) DO NOTHING`

	_, err = p.db.ExecContext(ctx, q,
		job.GetID(), job.GetPriority(), payloadType, payload, statusNew)

	return err
}

// Jobs streams queued jobs ordered by priority, marking each batch as
// queued inside a transaction so cooperating instances never double-fetch.
func (p *provider) Jobs(ctx context.Context) (<-chan scrapemate.IJob, <-chan error) {
	if !p.started {
		p.started = true

		go p.fetchLoop(ctx)
	}

	return p.jobc, p.errc
}

func (p *provider) fetchLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond * 500)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := p.fetchBatch(ctx)
			if err != nil {
				select {
				case p.errc <- err:
				default:
				}

				return
			}

			for _, job := range jobs {
				select {
				case <-ctx.Done():
					return
				case p.jobc <- job:
				}
			}
		}
	}
}

func (p *provider) fetchBatch(ctx context.Context) ([]scrapemate.IJob, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	const q = `
		WITH batch AS (
			SELECT id FROM crawl_jobs
			WHERE status = $1
			ORDER BY priority ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE crawl_jobs SET status = $3
		WHERE id IN (SELECT id FROM batch)
		RETURNING payload_type, payload`

	rows, err := tx.QueryContext(ctx, q, statusNew, p.batchLen, statusQueued)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var jobs []scrapemate.IJob

	for rows.Next() {
		var (
			payloadType string
			payload     []byte
		)

		if err := rows.Scan(&payloadType, &payload); err != nil {
			return nil, err
		}

		job, err := decodeJob(payloadType, payload)
		if err != nil {
			return nil, err
		}

		if p.enrich != nil {
			p.enrich(job)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, tx.Commit()
}

// MarkDone flags a job finished so a resumed run does not repeat it.
func MarkDone(ctx context.Context, db *sql.DB, id string, failed bool) error {
	status := statusDone
	if failed {
		status = statusFailed
	}

	_, err := db.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = $1 WHERE id = $2`, status, id)

	return err
}

const (
	payloadTypeSearch = "search"
	payloadTypePlace  = "place"
)

// Queue payloads are plain exported structs rather than the job types
// themselves. Jobs hold unexported crawl state and a parsed geofence,
// neither of which survives gob; decoding rebuilds jobs through their
// constructors so they come back in the same state a fresh job starts in.
type optionsPayload struct {
	LangCode string

	MaxPageDepth        int
	MaxReviews          int
	MaxImages           int
	MaxAutomaticZoomOut int

	ReviewSort      wire.ReviewSort
	TranslationMode wire.TranslationMode
	PersonalData    wire.PersonalDataOptions

	GeofenceGeoJSON     []byte
	AcceptUnknownCoords bool
	AdsCountTowardQuota bool

	ExtractHours            bool
	ExtractPopularTimes     bool
	ExtractPeopleAlsoSearch bool
	ExtractAttributes       bool
	ExtractReviews          bool
	ExtractImages           bool
}

type searchJobPayload struct {
	ID        string
	Query     string
	URL       string
	URLParams map[string]string
	Options   optionsPayload
}

type placeJobPayload struct {
	ID       string
	ParentID string
	URL      string
	Task     gmaps.PlaceTask
	Options  optionsPayload
}

func optionsToPayload(o *gmaps.ScrapingOptions) (optionsPayload, error) {
	if o == nil {
		o = gmaps.DefaultOptions()
	}

	fence, err := o.Geofence.MarshalGeoJSON()
	if err != nil {
		return optionsPayload{}, fmt.Errorf("postgres: encode geofence: %w", err)
	}

	return optionsPayload{
		LangCode:                o.LangCode,
		MaxPageDepth:            o.MaxPageDepth,
		MaxReviews:              o.MaxReviews,
		MaxImages:               o.MaxImages,
		MaxAutomaticZoomOut:     o.MaxAutomaticZoomOut,
		ReviewSort:              o.ReviewSort,
		TranslationMode:         o.TranslationMode,
		PersonalData:            o.PersonalData,
		GeofenceGeoJSON:         fence,
		AcceptUnknownCoords:     o.AcceptUnknownCoords,
		AdsCountTowardQuota:     o.AdsCountTowardQuota,
		ExtractHours:            o.ExtractHours,
		ExtractPopularTimes:     o.ExtractPopularTimes,
		ExtractPeopleAlsoSearch: o.ExtractPeopleAlsoSearch,
		ExtractAttributes:       o.ExtractAttributes,
		ExtractReviews:          o.ExtractReviews,
		ExtractImages:           o.ExtractImages,
	}, nil
}

func optionsFromPayload(p optionsPayload) (*gmaps.ScrapingOptions, error) {
	o := &gmaps.ScrapingOptions{
		LangCode:                p.LangCode,
		MaxPageDepth:            p.MaxPageDepth,
		MaxReviews:              p.MaxReviews,
		MaxImages:               p.MaxImages,
		MaxAutomaticZoomOut:     p.MaxAutomaticZoomOut,
		ReviewSort:              p.ReviewSort,
		TranslationMode:         p.TranslationMode,
		PersonalData:            p.PersonalData,
		AcceptUnknownCoords:     p.AcceptUnknownCoords,
		AdsCountTowardQuota:     p.AdsCountTowardQuota,
		ExtractHours:            p.ExtractHours,
		ExtractPopularTimes:     p.ExtractPopularTimes,
		ExtractPeopleAlsoSearch: p.ExtractPeopleAlsoSearch,
		ExtractAttributes:       p.ExtractAttributes,
		ExtractReviews:          p.ExtractReviews,
		ExtractImages:           p.ExtractImages,
	}

	if len(p.GeofenceGeoJSON) > 0 {
		fence, err := geo.PolygonFromGeoJSON(p.GeofenceGeoJSON)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode geofence: %w", err)
		}

		o.Geofence = fence
	}

	return o, nil
}

func encodeJob(job scrapemate.IJob) (string, []byte, error) {
	var buf bytes.Buffer

	enc := gob.NewEncoder(&buf)

	switch j := job.(type) {
	case *gmaps.SearchJob:
		opts, err := optionsToPayload(j.Opts)
		if err != nil {
			return "", nil, err
		}

		payload := searchJobPayload{
			ID:        j.ID,
			Query:     j.Query,
			URL:       j.URL,
			URLParams: j.URLParams,
			Options:   opts,
		}

		if err := enc.Encode(payload); err != nil {
			return "", nil, fmt.Errorf("postgres: encode search job: %w", err)
		}

		return payloadTypeSearch, buf.Bytes(), nil
	case *gmaps.PlaceJob:
		opts, err := optionsToPayload(j.Opts)
		if err != nil {
			return "", nil, err
		}

		payload := placeJobPayload{
			ID:       j.ID,
			ParentID: j.ParentID,
			URL:      j.URL,
			Task:     j.Task,
			Options:  opts,
		}

		if err := enc.Encode(payload); err != nil {
			return "", nil, fmt.Errorf("postgres: encode place job: %w", err)
		}

		return payloadTypePlace, buf.Bytes(), nil
	default:
		return "", nil, fmt.Errorf("postgres: cannot encode job type %T", job)
	}
}

func decodeJob(payloadType string, payload []byte) (scrapemate.IJob, error) {
	dec := gob.NewDecoder(bytes.NewReader(payload))

	switch payloadType {
	case payloadTypeSearch:
		var p searchJobPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("postgres: decode search job: %w", err)
		}

		opts, err := optionsFromPayload(p.Options)
		if err != nil {
			return nil, err
		}

		job := gmaps.NewSearchJob(p.ID, p.Query, "", 0, opts)
		job.URL = p.URL
		job.URLParams = p.URLParams

		return job, nil
	case payloadTypePlace:
		var p placeJobPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("postgres: decode place job: %w", err)
		}

		opts, err := optionsFromPayload(p.Options)
		if err != nil {
			return nil, err
		}

		job := gmaps.NewPlaceJob(p.ParentID, p.URL, p.Task, opts)
		job.ID = p.ID

		return job, nil
	default:
		return nil, errors.New("postgres: unknown payload type " + payloadType)
	}
}

// SeedCount reports how many search seeds the queue holds in any status,
// used by consumers to tell the exit tracker the size of the crawl.
func SeedCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crawl_jobs WHERE payload_type = $1`,
		payloadTypeSearch).Scan(&n)

	return n, err
}

// CreateTables installs the queue and result schema.
func CreateTables(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS crawl_jobs (
		id TEXT PRIMARY KEY,
		priority SMALLINT NOT NULL,
		payload_type TEXT NOT NULL,
		payload BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS crawl_jobs_status_idx
		ON crawl_jobs (status, priority, created_at);

	CREATE TABLE IF NOT EXISTS results (
		id SERIAL PRIMARY KEY,
		place_id TEXT,
		search_string TEXT,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS results_place_idx ON results (place_id);
	`

	_, err := db.ExecContext(ctx, schema)

	return err
}
