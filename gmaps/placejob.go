package gmaps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/gosom/scrapemate"
	"github.com/playwright-community/playwright-go"

	olc "github.com/google/open-location-code/go"

	"github.com/placecrawl/placecrawl/exiter"
	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/kv"
	"github.com/placecrawl/placecrawl/localenum"
	"github.com/placecrawl/placecrawl/snapshot"
	"github.com/placecrawl/placecrawl/stats"
	"github.com/placecrawl/placecrawl/wire"
)

var _ scrapemate.IJob = (*PlaceJob)(nil)

type PlaceJobOptions func(*PlaceJob)

// PlaceJob crawls one place detail page and assembles the final record.
// Each optional extractor is isolated so one failure does not abort the
// others.
type PlaceJob struct {
	scrapemate.Job

	Task PlaceTask
	Opts *ScrapingOptions

	ExitMonitor exiter.Exiter
	Stats       *stats.Collector
	Store       kv.Store
	Snapshotter *snapshot.Snapshotter

	attempts int
	emit     bool
}

func NewPlaceJob(parentID, detailURL string, task PlaceTask, opts *ScrapingOptions, popts ...PlaceJobOptions) *PlaceJob {
	const maxRetries = 3

	if opts == nil {
		opts = DefaultOptions()
	}

	job := PlaceJob{
		Job: scrapemate.Job{
			ID:         uuid.New().String(),
			ParentID:   parentID,
			Method:     http.MethodGet,
			URL:        detailURL,
			MaxRetries: maxRetries,
			// forefront: crawl fresh discoveries before older queue
			// entries to bound queue growth on large result sets
			Priority: scrapemate.PriorityHigh,
		},
		Task: task,
		Opts: opts,
		emit: true,
	}

	for _, opt := range popts {
		opt(&job)
	}

	return &job
}

// NewCachedPlaceJob builds a detail job for a place known only from the
// place cache, used when re-serving a region without a fresh search.
func NewCachedPlaceJob(placeID, searchString string, location *wire.Coordinates, opts *ScrapingOptions, popts ...PlaceJobOptions) *PlaceJob {
	task := PlaceTask{
		Stub: wire.PlaceStub{
			PlaceID:     placeID,
			Coordinates: location,
		},
		SearchString: searchString,
	}

	return NewPlaceJob("", placeDetailURL("", placeID), task, opts, popts...)
}

func WithPlaceExitMonitor(e exiter.Exiter) PlaceJobOptions {
	return func(j *PlaceJob) {
		j.ExitMonitor = e
	}
}

func WithPlaceStats(s *stats.Collector) PlaceJobOptions {
	return func(j *PlaceJob) {
		j.Stats = s
	}
}

func WithPlaceStore(s kv.Store) PlaceJobOptions {
	return func(j *PlaceJob) {
		j.Store = s
	}
}

func WithPlaceSnapshotter(s *snapshot.Snapshotter) PlaceJobOptions {
	return func(j *PlaceJob) {
		j.Snapshotter = s
	}
}

func (j *PlaceJob) UseInResults() bool {
	return j.emit
}

func (j *PlaceJob) Process(ctx context.Context, resp *scrapemate.Response) (any, []scrapemate.IJob, error) {
	defer func() {
		resp.Document = nil
		resp.Body = nil
		resp.Meta = nil
	}()

	countCompletion := true
	defer func() {
		if countCompletion && j.ExitMonitor != nil {
			j.ExitMonitor.IncrPlacesCompleted(1)
		}
	}()

	if resp.Error != nil {
		if j.attempts < j.Job.MaxRetries {
			j.emit = false
			countCompletion = false

			return nil, nil, resp.Error
		}

		// retry budget exhausted: emit a failure marker instead of
		// dropping the place silently
		if j.Stats != nil {
			j.Stats.PlaceFailed()
		}

		result := j.baseResult(resp.URL)
		result.Failed = true
		result.FailureReason = resp.Error.Error()
		result.SnapshotKeys, _ = resp.Meta["snapshot_keys"].([]string)

		return &result, nil, nil
	}

	result := j.baseResult(resp.URL)

	if title, ok := resp.Meta["title"].(string); ok && title != "" {
		result.Title = title
	}

	if result.Title == "" && len(resp.Body) > 0 {
		if doc, derr := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body)); derr == nil {
			result.Title = strings.TrimSpace(doc.Find("h1").First().Text())
		}
	}

	j.fillScoreAndCount(&result, resp.Meta)

	if lat, lng, ok := coordsFromPlaceURL(resp.URL); ok {
		result.Location = &wire.Coordinates{Lat: lat, Lng: lng}
	}

	if result.Location != nil {
		result.PlusCode = olc.Encode(result.Location.Lat, result.Location.Lng, 11)

		if j.Opts.Geofence != nil {
			pt := &geo.Point{Lat: result.Location.Lat, Lng: result.Location.Lng}
			if !geo.PointInPolygon(j.Opts.Geofence, pt) {
				if j.Stats != nil {
					j.Stats.GeoRejected()
				}

				j.emit = false

				return nil, nil, nil
			}
		}
	}

	if hours, ok := resp.Meta["hours"].(map[string][]string); ok {
		result.OpeningHours = hours
	}

	if hist, ok := resp.Meta["popular_times"].(map[string]map[int]int); ok {
		result.PopularTimesHistogram = hist
	}

	if also, ok := resp.Meta["people_also_search"].([]string); ok {
		result.PeopleAlsoSearch = also
	}

	if info, ok := resp.Meta["additional_info"].(map[string][]string); ok {
		result.AdditionalInfo = info
	}

	if reviews, ok := resp.Meta["reviews"].([]wire.Review); ok {
		wire.RedactReviews(reviews, j.Opts.PersonalData)
		result.Reviews = reviews
	}

	if images, ok := resp.Meta["images"].([]string); ok {
		result.ImageURLs = images
	}

	result.SnapshotKeys, _ = resp.Meta["snapshot_keys"].([]string)

	if err := result.Validate(); err != nil {
		j.emit = false

		return nil, nil, err
	}

	if j.Stats != nil {
		j.Stats.PlaceCrawled()
	}

	return &result, nil, nil
}

func (j *PlaceJob) baseResult(url string) PlaceResult {
	result := PlaceResult{
		PlaceID:         j.Task.Stub.PlaceID,
		URL:             url,
		Title:           j.Task.Stub.Title,
		Rank:            j.Task.Rank,
		IsAdvertisement: j.Task.Stub.IsAdvertisement,
		SearchString:    j.Task.SearchString,
		ScrapedAt:       time.Now().UTC(),
		Address:         j.Task.Stub.AddressParsed,
		Score:           j.Task.Stub.Score,
		ReviewCount:     j.Task.Stub.ReviewCount,
	}

	if j.Task.Stub.Coordinates != nil {
		result.Location = j.Task.Stub.Coordinates
	}

	return result
}

// fillScoreAndCount prefers the inline decoded state, falling back to the
// DOM text read through the locale-aware parser when decoding failed or the
// value is absent.
func (j *PlaceJob) fillScoreAndCount(result *PlaceResult, meta map[string]any) {
	if state, ok := meta["app_state"].(*wire.InlineState); ok && state != nil {
		if state.Score > 0 {
			result.Score = state.Score
		}

		if state.ReviewCount > 0 {
			result.ReviewCount = state.ReviewCount
		}

		if result.Score > 0 && result.ReviewCount > 0 {
			return
		}
	}

	parser := localenum.ForLocale(j.Opts.LangCode)

	if result.ReviewCount == 0 {
		if text, ok := meta["count_text"].(string); ok {
			if n, parsed := parser.ParseInt(text); parsed {
				result.ReviewCount = n
			}
		}
	}

	if result.Score == 0 {
		if text, ok := meta["score_text"].(string); ok {
			if score, err := parseLocaleScore(text); err == nil {
				result.Score = score
			}
		}
	}
}

func (j *PlaceJob) BrowserActions(ctx context.Context, page scrapemate.BrowserPage) scrapemate.Response {
	var resp scrapemate.Response

	j.attempts++

	pw, ok := page.Unwrap().(playwright.Page)
	if !ok {
		resp.Error = fmt.Errorf("browser page is not playwright backed: %T", page.Unwrap())

		return resp
	}

	pageResponse, err := page.Goto(j.GetURL(), scrapemate.WaitUntilDOMContentLoaded)
	if err != nil {
		resp.Error = err

		return resp
	}

	ctxWait(ctx, time.Second)

	if err = clickRejectCookiesIfRequired(pw); err != nil {
		resp.Error = err

		return resp
	}

	if sessionBlocked(pw) {
		resp.Error = ErrBlockedByChallenge

		return resp
	}

	// a redirect to the canonical place URL may still be in flight
	if !waitForDetailReady(ctx, pw) {
		// the session is likely degraded; let the scheduler replace it
		resp.Error = fmt.Errorf("detail page content not ready: %s", pw.URL())

		return resp
	}

	resp.URL = pw.URL()
	resp.StatusCode = pageResponse.StatusCode
	resp.Headers = pageResponse.Headers

	if content, cerr := pw.Content(); cerr == nil {
		resp.Body = []byte(content)
	}

	resp.Meta = make(map[string]any)

	var snapKeys []string

	record := func(err error) {
		if err == nil {
			return
		}

		var stepErr *snapshot.StepError
		if errors.As(err, &stepErr) {
			snapKeys = append(snapKeys, stepErr.SnapshotKey)
		}

		scrapemate.GetLoggerFromContext(ctx).Warn(err.Error())
	}

	record(j.try(ctx, pw, "inline-state", func() error {
		return j.extractInlineState(pw, resp.Meta)
	}))

	record(j.try(ctx, pw, "title", func() error {
		return extractTitle(pw, resp.Meta)
	}))

	if j.Opts.ExtractHours {
		record(j.try(ctx, pw, "opening-hours", func() error {
			return extractHours(pw, resp.Meta)
		}))
	}

	if j.Opts.ExtractPopularTimes {
		record(j.try(ctx, pw, "popular-times", func() error {
			return extractPopularTimes(pw, resp.Meta)
		}))
	}

	if j.Opts.ExtractPeopleAlsoSearch {
		record(j.try(ctx, pw, "people-also-search", func() error {
			return extractPeopleAlsoSearch(pw, resp.Meta)
		}))
	}

	if j.Opts.ExtractAttributes {
		record(j.try(ctx, pw, "additional-info", func() error {
			return extractAdditionalInfo(pw, resp.Meta)
		}))
	}

	if j.Opts.ExtractReviews && j.Opts.MaxReviews > 0 {
		record(j.try(ctx, pw, "reviews", func() error {
			return j.extractReviews(ctx, pw, resp.Meta)
		}))
	}

	if j.Opts.ExtractImages && j.Opts.MaxImages > 0 {
		record(j.try(ctx, pw, "images", func() error {
			pager := &playwrightGallery{page: pw}
			resp.Meta["images"] = collectImages(ctx, pager, j.Opts.MaxImages, time.Second*10)

			return nil
		}))
	}

	resp.Meta["snapshot_keys"] = snapKeys

	return resp
}

// try runs one extractor through the snapshotter when one is configured.
func (j *PlaceJob) try(ctx context.Context, page playwright.Page, step string, fn func() error) error {
	if j.Snapshotter == nil {
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}

		return nil
	}

	return j.Snapshotter.Try(ctx, page, step, fn)
}

// extractInlineState pulls the app-state blob embedded in the page HTML and
// decodes the score, count and inline reviews from it.
func (j *PlaceJob) extractInlineState(page playwright.Page, meta map[string]any) error {
	raw, err := page.Evaluate(`() => {
		if (!window.APP_INITIALIZATION_STATE || !Array.isArray(window.APP_INITIALIZATION_STATE)) {
			return null;
		}

		for (const block of window.APP_INITIALIZATION_STATE) {
			if (!Array.isArray(block)) continue;
			for (const item of block) {
				if (typeof item === "string" && item.trimStart().startsWith(")]}'")) {
					return item;
				}
			}
		}

		return null;
	}`)
	if err != nil {
		return err
	}

	text, ok := raw.(string)
	if !ok || text == "" {
		return fmt.Errorf("app state blob not found")
	}

	state, err := wire.DecodeInlineState([]byte(text), j.Opts.TranslationMode)
	if err != nil {
		return err
	}

	meta["app_state"] = state

	return nil
}

// extractReviews decides between the inline no-fetch path and the cursor
// loop against the reviews endpoint.
func (j *PlaceJob) extractReviews(ctx context.Context, page playwright.Page, meta map[string]any) error {
	state, _ := meta["app_state"].(*wire.InlineState)

	wanted := j.Opts.MaxReviews

	if state != nil && state.ReviewCount > 0 && state.ReviewCount < wanted {
		wanted = state.ReviewCount
	}

	if state != nil && len(state.Reviews) >= wanted {
		reviews := make([]wire.Review, len(state.Reviews))
		copy(reviews, state.Reviews)

		sortReviews(reviews, j.Opts.ReviewSort)

		if len(reviews) > j.Opts.MaxReviews {
			reviews = reviews[:j.Opts.MaxReviews]
		}

		meta["reviews"] = reviews

		return nil
	}

	template, err := captureReviewTemplate(ctx, page)
	if err != nil {
		return err
	}

	fetcher := &reviewFetcher{
		template:   template,
		maxReviews: j.Opts.MaxReviews,
		mode:       j.Opts.TranslationMode,
		sort:       j.Opts.ReviewSort,
		fetchPage:  pageFetcher(page),
	}

	meta["reviews"] = fetcher.fetchAll(ctx)

	return nil
}

// waitForDetailReady waits for the primary heading of the detail page.
func waitForDetailReady(ctx context.Context, page playwright.Page) bool {
	deadline := time.Now().Add(time.Second * 15)

	for time.Now().Before(deadline) {
		visible, err := page.Locator("h1").First().IsVisible()
		if err == nil && visible {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		default:
		}

		ctxWait(ctx, time.Millisecond*300)
	}

	return false
}
