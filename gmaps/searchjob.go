package gmaps

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gosom/scrapemate"
	"github.com/playwright-community/playwright-go"

	"github.com/placecrawl/placecrawl/deduper"
	"github.com/placecrawl/placecrawl/exiter"
	"github.com/placecrawl/placecrawl/kv"
	"github.com/placecrawl/placecrawl/placecache"
	"github.com/placecrawl/placecrawl/quota"
	"github.com/placecrawl/placecrawl/snapshot"
	"github.com/placecrawl/placecrawl/stats"
	"github.com/placecrawl/placecrawl/wire"
)

const (
	outcomePollTick    = 500 * time.Millisecond
	outcomePollTimeout = 30 * time.Second
)

var _ scrapemate.IJob = (*SearchJob)(nil)

type SearchJobOptions func(*SearchJob)

// SearchJob drives one listing search: it navigates, observes intercepted
// search responses, turns pages until a terminal outcome, and emits one
// PlaceJob per accepted result.
type SearchJob struct {
	scrapemate.Job

	Query string
	Opts  *ScrapingOptions

	Deduper     deduper.Deduper
	ExitMonitor exiter.Exiter
	Quota       *quota.Tracker
	Cache       *placecache.Cache
	Stats       *stats.Collector
	Store       kv.Store
	Snapshotter *snapshot.Snapshotter
}

func NewSearchJob(id, query, geoCoordinates string, zoom int, opts *ScrapingOptions, jopts ...SearchJobOptions) *SearchJob {
	const maxRetries = 3

	if id == "" {
		id = uuid.New().String()
	}

	if opts == nil {
		opts = DefaultOptions()
	}

	job := SearchJob{
		Job: scrapemate.Job{
			ID:         id,
			Method:     http.MethodGet,
			URL:        searchURL(query, geoCoordinates, zoom),
			URLParams:  map[string]string{"hl": opts.LangCode},
			MaxRetries: maxRetries,
			Priority:   scrapemate.PriorityLow,
		},
		Query: query,
		Opts:  opts,
	}

	for _, opt := range jopts {
		opt(&job)
	}

	return &job
}

func WithSearchDeduper(d deduper.Deduper) SearchJobOptions {
	return func(j *SearchJob) {
		j.Deduper = d
	}
}

func WithSearchExitMonitor(e exiter.Exiter) SearchJobOptions {
	return func(j *SearchJob) {
		j.ExitMonitor = e
	}
}

func WithSearchQuota(q *quota.Tracker) SearchJobOptions {
	return func(j *SearchJob) {
		j.Quota = q
	}
}

func WithSearchPlaceCache(c *placecache.Cache) SearchJobOptions {
	return func(j *SearchJob) {
		j.Cache = c
	}
}

func WithSearchStats(s *stats.Collector) SearchJobOptions {
	return func(j *SearchJob) {
		j.Stats = s
	}
}

func WithSearchStore(s kv.Store) SearchJobOptions {
	return func(j *SearchJob) {
		j.Store = s
	}
}

func WithSearchSnapshotter(s *snapshot.Snapshotter) SearchJobOptions {
	return func(j *SearchJob) {
		j.Snapshotter = s
	}
}

func (j *SearchJob) UseInResults() bool {
	return false
}

func (j *SearchJob) Process(ctx context.Context, resp *scrapemate.Response) (any, []scrapemate.IJob, error) {
	defer func() {
		resp.Document = nil
		resp.Body = nil
		resp.Meta = nil
	}()

	log := scrapemate.GetLoggerFromContext(ctx)

	defer func() {
		if j.ExitMonitor != nil {
			j.ExitMonitor.IncrSeedCompleted(1)
		}
	}()

	if resp.Error != nil {
		return nil, nil, resp.Error
	}

	var next []scrapemate.IJob

	if singleURL, ok := resp.Meta["single_place_url"].(string); ok && singleURL != "" {
		task := PlaceTask{
			Stub:         wire.PlaceStub{},
			Rank:         1,
			SearchString: j.Query,
			PageURL:      singleURL,
		}

		next = append(next, j.placeJobFromTask(task, singleURL))
	}

	tasks, _ := resp.Meta["tasks"].([]PlaceTask)

	for _, task := range tasks {
		detailURL := placeDetailURL(task.Stub.Title, task.Stub.PlaceID)

		if j.Deduper != nil && !j.Deduper.AddIfNotExists(ctx, task.Stub.PlaceID) {
			if j.Stats != nil {
				j.Stats.Duplicate()
			}

			continue
		}

		next = append(next, j.placeJobFromTask(task, detailURL))
	}

	if j.ExitMonitor != nil {
		j.ExitMonitor.IncrPlacesFound(len(next))
	}

	outcome, _ := resp.Meta["outcome"].(Outcome)

	log.Info(fmt.Sprintf("search %q finished with %s, %d places enqueued", j.Query, outcome, len(next)))

	return nil, next, nil
}

func (j *SearchJob) placeJobFromTask(task PlaceTask, detailURL string) *PlaceJob {
	popts := []PlaceJobOptions{}
	if j.ExitMonitor != nil {
		popts = append(popts, WithPlaceExitMonitor(j.ExitMonitor))
	}

	if j.Stats != nil {
		popts = append(popts, WithPlaceStats(j.Stats))
	}

	if j.Store != nil {
		popts = append(popts, WithPlaceStore(j.Store))
	}

	if j.Snapshotter != nil {
		popts = append(popts, WithPlaceSnapshotter(j.Snapshotter))
	}

	return NewPlaceJob(j.ID, detailURL, task, j.Opts, popts...)
}

func (j *SearchJob) BrowserActions(ctx context.Context, page scrapemate.BrowserPage) scrapemate.Response {
	var resp scrapemate.Response

	cursor, err := loadCursor(ctx, j.Store, j.ID)
	if err == nil && cursor.IsFinish {
		resp.URL = j.GetFullURL()
		resp.StatusCode = http.StatusOK
		resp.Meta = map[string]any{"outcome": OutcomeNone}

		return resp
	}

	// the response observer needs the underlying playwright page
	pw, ok := page.Unwrap().(playwright.Page)
	if !ok {
		resp.Error = fmt.Errorf("browser page is not playwright backed: %T", page.Unwrap())

		return resp
	}

	pageResponse, err := page.Goto(j.GetFullURL(), scrapemate.WaitUntilDOMContentLoaded)
	if err != nil {
		resp.Error = err

		return resp
	}

	if err = clickRejectCookiesIfRequired(pw); err != nil {
		resp.Error = err

		return resp
	}

	if sessionBlocked(pw) {
		resp.Error = ErrBlockedByChallenge

		return resp
	}

	resp.URL = pageResponse.URL
	resp.StatusCode = pageResponse.StatusCode
	resp.Headers = pageResponse.Headers

	enq := &enqueuer{
		query: j.Query,
		opts:  j.Opts,
		quota: j.Quota,
		cache: j.Cache,
		stats: j.Stats,
	}

	obs := newSearchObserver(ctx, pw, enq)
	obs.attach()

	defer obs.detach()

	startZoom := parseZoomFromURL(pw.URL())

	outcome, err := j.paginate(ctx, pw, enq, &cursor, startZoom)
	if err != nil {
		resp.Error = err

		return resp
	}

	obs.detach()

	if outcome.terminal() && outcome != OutcomeSingleResultRedirect {
		cursor.IsFinish = true

		if serr := saveCursor(ctx, j.Store, j.ID, cursor); serr != nil {
			scrapemate.GetLoggerFromContext(ctx).Error(fmt.Sprintf("save cursor: %v", serr))
		}
	}

	resp.Meta = map[string]any{
		"tasks":   obs.collected(),
		"outcome": outcome,
	}

	if outcome == OutcomeSingleResultRedirect {
		resp.Meta["single_place_url"] = pw.URL()
	}

	return resp
}

// paginate runs the outcome loop: await a classification, then either stop
// or advance to the next page and go again.
func (j *SearchJob) paginate(
	ctx context.Context,
	page playwright.Page,
	enq *enqueuer,
	cursor *SearchCursor,
	startZoom float64,
) (Outcome, error) {
	maxPages := j.Opts.MaxPageDepth
	if maxPages <= 0 {
		maxPages = 1
	}

	take := func(_ context.Context) (pageSnapshot, float64, error) {
		return probePage(page)
	}

	for pageTurn := 0; pageTurn < maxPages; pageTurn++ {
		outcome, err := awaitOutcome(ctx, take, startZoom, j.Opts.MaxAutomaticZoomOut, outcomePollTick, outcomePollTimeout)
		if err != nil {
			return OutcomeNone, err
		}

		if outcome.terminal() {
			return outcome, nil
		}

		if !enq.quotaHeadroom() {
			return OutcomeQuotaReached, nil
		}

		cursor.From = cursor.To
		cursor.To += searchPageSize

		if err := saveCursor(ctx, j.Store, j.ID, *cursor); err != nil {
			scrapemate.GetLoggerFromContext(ctx).Error(fmt.Sprintf("save cursor: %v", err))
		}

		if err := clickNextPage(page); err != nil {
			return OutcomeNextPageDisabled, nil
		}
	}

	return OutcomeNextPageDisabled, nil
}

// searchObserver subscribes to every network response of the page and feeds
// matching search endpoint bodies to the enqueuer. The observing gate makes
// detach effective even though the underlying subscription cannot be
// removed.
type searchObserver struct {
	ctx  context.Context
	page playwright.Page
	enq  *enqueuer

	observing atomic.Bool
	attached  bool

	mu    sync.Mutex
	tasks []PlaceTask
}

func newSearchObserver(ctx context.Context, page playwright.Page, enq *enqueuer) *searchObserver {
	return &searchObserver{
		ctx:  ctx,
		page: page,
		enq:  enq,
	}
}

func (o *searchObserver) attach() {
	o.observing.Store(true)

	if o.attached {
		return
	}

	o.attached = true

	o.page.OnResponse(func(response playwright.Response) {
		if !o.observing.Load() {
			return
		}

		if !isSearchEndpoint(response.URL()) {
			return
		}

		body, err := response.Body()
		if err != nil {
			return
		}

		o.handle(response.URL(), body)
	})
}

func (o *searchObserver) detach() {
	o.observing.Store(false)
}

func (o *searchObserver) handle(url string, body []byte) {
	log := scrapemate.GetLoggerFromContext(o.ctx)

	decoded, err := wire.DecodeSearchPage(body)
	if err != nil {
		log.Warn(fmt.Sprintf("search response decode: %v", err))

		return
	}

	if decoded.SkippedNoDetail > 0 {
		log.Warn(fmt.Sprintf("%d search items without detail data skipped", decoded.SkippedNoDetail))
	}

	pageNo := pageNumberFromURL(url)
	tasks, quotaReached := o.enq.handlePage(decoded, pageNo, url)

	o.mu.Lock()
	o.tasks = append(o.tasks, tasks...)
	o.mu.Unlock()

	if quotaReached {
		log.Info("crawl budget reached, remaining results on this page skipped")
	}
}

func (o *searchObserver) collected() []PlaceTask {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]PlaceTask, len(o.tasks))
	copy(out, o.tasks)

	return out
}

// probePage samples every outcome condition in one evaluation so the
// classification sees a consistent DOM state.
func probePage(page playwright.Page) (pageSnapshot, float64, error) {
	const expr = `() => {
		const feed = document.querySelector("div[role='feed']");
		const main = document.querySelector("div[role='main']");
		const next = document.querySelector("button[aria-label*='Next']");

		return {
			badQuery: document.body.innerText.includes("Make sure your search is spelled correctly"),
			noResults: !feed && !main,
			isDetail: window.location.pathname.includes("/maps/place/"),
			partialMatch: document.body.innerText.includes("Partial matches"),
			nextDisabled: !!next && next.disabled,
			hasNext: !!next && !next.disabled,
		};
	}`

	raw, err := page.Evaluate(expr)
	if err != nil {
		return pageSnapshot{}, 0, err
	}

	snap := snapshotFromEvaluate(raw)

	return snap, parseZoomFromURL(page.URL()), nil
}

func snapshotFromEvaluate(raw any) pageSnapshot {
	m, ok := raw.(map[string]any)
	if !ok {
		return pageSnapshot{}
	}

	b := func(key string) bool {
		v, _ := m[key].(bool)
		return v
	}

	return pageSnapshot{
		BadQuery:     b("badQuery"),
		NoResults:    b("noResults"),
		IsDetailPage: b("isDetail"),
		PartialMatch: b("partialMatch"),
		NextDisabled: b("nextDisabled"),
		HasNextPage:  b("hasNext"),
	}
}

func clickNextPage(page playwright.Page) error {
	loc := page.Locator("button[aria-label*='Next']")

	return loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(2000),
	})
}
