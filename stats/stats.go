// Package stats aggregates run counters and persists them alongside the
// crawl state, so interrupted runs report totals across resumes.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/placecrawl/placecrawl/kv"
)

const stateKey = "STATS"

// Collector accumulates counters for one crawl.
type Collector struct {
	store kv.Store

	mu sync.Mutex
	s  snapshot
}

type snapshot struct {
	SearchPages    int       `json:"searchPages"`
	PlacesFound    int       `json:"placesFound"`
	PlacesCrawled  int       `json:"placesCrawled"`
	PlacesFailed   int       `json:"placesFailed"`
	AdsSeen        int       `json:"adsSeen"`
	DuplicatesSeen int       `json:"duplicatesSeen"`
	RejectedByGeo  int       `json:"rejectedByGeo"`
	StartedAt      time.Time `json:"startedAt"`
}

func New(store kv.Store) *Collector {
	return &Collector{
		store: store,
		s:     snapshot{StartedAt: time.Now().UTC()},
	}
}

// Load merges counters persisted by a previous run; the original start time
// is kept.
func (c *Collector) Load(ctx context.Context) error {
	data, err := c.store.Get(ctx, stateKey)
	if err != nil {
		return fmt.Errorf("stats: load: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := json.Unmarshal(data, &c.s); err != nil {
		return fmt.Errorf("stats: load: %w", err)
	}

	return nil
}

func (c *Collector) incr(f func(*snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f(&c.s)
}

func (c *Collector) SearchPage()   { c.incr(func(s *snapshot) { s.SearchPages++ }) }
func (c *Collector) PlaceFound()   { c.incr(func(s *snapshot) { s.PlacesFound++ }) }
func (c *Collector) PlaceCrawled() { c.incr(func(s *snapshot) { s.PlacesCrawled++ }) }
func (c *Collector) PlaceFailed()  { c.incr(func(s *snapshot) { s.PlacesFailed++ }) }
func (c *Collector) Duplicate()    { c.incr(func(s *snapshot) { s.DuplicatesSeen++ }) }
func (c *Collector) GeoRejected()  { c.incr(func(s *snapshot) { s.RejectedByGeo++ }) }

// Ads records n advertisement entries seen on a search page. Ads are
// counted but never ranked or crawled by default.
func (c *Collector) Ads(n int) {
	c.incr(func(s *snapshot) { s.AdsSeen += n })
}

// Persist writes the counters back to the store.
func (c *Collector) Persist(ctx context.Context) error {
	c.mu.Lock()
	data, err := json.Marshal(c.s)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stats: persist: %w", err)
	}

	if err := c.store.Set(ctx, stateKey, data); err != nil {
		return fmt.Errorf("stats: persist: %w", err)
	}

	return nil
}

// LogEvery prints the summary line at a fixed interval until ctx is done.
func (c *Collector) LogEvery(ctx context.Context, interval time.Duration, logf func(string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logf("[STATS] " + c.Summary())
		}
	}
}

// Summary renders a single human-readable log line for run completion.
func (c *Collector) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fmt.Sprintf(
		"pages=%d found=%d crawled=%d failed=%d ads=%d duplicates=%d geo_rejected=%d elapsed=%s",
		c.s.SearchPages, c.s.PlacesFound, c.s.PlacesCrawled, c.s.PlacesFailed,
		c.s.AdsSeen, c.s.DuplicatesSeen, c.s.RejectedByGeo,
		time.Since(c.s.StartedAt).Round(time.Second),
	)
}
