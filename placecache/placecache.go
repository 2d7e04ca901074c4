// Package placecache persists place identity and location across crawler
// runs, so repeated searches skip already-crawled places and region queries
// can be answered without re-crawling.
package placecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/kv"
)

const defaultKey = "places"

// ErrSaveBeforeLoad is returned when Save is called on a cache that never
// loaded its persisted state, which would clobber prior runs.
var ErrSaveBeforeLoad = errors.New("placecache: save before load")

// Entry is one cached place.
type Entry struct {
	PlaceID  string     `json:"placeId"`
	Location *geo.Point `json:"location,omitempty"`
	// Keywords are the search terms that surfaced this place, in order of
	// first appearance.
	Keywords []string `json:"keywords,omitempty"`
}

// Cache is an in-memory view over a persisted place map. Load it once per
// run, mutate freely, Save merges back.
type Cache struct {
	store kv.Store
	key   string

	mu      sync.RWMutex
	entries map[string]*Entry
	loaded  bool
}

// New creates a cache over the given store. A non-empty cacheKey isolates
// the cache per crawl configuration.
func New(store kv.Store, cacheKey string) *Cache {
	key := defaultKey
	if cacheKey != "" {
		key = defaultKey + "-" + cacheKey
	}

	return &Cache{
		store:   store,
		key:     key,
		entries: make(map[string]*Entry),
	}
}

// Load reads the persisted state. A missing key loads an empty cache.
func (c *Cache) Load(ctx context.Context) error {
	data, err := c.store.Get(ctx, c.key)
	if err != nil {
		return fmt.Errorf("placecache: load: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			return fmt.Errorf("placecache: load: %w", err)
		}
	}

	c.loaded = true

	return nil
}

// Put records a place sighting for a keyword. The keyword is appended only
// when it differs from the entry's most recent keyword.
func (c *Cache) Put(placeID, keyword string, location *geo.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[placeID]
	if !ok {
		entry = &Entry{PlaceID: placeID}
		c.entries[placeID] = entry
	}

	if location != nil {
		entry.Location = location
	}

	if keyword != "" {
		n := len(entry.Keywords)
		if n == 0 || entry.Keywords[n-1] != keyword {
			entry.Keywords = append(entry.Keywords, keyword)
		}
	}
}

// Get returns the cached entry, or false when the place is unknown.
func (c *Cache) Get(placeID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[placeID]
	if !ok {
		return Entry{}, false
	}

	return *entry, true
}

// Has reports whether the place was seen before.
func (c *Cache) Has(placeID string) bool {
	_, ok := c.Get(placeID)
	return ok
}

// Location returns the cached location, or nil if unknown.
func (c *Cache) Location(placeID string) *geo.Point {
	entry, ok := c.Get(placeID)
	if !ok {
		return nil
	}

	return entry.Location
}

// Len returns the number of cached places.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// IDsInRegion returns up to limit place IDs whose cached location falls
// inside poly, optionally restricted to places surfaced by any of the given
// keywords. limit <= 0 means no limit.
func (c *Cache) IDsInRegion(poly *geo.Polygon, limit int, keywords ...string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string

	for id, entry := range c.entries {
		if !poly.Contains(entry.Location) {
			continue
		}

		if len(keywords) > 0 && !matchesAny(entry.Keywords, keywords) {
			continue
		}

		ids = append(ids, id)

		if limit > 0 && len(ids) >= limit {
			break
		}
	}

	return ids
}

func matchesAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}

	return false
}

// Save merges the in-memory state into the persisted state and writes it
// back. For conflicting entries the in-memory version wins, except keywords,
// which are unioned to keep sightings from concurrent runs.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return ErrSaveBeforeLoad
	}

	persisted := make(map[string]*Entry)

	data, err := c.store.Get(ctx, c.key)
	if err != nil {
		return fmt.Errorf("placecache: save: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &persisted); err != nil {
			return fmt.Errorf("placecache: save: %w", err)
		}
	}

	for id, entry := range c.entries {
		prev, ok := persisted[id]
		if !ok {
			persisted[id] = entry
			continue
		}

		merged := *entry
		merged.Keywords = unionKeywords(prev.Keywords, entry.Keywords)

		if merged.Location == nil {
			merged.Location = prev.Location
		}

		persisted[id] = &merged
	}

	out, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("placecache: save: %w", err)
	}

	if err := c.store.Set(ctx, c.key, out); err != nil {
		return fmt.Errorf("placecache: save: %w", err)
	}

	return nil
}

func unionKeywords(old, cur []string) []string {
	seen := make(map[string]struct{}, len(old)+len(cur))
	out := make([]string, 0, len(old)+len(cur))

	for _, kw := range append(append([]string{}, old...), cur...) {
		if _, ok := seen[kw]; ok {
			continue
		}

		seen[kw] = struct{}{}
		out = append(out, kw)
	}

	return out
}
