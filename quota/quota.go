// Package quota enforces crawl budgets across restarts. Reservations are
// counted when a place is enqueued, not when it finishes, so a crash cannot
// overshoot the budget on resume.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/placecrawl/placecrawl/kv"
)

const stateKey = "MAX_CRAWLED_PLACES_STATE"

// Tracker counts enqueued places against a total budget and a per-search
// budget. A budget of 0 means unlimited.
type Tracker struct {
	store        kv.Store
	maxTotal     int
	maxPerSearch int

	mu        sync.Mutex
	total     int
	perSearch map[string]int
}

type state struct {
	Total     int            `json:"total"`
	PerSearch map[string]int `json:"perSearch,omitempty"`
}

func New(store kv.Store, maxTotal, maxPerSearch int) *Tracker {
	return &Tracker{
		store:        store,
		maxTotal:     maxTotal,
		maxPerSearch: maxPerSearch,
		perSearch:    make(map[string]int),
	}
}

// Load restores counters persisted by a previous run.
func (t *Tracker) Load(ctx context.Context) error {
	data, err := t.store.Get(ctx, stateKey)
	if err != nil {
		return fmt.Errorf("quota: load: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("quota: load: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = s.Total

	if s.PerSearch != nil {
		t.perSearch = s.PerSearch
	}

	return nil
}

// TryReserve atomically reserves one place slot for the given search. It
// returns false once either budget is exhausted.
func (t *Tracker) TryReserve(searchID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxTotal > 0 && t.total >= t.maxTotal {
		return false
	}

	if t.maxPerSearch > 0 && t.perSearch[searchID] >= t.maxPerSearch {
		return false
	}

	t.total++
	t.perSearch[searchID]++

	return true
}

// CanEnqueueMore reports whether a reservation for the search could still
// succeed, without taking one.
func (t *Tracker) CanEnqueueMore(searchID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxTotal > 0 && t.total >= t.maxTotal {
		return false
	}

	if t.maxPerSearch > 0 && t.perSearch[searchID] >= t.maxPerSearch {
		return false
	}

	return true
}

// EnqueuedTotal returns the number of reservations taken so far, including
// those restored by Load.
func (t *Tracker) EnqueuedTotal() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Persist writes the counters so a resumed run continues against the same
// budget.
func (t *Tracker) Persist(ctx context.Context) error {
	t.mu.Lock()
	s := state{Total: t.total, PerSearch: t.perSearch}

	data, err := json.Marshal(s)
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("quota: persist: %w", err)
	}

	if err := t.store.Set(ctx, stateKey, data); err != nil {
		return fmt.Errorf("quota: persist: %w", err)
	}

	return nil
}
