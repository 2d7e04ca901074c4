// Package deduper prevents the same search or place from being enqueued
// twice within a run.
package deduper

import (
	"context"
	"sync"
)

// Deduper is a concurrent-safe membership set.
type Deduper interface {
	// AddIfNotExists returns true when the key was not present yet.
	AddIfNotExists(ctx context.Context, key string) bool
}

// New returns an in-memory Deduper.
func New() Deduper {
	return &memDeduper{seen: make(map[string]struct{})}
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (d *memDeduper) AddIfNotExists(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}

	d.seen[key] = struct{}{}

	return true
}
