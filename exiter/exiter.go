// Package exiter decides when a crawl is finished and cancels the run.
//
// A crawl is done when every seed search completed and every place found was
// either crawled or failed. Because results are written asynchronously, the
// exit decision is confirmed against the result store before cancelling.
package exiter

import (
	"context"
	"sync"
	"time"

	"github.com/gosom/scrapemate"
)

// ResultCounter reports how many results have been durably written. Used to
// confirm completion before cancelling the run.
type ResultCounter interface {
	Count(ctx context.Context) (int, error)
}

// Exiter watches crawl progress and cancels the run context on completion.
type Exiter interface {
	SetSeedCount(count int)
	SetCancelFunc(cancel context.CancelFunc)
	// SetResultCounter installs an optional write-confirmation check.
	SetResultCounter(rc ResultCounter)
	IncrSeedCompleted(count int)
	IncrPlacesFound(count int)
	IncrPlacesCompleted(count int)
	Run(ctx context.Context)
}

func New() Exiter {
	return &exiter{
		interval: time.Second * 3,
	}
}

type exiter struct {
	mu sync.Mutex

	seedCount       int
	seedCompleted   int
	placesFound     int
	placesCompleted int

	cancel   context.CancelFunc
	counter  ResultCounter
	interval time.Duration
}

func (e *exiter) SetSeedCount(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seedCount = count
}

func (e *exiter) SetCancelFunc(cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancel = cancel
}

func (e *exiter) SetResultCounter(rc ResultCounter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counter = rc
}

func (e *exiter) IncrSeedCompleted(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seedCompleted += count
}

func (e *exiter) IncrPlacesFound(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.placesFound += count
}

func (e *exiter) IncrPlacesCompleted(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.placesCompleted += count
}

func (e *exiter) Run(ctx context.Context) {
	log := scrapemate.GetLoggerFromContext(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.isDone() {
				continue
			}

			if !e.resultsConfirmed(ctx) {
				continue
			}

			log.Info("all seeds and places completed, shutting down")

			e.mu.Lock()
			cancel := e.cancel
			e.mu.Unlock()

			if cancel != nil {
				cancel()
			}

			return
		}
	}
}

func (e *exiter) isDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seedCount == 0 || e.seedCompleted < e.seedCount {
		return false
	}

	return e.placesCompleted >= e.placesFound
}

// resultsConfirmed re-checks completion against the durable result count so
// in-flight writes are not lost to an early cancel.
func (e *exiter) resultsConfirmed(ctx context.Context) bool {
	e.mu.Lock()
	counter := e.counter
	found := e.placesFound
	e.mu.Unlock()

	if counter == nil {
		return true
	}

	n, err := counter.Count(ctx)
	if err != nil {
		return false
	}

	return n >= found
}
