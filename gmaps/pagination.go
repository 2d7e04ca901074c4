package gmaps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/placecrawl/placecrawl/kv"
)

// Outcome classifies the listing page state after a query submission or a
// page turn.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeBadQuery
	OutcomeNoResults
	OutcomeSingleResultRedirect
	OutcomePartialMatch
	OutcomeNextPageDisabled
	OutcomeNextPageAvailable
	OutcomeQuotaReached
	OutcomeAutoZoomExceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBadQuery:
		return "bad_query"
	case OutcomeNoResults:
		return "no_results"
	case OutcomeSingleResultRedirect:
		return "single_result_redirect"
	case OutcomePartialMatch:
		return "partial_match"
	case OutcomeNextPageDisabled:
		return "next_page_disabled"
	case OutcomeNextPageAvailable:
		return "next_page_available"
	case OutcomeQuotaReached:
		return "quota_reached"
	case OutcomeAutoZoomExceeded:
		return "auto_zoom_exceeded"
	default:
		return "none"
	}
}

// terminal reports whether pagination stops at this outcome.
func (o Outcome) terminal() bool {
	return o != OutcomeNone && o != OutcomeNextPageAvailable
}

// ErrNoOutcomeLoaded means the listing page settled into no recognizable
// state within the poll window. Fatal for this search only.
var ErrNoOutcomeLoaded = errors.New("no pagination outcome loaded within timeout")

// pageSnapshot is one poll-tick observation of the listing DOM. Collected
// by a single page.Evaluate so the conditions are sampled atomically.
type pageSnapshot struct {
	BadQuery     bool `json:"badQuery"`
	NoResults    bool `json:"noResults"`
	IsDetailPage bool `json:"isDetail"`
	PartialMatch bool `json:"partialMatch"`
	NextDisabled bool `json:"nextDisabled"`
	HasNextPage  bool `json:"hasNext"`
}

// classify maps a snapshot to an outcome. Multiple conditions can coexist
// while the DOM transitions, so the checks run in fixed priority order and
// the first match wins.
func classify(s pageSnapshot) Outcome {
	switch {
	case s.BadQuery:
		return OutcomeBadQuery
	case s.NoResults:
		return OutcomeNoResults
	case s.IsDetailPage:
		return OutcomeSingleResultRedirect
	case s.PartialMatch:
		return OutcomePartialMatch
	case s.NextDisabled:
		return OutcomeNextPageDisabled
	case s.HasNextPage:
		return OutcomeNextPageAvailable
	default:
		return OutcomeNone
	}
}

// zoomExceeded reports whether the map auto-zoomed out beyond the allowed
// tolerance since the search started. Widening past the tolerance pulls in
// far-away results that do not belong to the searched area.
func zoomExceeded(startZoom, currentZoom float64, maxAutomaticZoomOut int) bool {
	if startZoom == 0 || currentZoom == 0 || maxAutomaticZoomOut <= 0 {
		return false
	}

	return startZoom-currentZoom > float64(maxAutomaticZoomOut)
}

type snapshotFunc func(ctx context.Context) (pageSnapshot, float64, error)

// awaitOutcome polls the listing page until a classification or timeout.
// The zoom guard runs before classification on every tick.
func awaitOutcome(
	ctx context.Context,
	take snapshotFunc,
	startZoom float64,
	maxAutomaticZoomOut int,
	tick, timeout time.Duration,
) (Outcome, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return OutcomeNone, ctx.Err()
		case <-deadline.C:
			return OutcomeNone, ErrNoOutcomeLoaded
		case <-ticker.C:
			snap, zoom, err := take(ctx)
			if err != nil {
				continue
			}

			if zoomExceeded(startZoom, zoom, maxAutomaticZoomOut) {
				return OutcomeAutoZoomExceeded, nil
			}

			if outcome := classify(snap); outcome != OutcomeNone {
				return outcome, nil
			}
		}
	}
}

// SearchCursor tracks the result-index range a listing search has already
// scanned. It survives restarts; a finished cursor short-circuits the
// search entirely.
type SearchCursor struct {
	From     int  `json:"from"`
	To       int  `json:"to"`
	IsFinish bool `json:"isFinish"`
}

const cursorKeyPrefix = "listing-pagination-"

func loadCursor(ctx context.Context, store kv.Store, jobID string) (SearchCursor, error) {
	var cur SearchCursor

	if store == nil {
		return cur, nil
	}

	data, err := store.Get(ctx, cursorKeyPrefix+jobID)
	if err != nil {
		return cur, fmt.Errorf("load cursor: %w", err)
	}

	if len(data) == 0 {
		return cur, nil
	}

	if err := json.Unmarshal(data, &cur); err != nil {
		return cur, fmt.Errorf("load cursor: %w", err)
	}

	return cur, nil
}

func saveCursor(ctx context.Context, store kv.Store, jobID string, cur SearchCursor) error {
	if store == nil {
		return nil
	}

	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	if err := store.Set(ctx, cursorKeyPrefix+jobID, data); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	return nil
}
