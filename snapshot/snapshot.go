// Package snapshot captures page HTML when an extraction step fails, keyed
// by an error signature so each distinct failure is stored exactly once per
// crawl. The snapshots are the raw material for diagnosing schema shifts.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/placecrawl/placecrawl/kv"
)

const (
	snapshotKeyPrefix = "ERROR-SNAPSHOT-"
	stateKey          = "ERROR-SNAPSHOTTER-STATE"

	maxSignatureLen = 50
)

// PageSource yields the current HTML of the page being crawled. Satisfied
// by playwright pages and trivially fakeable in tests.
type PageSource interface {
	Content() (string, error)
}

// Uploader mirrors the snapshot to external storage. Optional.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// StepError is the enriched error Try returns. Message wrapping is
// idempotent so nested Try calls do not stack signatures.
type StepError struct {
	Step        string
	SnapshotKey string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Snapshotter stores one page snapshot per distinct failure signature.
type Snapshotter struct {
	store    kv.Store
	uploader Uploader

	mu   sync.Mutex
	seen map[string]bool
}

// New creates a snapshotter over the given store. uploader may be nil.
func New(store kv.Store, uploader Uploader) *Snapshotter {
	return &Snapshotter{
		store:    store,
		uploader: uploader,
		seen:     make(map[string]bool),
	}
}

// Load restores the set of already-captured signatures.
func (s *Snapshotter) Load(ctx context.Context) error {
	data, err := s.store.Get(ctx, stateKey)
	if err != nil {
		return fmt.Errorf("snapshot: load: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := json.Unmarshal(data, &s.seen); err != nil {
		return fmt.Errorf("snapshot: load: %w", err)
	}

	return nil
}

// Try runs one named extraction step. On failure it captures the page HTML
// under the step's failure signature, unless an identical signature was
// captured before, and returns the error enriched with the step name and
// snapshot key. An error already produced by a nested Try is passed through
// unchanged.
func (s *Snapshotter) Try(ctx context.Context, page PageSource, step string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return err
	}

	sig := Signature(step, err.Error())
	key := snapshotKeyPrefix + sig

	if s.markSeen(sig) {
		s.capture(ctx, page, key)
	}

	return &StepError{Step: step, SnapshotKey: key, Err: err}
}

// markSeen returns true the first time a signature is recorded.
func (s *Snapshotter) markSeen(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[sig] {
		return false
	}

	s.seen[sig] = true

	return true
}

func (s *Snapshotter) capture(ctx context.Context, page PageSource, key string) {
	if page == nil {
		return
	}

	html, err := page.Content()
	if err != nil {
		return
	}

	if err := s.store.Set(ctx, key, []byte(html)); err != nil {
		return
	}

	if s.uploader != nil {
		_ = s.uploader.Upload(ctx, key, []byte(html))
	}
}

// Persist writes the captured-signature set so a resumed run does not
// re-capture known failures.
func (s *Snapshotter) Persist(ctx context.Context) error {
	s.mu.Lock()
	data, err := json.Marshal(s.seen)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("snapshot: persist: %w", err)
	}

	if err := s.store.Set(ctx, stateKey, data); err != nil {
		return fmt.Errorf("snapshot: persist: %w", err)
	}

	return nil
}

// Signature normalizes a step name and error message into a stable store
// key fragment of at most 50 characters.
func Signature(step, msg string) string {
	var b strings.Builder

	for _, r := range step + "-" + msg {
		if b.Len() >= maxSignatureLen {
			break
		}

		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	return b.String()
}
