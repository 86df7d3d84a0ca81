// Package failurestore implements the universally-framed failure proverbs
// of §4.4, plus the per-run "current session" sub-list that survives a
// Context Reset (§4.7).
package failurestore

import (
	"context"
	"sync"

	"github.com/zenagent/zenagent/internal/memstore"
	"github.com/zenagent/zenagent/internal/vector"
)

// Severity levels for a FailureEntry.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MED"
	SeverityHigh   Severity = "HIGH"
)

// FailureEntry is universally-framed wisdom ("a proverb") paired with the
// condition that triggered it.
type FailureEntry struct {
	ID        string    `json:"id"`
	Proverb   string    `json:"proverb"`
	Condition string    `json:"condition"`
	Severity  Severity  `json:"severity"`
	Embedding []float64 `json:"embedding,omitempty"`
}

func (e *FailureEntry) GetID() string           { return e.ID }
func (e *FailureEntry) GetEmbedding() []float64  { return e.Embedding }
func (e *FailureEntry) SetEmbedding(v []float64) { e.Embedding = v }

func embedText(e *FailureEntry) string {
	return e.Proverb + " " + e.Condition
}

// Store manages FailureEntry records and the current-run session sub-list.
type Store struct {
	base *memstore.Store[*FailureEntry]

	mu      sync.Mutex
	current []*FailureEntry // entries recorded since the last clearCurrentSession
}

// New creates a failure store backed by path and embedder (either may be
// the zero value to disable persistence/embedding).
func New(path string, embedder memstore.Embedder) *Store {
	return &Store{base: memstore.New[*FailureEntry](path, embedder)}
}

// Save stores or updates a failure proverb and appends it to the current
// session sub-list.
func (s *Store) Save(ctx context.Context, e *FailureEntry) error {
	if e.Severity == "" {
		e.Severity = SeverityMedium
	}
	if err := s.base.Store(ctx, e, embedText(e)); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = append(s.current, e)
	s.mu.Unlock()
	return nil
}

// Retrieve returns the top-k failures relevant to query.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]vector.Scored[*FailureEntry], error) {
	return s.base.Retrieve(ctx, query, k)
}

// Get returns a failure by id.
func (s *Store) Get(id string) (*FailureEntry, bool) { return s.base.Get(id) }

// List returns all failures in insertion order.
func (s *Store) List() []*FailureEntry { return s.base.List() }

// Load reads persisted failures from disk; tolerates a missing file.
func (s *Store) Load() error { return s.base.Load() }

// ExportCurrent returns a copy of the failures recorded in the current run
// session, to be carried forward across a Context Reset.
func (s *Store) ExportCurrent() []*FailureEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FailureEntry, len(s.current))
	copy(out, s.current)
	return out
}

// ClearCurrentSession empties the current-session sub-list. Called on
// milestone advance (Context Reset) and at the start of a new run.
func (s *Store) ClearCurrentSession() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
