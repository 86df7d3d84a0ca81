// Package skillstore is a thin typed wrapper over memstore.Store for
// concrete, executable skill knowledge (§4.3).
package skillstore

import (
	"context"

	"github.com/zenagent/zenagent/internal/memstore"
	"github.com/zenagent/zenagent/internal/vector"
)

// SkillEntry is a concrete, executable skill: a trigger condition paired
// with the command that satisfies it. No abstraction beyond that.
type SkillEntry struct {
	ID        string    `json:"id"`
	Trigger   string    `json:"trigger"`
	Command   string    `json:"command"`
	Condition string    `json:"condition"`
	Embedding []float64 `json:"embedding,omitempty"`
}

func (e *SkillEntry) GetID() string           { return e.ID }
func (e *SkillEntry) GetEmbedding() []float64  { return e.Embedding }
func (e *SkillEntry) SetEmbedding(v []float64) { e.Embedding = v }

// embedText builds the memstore embedding text per §4.3: trigger + condition.
func embedText(e *SkillEntry) string {
	return e.Trigger + " " + e.Condition
}

// Store manages SkillEntry records.
type Store struct {
	base *memstore.Store[*SkillEntry]
}

// New creates a skill store backed by path (may be empty to disable
// persistence) and embedder (may be nil).
func New(path string, embedder memstore.Embedder) *Store {
	return &Store{base: memstore.New[*SkillEntry](path, embedder)}
}

// Save stores or updates a skill, generating its embedding from
// trigger+condition when one is not already present, then persists.
func (s *Store) Save(ctx context.Context, e *SkillEntry) error {
	return s.base.Store(ctx, e, embedText(e))
}

// Retrieve returns the top-k skills relevant to query.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]vector.Scored[*SkillEntry], error) {
	return s.base.Retrieve(ctx, query, k)
}

// Get returns a skill by id.
func (s *Store) Get(id string) (*SkillEntry, bool) { return s.base.Get(id) }

// List returns all skills in insertion order.
func (s *Store) List() []*SkillEntry { return s.base.List() }

// Delete removes a skill by id.
func (s *Store) Delete(id string) error { return s.base.Delete(id) }

// Load reads persisted skills from disk; tolerates a missing file.
func (s *Store) Load() error { return s.base.Load() }
