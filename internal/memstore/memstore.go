// Package memstore implements the embedding-indexed keyed collection that
// backs every semantic memory type (skills, failure proverbs, karma,
// hierarchical memory). Persistence is JSON, written via atomic rename so a
// reader never observes a half-written file.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zenagent/zenagent/internal/vector"
)

// Entry is implemented by every record kept in a Store.
type Entry interface {
	GetID() string
	GetEmbedding() []float64
	SetEmbedding([]float64)
}

// Embedder produces an embedding vector for a piece of text. Implemented by
// internal/llm adapters; kept as a minimal local interface so memstore has no
// dependency on the llm package.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Store is a generic, single-writer, JSON-persisted collection keyed by
// Entry.GetID(). Safe for concurrent use.
type Store[T Entry] struct {
	mu       sync.RWMutex
	entries  map[string]T
	order    []string // insertion order, for the degenerate no-embedder retrieve fallback
	path     string   // empty = no persistence
	embedder Embedder
}

// New creates an empty store. path may be empty to disable persistence.
// embedder may be nil; retrieve then falls back to insertion order and
// store never generates embeddings.
func New[T Entry](path string, embedder Embedder) *Store[T] {
	return &Store[T]{
		entries:  make(map[string]T),
		path:     path,
		embedder: embedder,
	}
}

// Store inserts or replaces entry. If an embedder is configured and entry
// carries no embedding yet, one is generated from embedText. The store is
// then persisted to path (if set) via atomic rename.
func (s *Store[T]) Store(ctx context.Context, entry T, embedText string) error {
	s.mu.Lock()
	if len(entry.GetEmbedding()) == 0 && s.embedder != nil && embedText != "" {
		emb, err := s.embedder.Embed(ctx, embedText)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("memstore: embed: %w", err)
		}
		entry.SetEmbedding(emb)
	}

	id := entry.GetID()
	if _, exists := s.entries[id]; !exists {
		s.order = append(s.order, id)
	}
	s.entries[id] = entry
	s.mu.Unlock()

	return s.persist()
}

// Delete removes an entry by id and persists the change.
func (s *Store[T]) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.entries[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return s.persist()
}

// Get returns an entry by id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.entries[id]
	return t, ok
}

// List returns all entries in insertion order.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// Retrieve embeds query and returns the top-k entries by cosine similarity.
// If no embedder is configured, it degrades to the first k entries in
// insertion order — a degenerate but deterministic fallback.
func (s *Store[T]) Retrieve(ctx context.Context, query string, k int) ([]vector.Scored[T], error) {
	all := s.List()

	if s.embedder == nil {
		if k > len(all) {
			k = len(all)
		}
		scored := make([]vector.Scored[T], k)
		for i := 0; i < k; i++ {
			scored[i] = vector.Scored[T]{Item: all[i], Score: 0}
		}
		return scored, nil
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memstore: embed query: %w", err)
	}

	scored := make([]vector.Scored[T], 0, len(all))
	for _, item := range all {
		emb := item.GetEmbedding()
		if len(emb) == 0 {
			continue
		}
		score, err := vector.Cosine(qvec, emb)
		if err != nil {
			return nil, err
		}
		scored = append(scored, vector.Scored[T]{Item: item, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Load reads entries from path into the store. A missing file is tolerated
// silently (the store simply starts empty).
func (s *Store[T]) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("memstore: read %q: %w", s.path, err)
	}

	var list []T
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("memstore: parse %q: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]T, len(list))
	s.order = make([]string, 0, len(list))
	for _, e := range list {
		id := e.GetID()
		s.entries[id] = e
		s.order = append(s.order, id)
	}
	return nil
}

// persist writes the current entry set to s.path as pretty-printed JSON,
// using a temp-file-then-rename so readers never see a partial write.
// Best-effort: a write failure is logged, not returned to the caller's
// in-memory state, so the mutation still succeeds in memory.
func (s *Store[T]) persist() error {
	if s.path == "" {
		return nil
	}

	list := s.List()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("memstore: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[MemStore] mkdir %q: %v", dir, err)
		return nil
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("[MemStore] write %q: %v", tmp, err)
		return nil
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("[MemStore] rename %q -> %q: %v", tmp, s.path, err)
		return nil
	}
	return nil
}
