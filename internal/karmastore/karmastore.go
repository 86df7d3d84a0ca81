// Package karmastore implements the reinforcing, decaying, causally-linked
// proverb store of §4.5. Unlike skillstore/failurestore it cannot reuse
// memstore.Store.Retrieve unmodified (ranking combines cosine with
// transferWeight), so it keeps entries in a memstore.Store for persistence
// and indexing but implements Retrieve itself.
package karmastore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zenagent/zenagent/internal/memstore"
	"github.com/zenagent/zenagent/internal/vector"
)

// Severity mirrors failurestore.Severity; kept as its own type since karma
// and failure entries are independent domain objects.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MED"
	SeverityHigh   Severity = "HIGH"
)

// KarmaType classifies whether an entry reinforces or discourages behavior.
type KarmaType string

const (
	KarmaSkillful   KarmaType = "skillful"
	KarmaUnskillful KarmaType = "unskillful"
)

// KarmaEntry is a proverb+condition augmented with causal provenance,
// reinforcement count, and a decayable transfer weight.
type KarmaEntry struct {
	ID             string    `json:"id"`
	Proverb        string    `json:"proverb"`
	Condition      string    `json:"condition"`
	Severity       Severity  `json:"severity"`
	Source         string    `json:"source"`
	CausalChain    []string  `json:"causalChain,omitempty"`
	TransferWeight float64   `json:"transferWeight"`
	KarmaType      KarmaType `json:"karmaType"`
	Occurrences    int       `json:"occurrences"`
	LastSeen       int64     `json:"lastSeen"` // unix millis, caller-supplied (no wall-clock inside the store)
	Embedding      []float64 `json:"embedding,omitempty"`
}

func (e *KarmaEntry) GetID() string           { return e.ID }
func (e *KarmaEntry) GetEmbedding() []float64  { return e.Embedding }
func (e *KarmaEntry) SetEmbedding(v []float64) { e.Embedding = v }

func embedText(e *KarmaEntry) string {
	return e.Proverb + " " + e.Condition
}

// Store manages KarmaEntry records with merge-on-duplicate-proverb
// reinforcement and impermanence decay.
type Store struct {
	base     *memstore.Store[*KarmaEntry]
	embedder memstore.Embedder
	mu       sync.Mutex // guards the read-merge-write sequence in Save
}

// New creates a karma store backed by path and embedder.
func New(path string, embedder memstore.Embedder) *Store {
	return &Store{base: memstore.New[*KarmaEntry](path, embedder), embedder: embedder}
}

// Load reads persisted karma from disk; tolerates a missing file.
func (s *Store) Load() error { return s.base.Load() }

// List returns all karma entries in insertion order.
func (s *Store) List() []*KarmaEntry { return s.base.List() }

// Get returns a karma entry by id.
func (s *Store) Get(id string) (*KarmaEntry, bool) { return s.base.Get(id) }

// Save stores a new karma entry, or — if an entry with an identical Proverb
// already exists — merges into it per §3/§4.5: occurrences += 1,
// transferWeight := min(1.0, prev + 0.1), and the union of causalChain.
// Returns the id of the stored/merged entry.
func (s *Store) Save(ctx context.Context, e *KarmaEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.base.List() {
		if existing.Proverb == e.Proverb {
			existing.Occurrences++
			existing.TransferWeight = minF(1.0, existing.TransferWeight+0.1)
			existing.CausalChain = unionChain(existing.CausalChain, e.CausalChain)
			existing.LastSeen = e.LastSeen
			if err := s.base.Store(ctx, existing, embedText(existing)); err != nil {
				return "", err
			}
			return existing.ID, nil
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Occurrences < 1 {
		e.Occurrences = 1
	}
	if e.Severity == "" {
		e.Severity = SeverityMedium
	}
	if err := s.base.Store(ctx, e, embedText(e)); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Retrieve orders results by (cosine × transferWeight) descending.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]vector.Scored[*KarmaEntry], error) {
	all := s.base.List()
	if k <= 0 {
		return nil, nil
	}

	type withEmb struct {
		entry *KarmaEntry
		score float64
	}
	var candidates []withEmb

	var qvec []float64
	if s.embedder != nil && query != "" {
		v, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("karmastore: embed query: %w", err)
		}
		qvec = v
	}

	for _, e := range all {
		if len(e.Embedding) == 0 {
			continue
		}
		var cos float64
		if qvec != nil {
			c, err := vector.Cosine(qvec, e.Embedding)
			if err != nil {
				return nil, err
			}
			cos = c
		}
		candidates = append(candidates, withEmb{entry: e, score: cos * e.TransferWeight})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]vector.Scored[*KarmaEntry], k)
	for i := 0; i < k; i++ {
		out[i] = vector.Scored[*KarmaEntry]{Item: candidates[i].entry, Score: candidates[i].score}
	}
	return out, nil
}

// LinkCausal appends priorID to entry.CausalChain (idempotent — a repeat
// link is a no-op) and persists the entry directly, bypassing Save's
// duplicate-proverb merge: entry already exists in the store, so matching
// it against itself by Proverb would misreport a reinforcement occurrence.
// Used by the Awakening pipeline's causal-analysis stage (§4.8) once two
// consecutive failures are judged causally linked.
func (s *Store) LinkCausal(ctx context.Context, entry *KarmaEntry, priorID string) error {
	for _, id := range entry.CausalChain {
		if id == priorID {
			return nil
		}
	}
	entry.CausalChain = append(entry.CausalChain, priorID)
	return s.base.Store(ctx, entry, embedText(entry))
}

// TraceCausalChain returns the entries referenced by entry.CausalChain, in
// that order. Returns an empty slice if id is unknown. Cycles and
// self-references (causalChain entries that point back into the chain being
// traced) are detected and skipped per §9.
func (s *Store) TraceCausalChain(id string) []*KarmaEntry {
	root, ok := s.base.Get(id)
	if !ok {
		return nil
	}

	visited := map[string]bool{id: true}
	out := make([]*KarmaEntry, 0, len(root.CausalChain))
	for _, refID := range root.CausalChain {
		if visited[refID] {
			continue // self-reference or cycle — skip
		}
		visited[refID] = true
		if e, ok := s.base.Get(refID); ok {
			out = append(out, e)
		}
	}
	return out
}

// HabitualPatterns returns entries whose Occurrences >= minOccurrences.
func (s *Store) HabitualPatterns(minOccurrences int) []*KarmaEntry {
	var out []*KarmaEntry
	for _, e := range s.base.List() {
		if e.Occurrences >= minOccurrences {
			out = append(out, e)
		}
	}
	return out
}

// ApplyImpermanence subtracts rate from every entry's TransferWeight.
// Entries reaching <= 0 are evicted. Intended to run exactly once at the
// end of each agent run.
func (s *Store) ApplyImpermanence(ctx context.Context, rate float64) error {
	if rate < 0 {
		return fmt.Errorf("karmastore: rate must be >= 0, got %v", rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.base.List() {
		e.TransferWeight -= rate
		if e.TransferWeight <= 0 {
			if err := s.base.Delete(e.ID); err != nil {
				return err
			}
			continue
		}
		if err := s.base.Store(ctx, e, embedText(e)); err != nil {
			return err
		}
	}
	return nil
}

func unionChain(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
