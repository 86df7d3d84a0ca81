// Package prajna implements the hierarchical memory of §4.9: three layers —
// working, episodic, semantic — each a map of scored entries, consolidated
// on a schedule that decays, promotes, and evicts entries between layers.
//
// Like karmastore, entries carry caller-supplied timestamps rather than
// reading the wall clock internally, so consolidation is deterministic and
// testable.
package prajna

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zenagent/zenagent/internal/vector"
)

// Layer identifies one of the three memory tiers.
type Layer string

const (
	LayerWorking  Layer = "working"
	LayerEpisodic Layer = "episodic"
	LayerSemantic Layer = "semantic"
)

// Entry is one remembered item, scored for consolidation and retrieval.
type Entry struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Embedding    []float64 `json:"embedding,omitempty"`
	Relevance    float64   `json:"relevance"`
	AccessCount  int       `json:"accessCount"`
	LastAccessed int64     `json:"lastAccessed"` // unix millis, caller-supplied
}

// Config tunes the consolidation thresholds named in §4.9. Zero-value
// Config is invalid; use NewConfig for the documented defaults.
type Config struct {
	WorkingDecay        float64
	EpisodicDecay       float64
	PromotionThreshold  float64
	EpisodicCapacity    int
	ConsolidateEveryN   int // run Consolidate automatically every N RecordStep calls
}

// NewConfig returns the teacher-conventional defaults: 0.1 working decay,
// 0.05 episodic decay, promotion threshold 0.5, episodic capacity 500,
// consolidating every 10 steps.
func NewConfig() Config {
	return Config{
		WorkingDecay:       0.1,
		EpisodicDecay:      0.05,
		PromotionThreshold: 0.5,
		EpisodicCapacity:   500,
		ConsolidateEveryN:  10,
	}
}

// Embedder produces an embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Store is the three-layer memory. Working is transient (never persisted);
// episodic and semantic are flushed to paths after every Consolidate call.
type Store struct {
	mu sync.Mutex

	cfg      Config
	embedder Embedder
	vocab    *tfidfVocab // fallback embedding source when embedder is nil

	working  map[string]*Entry
	episodic map[string]*Entry
	semantic map[string]*Entry

	episodicPath string
	semanticPath string

	stepsSinceConsolidate int
}

// New creates an empty hierarchical store. episodicPath/semanticPath may be
// empty to disable persistence for that layer.
func New(cfg Config, embedder Embedder, episodicPath, semanticPath string) *Store {
	return &Store{
		cfg:          cfg,
		embedder:     embedder,
		vocab:        newTFIDFVocab(),
		working:      make(map[string]*Entry),
		episodic:     make(map[string]*Entry),
		semantic:     make(map[string]*Entry),
		episodicPath: episodicPath,
		semanticPath: semanticPath,
	}
}

// Remember adds content to the working layer, embedding it if an embedder is
// configured. With no embedder, it falls back to the store's own
// instance-scoped TF-IDF vocabulary so retrieval still has something better
// than insertion order to rank on. Returns the new entry's id.
func (s *Store) Remember(ctx context.Context, content string, relevance float64, now int64) (string, error) {
	var emb []float64
	if s.embedder != nil && content != "" {
		v, err := s.embedder.Embed(ctx, content)
		if err != nil {
			return "", fmt.Errorf("prajna: embed: %w", err)
		}
		emb = v
	} else if content != "" {
		s.mu.Lock()
		s.vocab.observe(content)
		emb = s.vocab.embed(content)
		s.mu.Unlock()
	}

	e := &Entry{
		ID:           uuid.NewString(),
		Content:      content,
		Embedding:    emb,
		Relevance:    relevance,
		AccessCount:  0,
		LastAccessed: now,
	}

	s.mu.Lock()
	s.working[e.ID] = e
	s.stepsSinceConsolidate++
	due := s.cfg.ConsolidateEveryN > 0 && s.stepsSinceConsolidate >= s.cfg.ConsolidateEveryN
	s.mu.Unlock()

	if due {
		if err := s.Consolidate(now); err != nil {
			return e.ID, err
		}
	}
	return e.ID, nil
}

// Consolidate runs the five-step procedure of §4.9: decay + evict working,
// promote working→episodic, decay + evict episodic, promote episodic→semantic,
// and cap episodic capacity. now is unix millis, supplied by the caller.
func (s *Store) Consolidate(now int64) error {
	s.mu.Lock()
	s.stepsSinceConsolidate = 0

	// 1. Decay working relevance; evict at <= 0.
	for id, e := range s.working {
		e.Relevance -= s.cfg.WorkingDecay
		if e.Relevance <= 0 {
			delete(s.working, id)
		}
	}

	// 2. Promote working -> episodic.
	for id, e := range s.working {
		if e.AccessCount >= 2 || e.Relevance >= s.cfg.PromotionThreshold+0.3 {
			e.Relevance = minF(1.0, e.Relevance+0.1)
			s.episodic[id] = e
			delete(s.working, id)
		}
	}

	// 3. Decay episodic; evict at <= 0.
	for id, e := range s.episodic {
		e.Relevance -= s.cfg.EpisodicDecay
		if e.Relevance <= 0 {
			delete(s.episodic, id)
		}
	}

	// 4. Promote episodic -> semantic.
	for id, e := range s.episodic {
		if e.AccessCount >= 5 && e.Relevance >= 0.5 {
			e.Relevance = 1.0
			s.semantic[id] = e
			delete(s.episodic, id)
		}
	}

	// 5. Cap episodic capacity by evicting the single lowest-relevance entry.
	if s.cfg.EpisodicCapacity > 0 && len(s.episodic) > s.cfg.EpisodicCapacity {
		var lowestID string
		lowest := 0.0
		first := true
		for id, e := range s.episodic {
			if first || e.Relevance < lowest {
				lowest = e.Relevance
				lowestID = id
				first = false
			}
		}
		if lowestID != "" {
			delete(s.episodic, lowestID)
		}
	}
	s.mu.Unlock()

	if err := s.persist(s.episodicPath, s.episodicSnapshot()); err != nil {
		return err
	}
	return s.persist(s.semanticPath, s.semanticSnapshot())
}

// Retrieved is one ranked result from Retrieve.
type Retrieved struct {
	Entry *Entry
	Layer Layer
	Score float64
}

// Retrieve searches all three layers, scoring by cosine similarity combined
// with relevance*(accessCount+1), and returns the top-k results. Results
// are ordered semantic > episodic > working on score ties, and matching
// entries get AccessCount incremented and LastAccessed refreshed to now.
func (s *Store) Retrieve(ctx context.Context, query string, k int, now int64) ([]Retrieved, error) {
	var qvec []float64
	if s.embedder != nil && query != "" {
		v, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("prajna: embed query: %w", err)
		}
		qvec = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if qvec == nil && s.embedder == nil && query != "" {
		qvec = s.vocab.embed(query) // fallback: query against the same instance vocabulary
	}

	layerPriority := map[Layer]int{LayerSemantic: 2, LayerEpisodic: 1, LayerWorking: 0}
	var candidates []Retrieved

	collect := func(layer Layer, m map[string]*Entry) error {
		for _, e := range m {
			var cos float64
			if qvec != nil && len(e.Embedding) > 0 {
				c, err := vector.Cosine(qvec, e.Embedding)
				if err != nil {
					return err
				}
				cos = c
			}
			score := cos * e.Relevance * float64(e.AccessCount+1)
			candidates = append(candidates, Retrieved{Entry: e, Layer: layer, Score: score})
		}
		return nil
	}
	if err := collect(LayerSemantic, s.semantic); err != nil {
		return nil, err
	}
	if err := collect(LayerEpisodic, s.episodic); err != nil {
		return nil, err
	}
	if err := collect(LayerWorking, s.working); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return layerPriority[candidates[i].Layer] > layerPriority[candidates[j].Layer]
	})

	if k < len(candidates) {
		candidates = candidates[:k]
	}
	for _, r := range candidates {
		r.Entry.AccessCount++
		r.Entry.LastAccessed = now
	}
	return candidates, nil
}

func (s *Store) episodicSnapshot() []*Entry {
	out := make([]*Entry, 0, len(s.episodic))
	for _, e := range s.episodic {
		out = append(out, e)
	}
	return out
}

func (s *Store) semanticSnapshot() []*Entry {
	out := make([]*Entry, 0, len(s.semantic))
	for _, e := range s.semantic {
		out = append(out, e)
	}
	return out
}

// Load reads episodic and semantic layers from their configured paths. A
// missing file for either is tolerated silently. Working is never loaded —
// it is transient by design.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entries, err := loadEntries(s.episodicPath); err != nil {
		return err
	} else {
		for _, e := range entries {
			s.episodic[e.ID] = e
		}
	}
	if entries, err := loadEntries(s.semanticPath); err != nil {
		return err
	} else {
		for _, e := range entries {
			s.semantic[e.ID] = e
		}
	}
	return nil
}

func loadEntries(path string) ([]*Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("prajna: read %q: %w", path, err)
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("prajna: parse %q: %w", path, err)
	}
	return entries, nil
}

// persist writes entries to path as pretty-printed JSON via a
// temp-file-then-rename, matching memstore's atomic-write convention.
// Best-effort: a write failure is logged, not returned.
func (s *Store) persist(path string, entries []*Entry) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("prajna: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[Prajna] mkdir %q: %v", dir, err)
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("[Prajna] write %q: %v", tmp, err)
		return nil
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Printf("[Prajna] rename %q -> %q: %v", tmp, path, err)
		return nil
	}
	return nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
