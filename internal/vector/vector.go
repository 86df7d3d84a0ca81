// Package vector provides the pure similarity-scoring primitives shared by
// every embedding-indexed store (memstore, skillstore, failurestore,
// karmastore, prajna).
package vector

import (
	"fmt"
	"math"
	"sort"
)

// Scored pairs an item with the cosine score computed against a query.
type Scored[T any] struct {
	Item  T
	Score float64
}

// Cosine returns the cosine similarity between a and b.
// Returns 0 if either vector has zero magnitude.
// Returns an error if the vectors have mismatched lengths.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: length mismatch (%d vs %d)", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// Embedded is implemented by anything that may carry an embedding vector.
type Embedded interface {
	Embedding() []float64
}

// TopK scores every item in items that carries a non-empty embedding against
// query by cosine similarity and returns the k highest-scoring, attaching the
// score. Items without an embedding are filtered out. Ties preserve the
// relative order of items as passed in (stable sort).
func TopK[T Embedded](query []float64, items []T, k int) ([]Scored[T], error) {
	if k <= 0 {
		return nil, nil
	}

	scored := make([]Scored[T], 0, len(items))
	for _, item := range items {
		emb := item.Embedding()
		if len(emb) == 0 {
			continue
		}
		score, err := Cosine(query, emb)
		if err != nil {
			return nil, err
		}
		scored = append(scored, Scored[T]{Item: item, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}
