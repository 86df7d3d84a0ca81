package openai

import (
	"hash/fnv"
	"strings"
)

// pseudoEmbeddingDim is the fixed dimension of the hash-based fallback
// embedding, used whenever no EmbeddingModel is configured (§4.6: "adapters
// without native embeddings may expose a deterministic hash-based
// pseudo-embedding of fixed dimension; they MUST declare this in their
// vector dimension").
const pseudoEmbeddingDim = 256

// pseudoEmbed deterministically hashes whitespace-delimited shingles of text
// into a fixed-dimension vector. Same text always yields the same vector;
// no network call, no state.
func pseudoEmbed(text string) []float64 {
	vec := make([]float64, pseudoEmbeddingDim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		idx := int(h.Sum32()) % pseudoEmbeddingDim
		if idx < 0 {
			idx += pseudoEmbeddingDim
		}
		vec[idx]++
	}
	return vec
}
