package prajna

import (
	"hash/fnv"
	"math"
	"strings"
)

// tfidfDim is the fixed dimensionality of the fallback embedding, so cosine
// similarity never hits vector.Cosine's length-mismatch error as the
// vocabulary grows.
const tfidfDim = 128

// tfidfVocab is an instance-scoped (not package-global) document-frequency
// table backing the TF-IDF fallback used when no real embedder is
// configured. spec.md's REDESIGN FLAGS called out exactly this: a
// process-wide mutable vocabulary with init-once semantics and no teardown
// is wrong for a systems rewrite — it should be a field on the memory store
// instance, unused once a real embedder is wired in. See DESIGN.md.
type tfidfVocab struct {
	docFreq  map[string]int
	docCount int
}

func newTFIDFVocab() *tfidfVocab {
	return &tfidfVocab{docFreq: make(map[string]int)}
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// observe updates document frequencies with the words in text. Caller must
// hold the owning Store's lock.
func (v *tfidfVocab) observe(text string) {
	seen := make(map[string]bool)
	for _, w := range tokenize(text) {
		if !seen[w] {
			seen[w] = true
			v.docFreq[w]++
		}
	}
	v.docCount++
}

// embed produces a fixed-dimension TF-IDF vector for text, hashing each
// token into one of tfidfDim buckets. Caller must hold the owning Store's
// lock (docFreq/docCount are read without their own synchronization).
func (v *tfidfVocab) embed(text string) []float64 {
	tf := make(map[string]int)
	for _, w := range tokenize(text) {
		tf[w]++
	}

	vec := make([]float64, tfidfDim)
	for w, count := range tf {
		idx := hashToken(w) % tfidfDim
		df := v.docFreq[w]
		idf := math.Log(float64(v.docCount+1)/float64(df+1)) + 1
		vec[idx] += float64(count) * idf
	}
	return vec
}

func hashToken(w string) int {
	h := fnv.New32a()
	h.Write([]byte(w))
	return int(h.Sum32())
}
