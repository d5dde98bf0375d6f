package rag

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/agenticlabs/workspace/internal/domain"
)

// vectorDim is the dimensionality of the hashed term-frequency vectors.
const vectorDim = 512

// Index is an in-memory similarity index using feature-hashed
// term-frequency vectors with brute-force cosine search. Suitable for a
// single-user desktop workload; everything fits in memory and queries scan
// all chunks.
type Index struct {
	mu    sync.RWMutex
	docs  []indexedChunk
	errSt bool
}

type indexedChunk struct {
	text   string
	source string
	vector []float64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Add embeds and stores chunks.
func (ix *Index) Add(chunks []Chunk) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, c := range chunks {
		ix.docs = append(ix.docs, indexedChunk{
			text:   c.Text,
			source: c.Source,
			vector: embed(c.Text),
		})
	}
}

// Search returns the top k chunks by cosine similarity to the query.
// Chunks with no term overlap (zero similarity) are omitted.
func (ix *Index) Search(query string, k int) []domain.Fragment {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(ix.docs) == 0 {
		return nil
	}

	qv := embed(query)
	results := make([]domain.Fragment, 0, len(ix.docs))
	for _, d := range ix.docs {
		score := cosine(qv, d.vector)
		if score <= 0 {
			continue
		}
		results = append(results, domain.Fragment{
			Text:   d.text,
			Source: d.source,
			Score:  score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Clear drops all chunks. Idempotent.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.docs = nil
}

// Len returns the number of stored chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.docs)
}

// embed maps text to a fixed-size term-frequency vector via feature
// hashing, L2-normalized so cosine reduces to a dot product.
func embed(text string) []float64 {
	v := make([]float64, vectorDim)
	for _, term := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(term))
		v[h.Sum32()%vectorDim]++
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func cosine(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
