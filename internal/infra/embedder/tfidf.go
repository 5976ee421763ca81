// Package embedder turns entry text into fixed-dimension vectors for the
// similarity graph without calling an external model.
package embedder

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/dysthesis/sift/internal/domain/entity"
)

// TFIDF is an incremental TF-IDF embedder. Each term's weight is its raw
// count in the document times the smoothed inverse document frequency
// ln((N+1)/(df+1)) + 1 over every document observed so far. Terms are
// hashed into Dimension buckets and the result is L2-normalised.
//
// IDF drifts as the corpus grows, so vectors embedded early are not
// recomputed. That keeps stored embeddings stable across restarts.
type TFIDF struct {
	dim int

	mu   sync.RWMutex
	docs int
	df   map[string]int
}

func New(dim int) (*TFIDF, error) {
	if dim <= 0 {
		return nil, &entity.ConfigurationError{Field: "embedding_dim", Message: fmt.Sprintf("must be positive, got %d", dim)}
	}
	return &TFIDF{dim: dim, df: make(map[string]int)}, nil
}

func (t *TFIDF) Dimension() int { return t.dim }

// Docs returns the number of documents observed.
func (t *TFIDF) Docs() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.docs
}

// Tokenize splits on every non-alphabetic rune and lower-cases the pieces.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

func termFrequency(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

// Observe adds a document to the corpus statistics without embedding it.
// Used to warm the corpus from stored entries on startup.
func (t *TFIDF) Observe(text string) {
	tf := termFrequency(Tokenize(text))
	t.mu.Lock()
	t.observe(tf)
	t.mu.Unlock()
}

// caller holds t.mu
func (t *TFIDF) observe(tf map[string]float64) {
	t.docs++
	for term := range tf {
		t.df[term]++
	}
}

// Embed observes text and returns its vector. Text with no terms yields a
// zero vector, which the graph keeps isolated.
func (t *TFIDF) Embed(text string) []float32 {
	tf := termFrequency(Tokenize(text))

	t.mu.Lock()
	t.observe(tf)
	weights := make(map[string]float64, len(tf))
	for term, count := range tf {
		weights[term] = count * t.idf(term)
	}
	t.mu.Unlock()

	vec := make([]float64, t.dim)
	for term, w := range weights {
		vec[t.bucket(term)] += w
	}
	return normalise(vec)
}

// IDF returns the current smoothed inverse document frequency of a term.
func (t *TFIDF) IDF(term string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.idf(strings.ToLower(term))
}

// caller holds t.mu
func (t *TFIDF) idf(term string) float64 {
	return math.Log(float64(t.docs+1)/float64(t.df[term]+1)) + 1
}

func (t *TFIDF) bucket(term string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum32() % uint32(t.dim))
}

func normalise(vec []float64) []float32 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
