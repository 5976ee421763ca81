package embedder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysthesis/sift/internal/domain/entity"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "words", in: "Hello, World", want: []string{"hello", "world"}},
		{name: "digits split", in: "go1.22 release", want: []string{"go", "release"}},
		{name: "unicode letters", in: "café über", want: []string{"café", "über"}},
		{name: "empty", in: "  123 !! ", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIDF_Smoothed(t *testing.T) {
	e, err := New(16)
	require.NoError(t, err)
	e.Observe("apple banana")
	e.Observe("apple cherry")

	// N=2: df(apple)=2, df(banana)=1, df(durian)=0
	assert.InDelta(t, math.Log(3.0/3.0)+1, e.IDF("apple"), 1e-12)
	assert.InDelta(t, math.Log(3.0/2.0)+1, e.IDF("Banana"), 1e-12)
	assert.InDelta(t, math.Log(3.0)+1, e.IDF("durian"), 1e-12)
	assert.Equal(t, 2, e.Docs())
}

func TestEmbed_Properties(t *testing.T) {
	e, err := New(64)
	require.NoError(t, err)

	v := e.Embed("graph ranking graph personalised")
	require.Len(t, v, 64)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1, sum, 1e-5)
	assert.Equal(t, 1, e.Docs())

	zero := e.Embed("2024 -- 42")
	for _, x := range zero {
		assert.Zero(t, x)
	}
}

func TestEmbed_SimilarTextsAreCloser(t *testing.T) {
	e, err := New(256)
	require.NoError(t, err)
	for _, doc := range []string{
		"weather report rain tomorrow",
		"football match score tonight",
		"cooking pasta recipe garlic",
	} {
		e.Observe(doc)
	}

	a := e.Embed("postgres vector index performance tuning")
	b := e.Embed("tuning postgres index performance for vector search")
	c := e.Embed("garden flowers spring planting")

	assert.Greater(t, cosine(a, b), cosine(a, c))
	assert.Greater(t, cosine(a, b), 0.5)
}

func TestEmbed_Deterministic(t *testing.T) {
	e1, _ := New(32)
	e2, _ := New(32)
	assert.Equal(t, e1.Embed("same words here"), e2.Embed("same words here"))
}
