// Package mock provides a deterministic embedder for tests and local
// development. No model files, no network.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder generates deterministic embeddings from text. Each token is
// hashed to its own pseudo-random unit direction and the directions are
// summed, so texts sharing vocabulary score higher under cosine
// similarity and identical texts always embed identically. That is
// enough structure for ranking behavior to be testable without a model.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the all-MiniLM-L6-v2 width.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// Embed converts text to a unit vector built from per-token hashes.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, m.dimensions)

	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		seed := h.Sum64()

		// LCG stream per token, spread across all dimensions
		for i := 0; i < m.dimensions; i++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			embedding[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// tokenize lowercases and splits on whitespace, trimming punctuation.
// An empty text yields a single sentinel token so the embedding is
// never the zero vector.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	if len(tokens) == 0 {
		return []string{"\x00empty"}
	}
	return tokens
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
