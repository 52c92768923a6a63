package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MockEmbedder generates deterministic embeddings from text hashes.
// Useful for testing and development without external API dependencies.
type MockEmbedder struct {
	dimensions int
	model      string
}

// NewMock creates a new mock embedder with the specified dimensions.
func NewMock(dimensions int) *MockEmbedder {
	return &MockEmbedder{
		dimensions: dimensions,
		model:      fmt.Sprintf("mock-%d", dimensions),
	}
}

// Embed generates a deterministic embedding from the text hash.
func (m *MockEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	return &Embedding{
		Text:   text,
		Vector: m.generateVector(text),
		Model:  m.model,
	}, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	embeddings := make([]*Embedding, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text at index %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensionality.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// Model returns the model identifier.
func (m *MockEmbedder) Model() string {
	return m.model
}

// generateVector creates a deterministic normalized vector from text.
// Uses the SHA256 hash as seed for reproducible pseudo-random values.
func (m *MockEmbedder) generateVector(text string) Vector {
	hash := sha256.Sum256([]byte(text))
	vector := make(Vector, m.dimensions)

	for i := 0; i < m.dimensions; i++ {
		offset := (i * 4) % (len(hash) - 4)
		seed := binary.BigEndian.Uint32(hash[offset:])
		vector[i] = float32(int64(seed)%math.MaxInt32) / float32(math.MaxInt32)
	}
	return Normalize(vector)
}

// Normalize scales a vector to unit length.
func Normalize(v Vector) Vector {
	var sumSquares float32
	for _, val := range v {
		sumSquares += val * val
	}
	if sumSquares == 0 {
		return v
	}

	magnitude := float32(math.Sqrt(float64(sumSquares)))
	normalized := make(Vector, len(v))
	for i, val := range v {
		normalized[i] = val / magnitude
	}
	return normalized
}
