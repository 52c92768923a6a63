package embedding

import (
	"context"
	"strings"
)

// HybridWeights controls the blend of content, chunk summary, and
// file-level context in a hybrid embedding.
type HybridWeights struct {
	Content float64
	Summary float64
	Context float64
}

// DefaultHybridWeights returns the standard 0.5/0.3/0.2 blend.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Content: 0.5, Summary: 0.3, Context: 0.2}
}

// HybridEmbedder blends the content vector with summary and file-context
// vectors in weighted combination. Disabled by default; the plain content
// vector is the baseline behavior.
type HybridEmbedder struct {
	inner   Embedder
	weights HybridWeights
}

// NewHybrid wraps an embedder with weighted blending.
func NewHybrid(inner Embedder, weights HybridWeights) *HybridEmbedder {
	if weights.Content <= 0 {
		weights = DefaultHybridWeights()
	}
	return &HybridEmbedder{inner: inner, weights: weights}
}

// EmbedHybrid produces the combined vector. Empty summary or context
// degrade gracefully: present parts are renormalized to full weight.
func (h *HybridEmbedder) EmbedHybrid(ctx context.Context, content, summary, fileContext string) (*Embedding, error) {
	type part struct {
		text   string
		weight float64
	}
	parts := []part{{content, h.weights.Content}}
	if strings.TrimSpace(summary) != "" {
		parts = append(parts, part{summary, h.weights.Summary})
	}
	if strings.TrimSpace(fileContext) != "" {
		parts = append(parts, part{fileContext, h.weights.Context})
	}

	texts := make([]string, len(parts))
	totalWeight := 0.0
	for i, p := range parts {
		texts[i] = p.text
		totalWeight += p.weight
	}

	embeddings, err := h.inner.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	combined := make(Vector, h.inner.Dimensions())
	for i, emb := range embeddings {
		w := float32(parts[i].weight / totalWeight)
		for j, v := range emb.Vector {
			combined[j] += w * v
		}
	}

	return &Embedding{
		Text:   content,
		Vector: Normalize(combined),
		Model:  h.inner.Model() + "+hybrid",
	}, nil
}

// Embed delegates to the inner embedder (content-only path).
func (h *HybridEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	return h.inner.Embed(ctx, text)
}

// EmbedBatch delegates to the inner embedder.
func (h *HybridEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	return h.inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the inner embedder's dimensionality.
func (h *HybridEmbedder) Dimensions() int {
	return h.inner.Dimensions()
}

// Model returns the inner model identifier.
func (h *HybridEmbedder) Model() string {
	return h.inner.Model()
}
