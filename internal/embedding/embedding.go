// Package embedding provides text-to-vector conversion with batching,
// caching, and retry semantics. Providers are injected; nothing in this
// package holds global state.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Vector represents a dense embedding vector.
type Vector []float32

// Embedding is a text embedding with provenance.
type Embedding struct {
	Text   string // Original text that was embedded
	Vector Vector // Dense vector representation
	Model  string // Model that produced the vector
}

// Embedder generates embeddings for text inputs. Content only: callers must
// never mix file paths or metadata into the embedded text.
type Embedder interface {
	// Embed generates an embedding for a single text input.
	Embed(ctx context.Context, text string) (*Embedding, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error)

	// Dimensions returns the dimensionality of vectors produced by this embedder.
	Dimensions() int

	// Model returns the identifier of the embedding model.
	Model() string
}

// ErrEmptyInput is returned for empty or whitespace-only input. Callers
// skip the offending chunk with a warning rather than aborting the run.
var ErrEmptyInput = errors.New("embedding: empty input")

// APIError is a typed provider error. Status 429 and 5xx are transient;
// other 4xx are permanent and the unit of work is abandoned.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embedding provider error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether an error warrants a backed-off retry: rate
// limits, server errors, and transport-level failures. Context cancellation
// and other 4xx responses are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	// Transport errors arrive untyped; treat them as transient.
	return true
}
