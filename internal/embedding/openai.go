package embedding

import (
	"context"
	"crypto/sha256"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Batch and retry defaults per the provider's published limits.
const (
	defaultBatchSize   = 96
	defaultTimeout     = 30 * time.Second
	retryBaseDelay     = 500 * time.Millisecond
	retryFactor        = 2.0
	retryJitter        = 0.2
	retryMaxDelay      = 30 * time.Second
	retryMaxAttempts   = 6
	defaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
// An in-process cache keyed by sha256(text) avoids re-embedding identical
// content within a run. Safe for concurrent use.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	batchSize  int
	timeout    time.Duration

	mu    sync.RWMutex
	cache map[[32]byte]Vector
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithBatchSize overrides the per-request input cap.
func WithBatchSize(n int) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewOpenAI creates an embedder for the given model and dimensionality.
func NewOpenAI(apiKey, model string, dimensions int, opts ...OpenAIOption) *OpenAIEmbedder {
	if model == "" {
		model = defaultOpenAIModel
	}
	e := &OpenAIEmbedder{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		dimensions: dimensions,
		batchSize:  defaultBatchSize,
		timeout:    defaultTimeout,
		cache:      make(map[[32]byte]Vector),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed generates an embedding for a single text input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting requests at
// the batch cap and serving repeats from the cache.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyInput
		}
	}

	out := make([]*Embedding, len(texts))

	// Serve cache hits first; collect misses preserving order.
	var missTexts []string
	var missIndex []int
	e.mu.RLock()
	for i, t := range texts {
		key := sha256.Sum256([]byte(t))
		if vec, ok := e.cache[key]; ok {
			out[i] = &Embedding{Text: t, Vector: vec, Model: e.model}
		} else {
			missTexts = append(missTexts, t)
			missIndex = append(missIndex, i)
		}
	}
	e.mu.RUnlock()

	for start := 0; start < len(missTexts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		vectors, err := e.requestWithRetry(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		for j, vec := range vectors {
			text := missTexts[start+j]
			e.cache[sha256.Sum256([]byte(text))] = vec
			out[missIndex[start+j]] = &Embedding{Text: text, Vector: vec, Model: e.model}
		}
		e.mu.Unlock()
	}
	return out, nil
}

// requestWithRetry performs one embeddings request with exponential backoff
// on transient failures.
func (e *OpenAIEmbedder) requestWithRetry(ctx context.Context, texts []string) ([]Vector, error) {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if attempt > 0 {
			jittered := jitterDuration(delay)
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay = time.Duration(float64(delay) * retryFactor)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		vectors, err := e.request(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([]Vector, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, &APIError{StatusCode: 500, Message: "embedding count does not match input count"}
	}

	vectors := make([]Vector, len(resp.Data))
	for i, d := range resp.Data {
		vec := make(Vector, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the pinned vector dimensionality.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the embedding model identifier.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func jitterDuration(d time.Duration) time.Duration {
	spread := float64(d) * retryJitter
	offset := (rand.Float64()*2 - 1) * spread // #nosec G404 -- jitter, not security
	return time.Duration(float64(d) + offset)
}
