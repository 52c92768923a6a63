package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	embedder := NewMock(128)
	ctx := context.Background()

	first, err := embedder.Embed(ctx, "some text")
	require.NoError(t, err)
	second, err := embedder.Embed(ctx, "some text")
	require.NoError(t, err)
	assert.Equal(t, first.Vector, second.Vector)

	other, err := embedder.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, first.Vector, other.Vector)

	assert.Len(t, first.Vector, 128)
	assert.Equal(t, 128, embedder.Dimensions())
}

func TestMockEmbedderRejectsEmpty(t *testing.T) {
	embedder := NewMock(64)
	ctx := context.Background()

	_, err := embedder.Embed(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = embedder.Embed(ctx, "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = embedder.EmbedBatch(ctx, []string{"fine", " "})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMockEmbedderVectorsNormalized(t *testing.T) {
	embedder := NewMock(64)
	emb, err := embedder.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var sum float64
	for _, v := range emb.Vector {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 0.001)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"transport", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestHybridEmbedderBlends(t *testing.T) {
	inner := NewMock(32)
	hybrid := NewHybrid(inner, DefaultHybridWeights())
	ctx := context.Background()

	contentOnly, err := inner.Embed(ctx, "the content")
	require.NoError(t, err)

	blended, err := hybrid.EmbedHybrid(ctx, "the content", "a summary", "file context")
	require.NoError(t, err)
	assert.Len(t, blended.Vector, 32)
	assert.NotEqual(t, contentOnly.Vector, blended.Vector)
	assert.Contains(t, blended.Model, "hybrid")

	// Absent summary and context degrade to the pure content vector.
	degraded, err := hybrid.EmbedHybrid(ctx, "the content", "", "  ")
	require.NoError(t, err)
	for i := range degraded.Vector {
		assert.InDelta(t, contentOnly.Vector[i], degraded.Vector[i], 0.0001)
	}
}

func TestJitterDurationWithinSpread(t *testing.T) {
	base := retryBaseDelay
	for i := 0; i < 50; i++ {
		d := jitterDuration(base)
		assert.GreaterOrEqual(t, float64(d), float64(base)*0.79)
		assert.LessOrEqual(t, float64(d), float64(base)*1.21)
	}
}
