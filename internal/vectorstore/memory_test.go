package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelearth/codechat/internal/chunker"
)

func record(id, filePath, ref string, live bool, values ...float32) Record {
	if len(values) == 0 {
		values = []float32{1, 0, 0}
	}
	return Record{
		ID:     id,
		Values: values,
		Metadata: map[string]any{
			FieldFilePath: filePath,
			FieldRef:      ref,
			FieldLive:     live,
			FieldContent:  "content of " + filePath,
		},
	}
}

func TestMemoryStoreUpsertIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := record("id-1", "a.py", "ref1", true)
	require.NoError(t, store.Upsert(ctx, "ns", []Record{rec}))
	require.NoError(t, store.Upsert(ctx, "ns", []Record{rec}))

	assert.Equal(t, 1, store.Count("ns"))
}

func TestMemoryStoreUpsertValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.Error(t, store.Upsert(ctx, "", []Record{record("x", "a", "r", true)}))
	assert.Error(t, store.Upsert(ctx, "ns", []Record{{ID: "", Values: []float32{1}}}))
	assert.Error(t, store.Upsert(ctx, "ns", []Record{{ID: "x"}}))
}

func TestMemoryStoreDeleteByFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "ns", []Record{
		record("1", "a.py", "ref1", true),
		record("2", "a.py", "ref1", true),
		record("3", "b.py", "ref1", true),
	}))

	err := store.DeleteByFilter(ctx, "ns", Filter{Equals: map[string]any{FieldFilePath: "a.py"}})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count("ns"))

	// Missing namespace is a no-op, not an error.
	assert.NoError(t, store.DeleteByFilter(ctx, "missing", Filter{Equals: map[string]any{FieldFilePath: "x"}}))
}

func TestMemoryStoreQueryMissingNamespace(t *testing.T) {
	store := NewMemoryStore()

	matches, err := store.Query(context.Background(), "missing", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryStoreQueryRanking(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "ns", []Record{
		record("close", "a.py", "ref1", true, 1, 0, 0),
		record("far", "b.py", "ref1", true, 0, 1, 0),
	}))

	matches, err := store.Query(ctx, "ns", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "close", matches[0].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "ns", []Record{
		record("live", "chunker.py", "ref2", true),
		record("stale", "chunker.py", "ref1", false),
		record("other", "util.py", "ref2", true),
	}))

	matches, err := store.Query(ctx, "ns", []float32{1, 0, 0}, 10, &Filter{
		Equals:   map[string]any{FieldLive: true},
		Contains: map[string]string{FieldFilePath: "chunker"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "live", matches[0].ID)
}

func TestMemoryStoreActivate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "ns", []Record{
		record("old", "a.py", "ref1", true),
		record("new", "a.py", "ref2", false),
	}))

	require.NoError(t, store.Activate(ctx, "ns", "ref2"))

	matches, err := store.Query(ctx, "ns", nil, 10, &Filter{Equals: map[string]any{FieldLive: true}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new", matches[0].ID)

	ref, err := store.ActiveRef(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, "ref2", ref)
}

func TestMemoryStoreDescribe(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "beta", []Record{record("1", "a", "r", true)}))
	require.NoError(t, store.Upsert(ctx, "alpha", []Record{record("2", "b", "r", true)}))

	names, err := store.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestRecordFromChunk(t *testing.T) {
	ch := chunker.Chunk{
		ID:         "chunk-id",
		ContentSHA: "sha",
		Repository: "acme/widgets",
		Ref:        "ref1",
		FilePath:   "src/a.py",
		LineStart:  3,
		LineEnd:    9,
		Content:    "def a(): pass",
		Language:   "python",
		Type:       chunker.ChunkTypeFunction,
		SymbolName: "a",
		Parents:    []string{"Outer"},
		TokenCount: 7,
		Live:       true,
		LastModified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	rec := RecordFromChunk(ch, []float32{0.1, 0.2})
	assert.Equal(t, "chunk-id", rec.ID)
	assert.Equal(t, []float32{0.1, 0.2}, rec.Values)
	assert.Equal(t, "src/a.py", rec.Metadata[FieldFilePath])
	assert.Equal(t, "function", rec.Metadata[FieldChunkType])
	assert.Equal(t, 3, rec.Metadata[FieldLineStart])
	assert.Equal(t, true, rec.Metadata[FieldLive])
	assert.Equal(t, "2024-05-01T12:00:00Z", rec.Metadata[FieldLastModified])
}

func TestFilterMatchesNumericLoosely(t *testing.T) {
	// JSON round-trips ints as float64; both directions must match.
	f := Filter{Equals: map[string]any{FieldLineStart: 3}}
	assert.True(t, f.Matches(map[string]any{FieldLineStart: float64(3)}))
	assert.True(t, f.Matches(map[string]any{FieldLineStart: 3}))
	assert.False(t, f.Matches(map[string]any{FieldLineStart: 4}))
}
