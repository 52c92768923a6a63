package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelearth/codechat/internal/chunker"
	"github.com/modelearth/codechat/internal/embedding"
	"github.com/modelearth/codechat/internal/observability"
	"github.com/modelearth/codechat/internal/tokenizer"
	"github.com/modelearth/codechat/internal/vectorstore"
)

func TestWalkerSkipsHiddenAndOversized(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	files := map[string]string{
		".git/config":   "[core]\n",
		".hidden":       "secret\n",
		"src/main.py":   "def main(): pass\n",
		"README.md":     "# readme\n",
		"assets.png":    "not really a png",
		"src/large.txt": string(make([]byte, 4096)),
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), []byte(content), 0o644))
	}

	walker := NewWalker(1024)
	var seen []WalkFile
	err := walker.Walk(context.Background(), root, func(f WalkFile) error {
		seen = append(seen, f)
		return nil
	})
	require.NoError(t, err)

	paths := make(map[string]WalkFile)
	for _, f := range seen {
		paths[f.RelPath] = f
	}

	assert.Contains(t, paths, "src/main.py")
	assert.Contains(t, paths, "README.md")
	assert.Contains(t, paths, "assets.png")
	assert.True(t, paths["assets.png"].Binary)
	assert.False(t, paths["src/main.py"].Binary)

	assert.NotContains(t, paths, ".git/config")
	assert.NotContains(t, paths, ".hidden")
	assert.NotContains(t, paths, "src/large.txt") // over size cutoff
}

func TestIngestFileIdempotent(t *testing.T) {
	// Ingesting the same file twice produces the same IDs and no duplicate
	// vectors: stable IDs plus pre-delete make retries safe.
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.py"),
		[]byte("def first():\n    return 1\n\ndef second():\n    return 2\n"), 0o644))

	repo := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitA", Namespace: "widgets"}

	n1, err := ing.IngestFile(ctx, repo, dir, "mod.py")
	require.NoError(t, err)
	require.Greater(t, n1, 0)

	first, err := store.Query(ctx, "widgets", nil, 0, nil)
	require.NoError(t, err)

	n2, err := ing.IngestFile(ctx, repo, dir, "mod.py")
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	second, err := store.Query(ctx, "widgets", nil, 0, nil)
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))

	ids := func(matches []vectorstore.Match) map[string]bool {
		out := make(map[string]bool)
		for _, m := range matches {
			out[m.ID] = true
		}
		return out
	}
	assert.Equal(t, ids(first), ids(second))
}

func TestIngestFileStagesUntilActivation(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.py"),
		[]byte("def f():\n    return 1\n"), 0o644))

	repo := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitA", Namespace: "widgets"}
	_, err := ing.IngestFile(ctx, repo, dir, "mod.py")
	require.NoError(t, err)

	// Staged vectors are invisible to live-filtered retrieval.
	live, err := store.Query(ctx, "widgets", nil, 0,
		&vectorstore.Filter{Equals: map[string]any{vectorstore.FieldLive: true}})
	require.NoError(t, err)
	assert.Empty(t, live)

	require.NoError(t, ing.Activate(ctx, "widgets", "commitA"))
	live, err = store.Query(ctx, "widgets", nil, 0,
		&vectorstore.Filter{Equals: map[string]any{vectorstore.FieldLive: true}})
	require.NoError(t, err)
	assert.NotEmpty(t, live)
}

func TestIngestBinaryFileGetsSummaryChunk(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"),
		[]byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}, 0o644))

	repo := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitA", Namespace: "widgets"}
	n, err := ing.IngestFile(ctx, repo, dir, "logo.png")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := store.Query(ctx, "widgets", nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "fallback", matches[0].Metadata[vectorstore.FieldChunkType])
}

func TestIngestFileHybridEmbedding(t *testing.T) {
	// With the hybrid wrapper the stored vector blends content, chunk
	// summary, and file context, so it no longer matches the plain content
	// embedding exactly.
	counter, err := tokenizer.NewCounter("")
	require.NoError(t, err)

	mock := embedding.NewMock(64)
	store := vectorstore.NewMemoryStore()
	journal := observability.NewErrorJournal(filepath.Join(t.TempDir(), "errors.jsonl"))
	ing := NewIngester(
		NewCloner("https://github.com", 0),
		chunker.New(counter),
		embedding.NewHybrid(mock, embedding.DefaultHybridWeights()),
		store,
		nil,
		journal,
		testLogger(),
		nil,
		Options{MaxWorkers: 1},
	)
	ctx := context.Background()

	source := "def blended():\n    return 42\n"
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.py"), []byte(source), 0o644))

	repo := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitA", Namespace: "widgets"}
	n, err := ing.IngestFile(ctx, repo, dir, "mod.py")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Query with the pure content vector: a content-only embedding would
	// score 1.0; the blended vector must not.
	contentEmb, err := mock.Embed(ctx, source)
	require.NoError(t, err)
	matches, err := store.Query(ctx, "widgets", contentEmb.Vector, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Less(t, matches[0].Score, float32(0.999))
	assert.Greater(t, matches[0].Score, float32(0.2))
}

func TestChunkSummary(t *testing.T) {
	ch := chunker.Chunk{
		Language:   "python",
		Type:       chunker.ChunkTypeMethod,
		SymbolName: "Widget.render",
		Parents:    []string{"Widget"},
	}
	assert.Equal(t, "python method Widget.render in Widget", chunkSummary(ch))

	bare := chunker.Chunk{Language: "yaml", Type: chunker.ChunkTypeConfigBlock}
	assert.Equal(t, "yaml config_block", chunkSummary(bare))
}

func TestFileContextSummary(t *testing.T) {
	chunks := []chunker.Chunk{
		{SymbolName: "a"},
		{SymbolName: "b"},
		{SymbolName: "a"}, // duplicate collapsed
		{SymbolName: ""},
	}
	assert.Equal(t, "File defines: a, b", fileContextSummary(chunks))
	assert.Empty(t, fileContextSummary(nil))
}

func TestDeleteFileMissingNamespace(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)

	// First-time ingestion pre-deletes against a namespace that does not
	// exist yet; that must not error.
	assert.NoError(t, ing.DeleteFile(context.Background(), "brand-new", "a.py"))
}
