package query

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelearth/codechat/internal/embedding"
	"github.com/modelearth/codechat/internal/observability"
	"github.com/modelearth/codechat/internal/vectorstore"
)

func testExecutor(t *testing.T) (*Executor, *vectorstore.MemoryStore, embedding.Embedder) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.NewMock(64)
	logger := observability.NewLogger(observability.LoggerConfig{Level: "error", Output: io.Discard})
	return NewExecutor(store, embedder, logger, nil), store, embedder
}

func seedChunk(t *testing.T, store *vectorstore.MemoryStore, embedder embedding.Embedder, namespace, filePath, content string, lineStart int) {
	t.Helper()
	emb, err := embedder.Embed(context.Background(), content)
	require.NoError(t, err)
	err = store.Upsert(context.Background(), namespace, []vectorstore.Record{{
		ID:     namespace + ":" + filePath,
		Values: emb.Vector,
		Metadata: map[string]any{
			vectorstore.FieldFilePath:  filePath,
			vectorstore.FieldLineStart: lineStart,
			vectorstore.FieldContent:   content,
			vectorstore.FieldRef:       "head",
			vectorstore.FieldLive:      true,
		},
	}})
	require.NoError(t, err)
}

func TestExecuteFusesAcrossNamespaces(t *testing.T) {
	// "where is the chunker?" against two namespaces: the path-matching hit
	// in namespace A must outrank the unrelated file in namespace B, and
	// both the direct entity and baseline semantic strategies must run.
	executor, store, embedder := testExecutor(t)
	planner := NewPlanner()
	ctx := context.Background()

	queryText := `where is the "chunker"?`

	// The nsA chunk embeds to the exact query vector (similarity 1.0) and
	// mentions the quoted target, so it must win under any strategy mix.
	seedChunk(t, store, embedder, "nsA", "src/chunker.py", queryText, 1)
	seedChunk(t, store, embedder, "nsB", "src/unrelated.py",
		"def unrelated():\n    pass", 1)

	analysis := planner.Analyze(queryText)
	strategies := planner.Plan(analysis, []string{"nsA", "nsB"})

	names := map[string]bool{}
	for _, s := range strategies {
		names[s.Name] = true
	}
	assert.True(t, names[StrategyDirectEntity])
	assert.True(t, names[StrategySemantic])

	results, err := executor.Execute(ctx, queryText, analysis, strategies, ExecOptions{TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "nsA", results[0].Namespace)
	assert.Equal(t, "src/chunker.py", results[0].FilePath)
}

func TestExecuteDeduplicatesByFileAndLine(t *testing.T) {
	executor, store, embedder := testExecutor(t)
	ctx := context.Background()

	seedChunk(t, store, embedder, "ns", "a.py", "def f(): pass", 1)

	// Two strategies hitting the same chunk collapse to one result.
	strategies := []Strategy{
		{Name: StrategySemantic, Confidence: 0.7, Namespace: "ns"},
		{Name: StrategyContextual, Confidence: 0.8, Namespace: "ns"},
	}
	results, err := executor.Execute(ctx, "f", Analysis{Query: TypeConceptual}, strategies, ExecOptions{TopK: 10})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestExecuteToleratesEmptyNamespace(t *testing.T) {
	executor, store, embedder := testExecutor(t)
	ctx := context.Background()

	seedChunk(t, store, embedder, "good", "a.py", "def f(): pass", 1)

	// A namespace with nothing indexed yields no matches and must not sink
	// the query.
	strategies := []Strategy{
		{Name: StrategySemantic, Confidence: 0.7, Namespace: "missing"},
		{Name: StrategySemantic, Confidence: 0.7, Namespace: "good"},
	}
	results, err := executor.Execute(ctx, "f", Analysis{Query: TypeConceptual}, strategies, ExecOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].Namespace)
}

func TestExecuteFiltersStaleVectors(t *testing.T) {
	executor, store, embedder := testExecutor(t)
	ctx := context.Background()

	emb, err := embedder.Embed(ctx, "old content")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, "ns", []vectorstore.Record{{
		ID:     "stale",
		Values: emb.Vector,
		Metadata: map[string]any{
			vectorstore.FieldFilePath:  "old.py",
			vectorstore.FieldLineStart: 1,
			vectorstore.FieldContent:   "old content",
			vectorstore.FieldLive:      false,
		},
	}}))

	strategies := []Strategy{{Name: StrategySemantic, Confidence: 0.7, Namespace: "ns"}}
	results, err := executor.Execute(ctx, "old content", Analysis{}, strategies, ExecOptions{TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBoosts(t *testing.T) {
	analysis := Analysis{Query: TypeFileSearch}

	entity := Result{Strategy: StrategyDirectEntity, FilePath: "src/a.py"}
	assert.InDelta(t, 1.5, boostFor(entity, analysis), 0.001)

	structure := Result{Strategy: StrategyFileStructure, FilePath: "src/a.py"}
	assert.InDelta(t, 1.4, boostFor(structure, analysis), 0.001)

	docs := Result{Strategy: StrategySemantic, FilePath: "docs/guide.md"}
	assert.InDelta(t, 1.3, boostFor(docs, analysis), 0.001)

	docstring := Result{
		Strategy: StrategySemantic,
		FilePath: "src/a.py",
		Metadata: map[string]any{vectorstore.FieldHasDocstring: true},
	}
	assert.InDelta(t, 1.1, boostFor(docstring, analysis), 0.001)
}

func TestFuseCapsScores(t *testing.T) {
	results := []Result{{
		ID:        "x",
		Score:     0.95,
		Strategy:  StrategyDirectEntity,
		Namespace: "ns",
		FilePath:  "a.py",
	}}
	fused := fuse(results, Analysis{}, ExecOptions{TopK: 5})
	require.Len(t, fused, 1)
	assert.LessOrEqual(t, fused[0].Score, float32(1.0))
}
