package ingest

import (
	"context"
	"io"
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

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LoggerConfig{Level: "error", Output: io.Discard})
}

func testIngester(t *testing.T, store vectorstore.Store) *Ingester {
	t.Helper()
	counter, err := tokenizer.NewCounter("")
	require.NoError(t, err)

	journal := observability.NewErrorJournal(filepath.Join(t.TempDir(), "errors.jsonl"))
	return NewIngester(
		NewCloner("https://github.com", 0),
		chunker.New(counter),
		embedding.NewMock(64),
		store,
		nil,
		journal,
		testLogger(),
		nil,
		Options{MaxWorkers: 2},
	)
}

func TestParseNameStatus(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		prefix   string
		expected []Change
	}{
		{
			name:   "adds modifies deletes",
			output: "A\tnew.py\nM\tchanged.py\nD\tgone.py\n",
			expected: []Change{
				{StatusAdded, "new.py"},
				{StatusModified, "changed.py"},
				{StatusDeleted, "gone.py"},
			},
		},
		{
			name:   "rename expands to delete plus modify",
			output: "R100\tfoo.py\tbar.py\n",
			expected: []Change{
				{StatusDeleted, "foo.py"},
				{StatusModified, "bar.py"},
			},
		},
		{
			name:   "submodule prefix applied",
			output: "M\tutil.py\n",
			prefix: "lib",
			expected: []Change{
				{StatusModified, "lib/util.py"},
			},
		},
		{
			name:   "copy keeps only destination",
			output: "C75\tsrc.py\tcopy.py\n",
			expected: []Change{
				{StatusAdded, "copy.py"},
			},
		},
		{
			name:     "blank lines ignored",
			output:   "\n\n",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseNameStatus(tt.output, tt.prefix))
		})
	}
}

func TestParseSubmoduleDiff(t *testing.T) {
	output := `Submodule lib 1111111..2222222:
  > add feature
Submodule vendored 0000000...3333333 (new submodule)
`
	changes := parseSubmoduleDiff(output)
	require.Len(t, changes, 2)
	assert.Equal(t, submoduleChange{Path: "lib", OldSHA: "1111111", NewSHA: "2222222"}, changes[0])
	assert.Equal(t, submoduleChange{Path: "vendored", OldSHA: "0000000", NewSHA: "3333333"}, changes[1])
}

func TestIsZeroSHA(t *testing.T) {
	assert.True(t, isZeroSHA("0000000"))
	assert.False(t, isZeroSHA("0a00000"))
	assert.False(t, isZeroSHA(""))
}

func TestListedChanges(t *testing.T) {
	changes := listedChanges("new.py\nsub/dir/other.py\n", "lib", StatusAdded)
	assert.Equal(t, []Change{
		{StatusAdded, "lib/new.py"},
		{StatusAdded, "lib/sub/dir/other.py"},
	}, changes)
}

func TestApplyRename(t *testing.T) {
	// A rename produces a delete of the old path and an upsert of the new
	// path under a different chunk ID, because file path is part of the ID.
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)
	journal := observability.NewErrorJournal(filepath.Join(t.TempDir(), "errors.jsonl"))
	driver := NewSyncDriver(ing, journal, testLogger())
	ctx := context.Background()

	workTree := t.TempDir()
	source := "def greet():\n    return \"hi\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(workTree, "bar.py"), []byte(source), 0o644))

	// Commit A indexed foo.py.
	repoA := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitA", Namespace: "widgets"}
	fooDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fooDir, "foo.py"), []byte(source), 0o644))
	_, err := ing.IngestFile(ctx, repoA, fooDir, "foo.py")
	require.NoError(t, err)
	require.NoError(t, ing.Activate(ctx, "widgets", "commitA"))

	fooMatches, err := store.Query(ctx, "widgets", nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, fooMatches, 1)
	fooID := fooMatches[0].ID

	// Sync A -> B: foo.py renamed to bar.py, content unchanged.
	repoB := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitB", Namespace: "widgets"}
	plan := []Change{
		{Status: StatusDeleted, Path: "foo.py"},
		{Status: StatusModified, Path: "bar.py"},
	}
	require.NoError(t, driver.Apply(ctx, repoB, workTree, plan))

	matches, err := store.Query(ctx, "widgets", nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "bar.py", matches[0].Metadata[vectorstore.FieldFilePath])
	assert.NotEqual(t, fooID, matches[0].ID)

	ref, err := store.ActiveRef(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, "commitB", ref)
}

func TestApplyReplayLeavesNoLiveVectors(t *testing.T) {
	// Applying diff(A, B) then diff(B, A) onto an empty store ends with no
	// vectors beyond what the empty state has.
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)
	journal := observability.NewErrorJournal(filepath.Join(t.TempDir(), "errors.jsonl"))
	driver := NewSyncDriver(ing, journal, testLogger())
	ctx := context.Background()

	workTree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workTree, "added.py"),
		[]byte("def added():\n    return True\n"), 0o644))

	repo := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitB", Namespace: "widgets"}
	forward := []Change{{Status: StatusAdded, Path: "added.py"}}
	require.NoError(t, driver.Apply(ctx, repo, workTree, forward))
	require.Equal(t, 1, store.Count("widgets"))

	repoBack := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitA", Namespace: "widgets"}
	backward := []Change{{Status: StatusDeleted, Path: "added.py"}}
	require.NoError(t, driver.Apply(ctx, repoBack, workTree, backward))
	assert.Equal(t, 0, store.Count("widgets"))
}

func TestApplyJournalsFailures(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)
	journalPath := filepath.Join(t.TempDir(), "errors.jsonl")
	journal := observability.NewErrorJournal(journalPath)
	driver := NewSyncDriver(ing, journal, testLogger())
	ctx := context.Background()

	repo := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitB", Namespace: "widgets"}
	plan := []Change{{Status: StatusModified, Path: "does-not-exist.py"}}
	require.NoError(t, driver.Apply(ctx, repo, t.TempDir(), plan))

	entries, err := journal.Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "does-not-exist.py", entries[0].FilePath)
	assert.Equal(t, "process", entries[0].Operation)
	assert.Equal(t, "M", entries[0].Status)
}

func TestRetryErrorsReplaysJournal(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ing := testIngester(t, store)
	journalPath := filepath.Join(t.TempDir(), "errors.jsonl")
	journal := observability.NewErrorJournal(journalPath)
	driver := NewSyncDriver(ing, journal, testLogger())
	ctx := context.Background()

	workTree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workTree, "fixed.py"),
		[]byte("def fixed():\n    return 1\n"), 0o644))

	journal.Append(observability.JournalEntry{
		FilePath: "fixed.py", Operation: "process", Message: "transient", Status: "M",
	})

	repo := chunker.RepoContext{Repository: "acme/widgets", Ref: "commitB", Namespace: "widgets"}
	require.NoError(t, driver.RetryErrors(ctx, repo, workTree))
	assert.Equal(t, 1, store.Count("widgets"))

	entries, err := journal.Read()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
