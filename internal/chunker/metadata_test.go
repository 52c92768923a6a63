package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIDStability(t *testing.T) {
	repo := RepoContext{Repository: "acme/widgets", Ref: "abc123", Namespace: "widgets"}
	assembler := NewAssembler()

	base := Chunk{
		Content:   "def f():\n    return 1",
		FilePath:  "src/f.py",
		LineStart: 10,
		LineEnd:   11,
	}

	first, _ := assembler.Assemble([]Chunk{base}, repo, 0)
	second, _ := assembler.Assemble([]Chunk{base}, repo, 0)

	require.Len(t, first, 1)
	assert.NotEmpty(t, first[0].ID)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].ContentSHA, second[0].ContentSHA)
}

func TestChunkIDVariesByInputs(t *testing.T) {
	contentSHA := ContentSHA("some content")

	base := ChunkID("repo", "ref", "a.py", 1, 5, contentSHA)

	tests := []struct {
		name string
		id   string
	}{
		{"different repo", ChunkID("other", "ref", "a.py", 1, 5, contentSHA)},
		{"different ref", ChunkID("repo", "ref2", "a.py", 1, 5, contentSHA)},
		{"different path", ChunkID("repo", "ref", "b.py", 1, 5, contentSHA)},
		{"different lines", ChunkID("repo", "ref", "a.py", 2, 5, contentSHA)},
		{"different content", ChunkID("repo", "ref", "a.py", 1, 5, ContentSHA("other"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.id)
		})
	}
}

func TestContentSHALineEndingInvariance(t *testing.T) {
	lf := "line one\nline two\n"
	crlf := "line one\r\nline two\r\n"
	cr := "line one\rline two\r"

	assert.Equal(t, ContentSHA(lf), ContentSHA(crlf))
	assert.Equal(t, ContentSHA(lf), ContentSHA(cr))
	assert.NotEqual(t, ContentSHA(lf), ContentSHA("line one\nline TWO\n"))
}

func TestAssembleSignals(t *testing.T) {
	repo := RepoContext{Repository: "acme/widgets", Ref: "abc123"}
	assembler := NewAssembler()

	chunks := []Chunk{{
		Content: `def fetch(url):
    """Fetch a URL with retries."""
    try:
        if not validate_url(url):
            raise ValueError(url)
        for attempt in range(3):
            logging.info("fetching %s", url)
            return get(url)
    except Exception:
        raise
`,
		FilePath:  "net/fetch.py",
		Language:  "python",
		LineStart: 1,
		LineEnd:   10,
	}}

	assembled, violations := assembler.Assemble(chunks, repo, 0)
	require.Len(t, assembled, 1)
	assert.Empty(t, violations)

	ch := assembled[0]
	assert.True(t, ch.HasDocstring)
	assert.True(t, ch.HasErrorHandling)
	assert.True(t, ch.HasLogging)
	assert.True(t, ch.HasValidation)
	assert.Greater(t, ch.CyclomaticComplexity, 1)
	assert.Greater(t, ch.NestingDepth, 0)
	assert.True(t, ch.Live)
	assert.Equal(t, "acme/widgets", ch.Repository)
	assert.Equal(t, "abc123", ch.Ref)
}

func TestAssembleRecordsViolations(t *testing.T) {
	assembler := NewAssembler()
	repo := RepoContext{Repository: "r", Ref: "c"}

	chunks := []Chunk{{
		Content:    "x" + string(make([]byte, 0)),
		FilePath:   "a.py",
		LineStart:  5,
		LineEnd:    3, // inverted
		TokenCount: 100,
	}}
	_, violations := assembler.Assemble(chunks, repo, 0)
	require.Len(t, violations, 1)
	assert.Equal(t, "line-order", violations[0].Rule)

	oversize := []Chunk{{
		Content:    "large",
		FilePath:   "b.py",
		LineStart:  1,
		LineEnd:    1,
		TokenCount: 2000,
	}}
	assembled, violations := assembler.Assemble(oversize, repo, 1024)
	require.Len(t, violations, 1)
	assert.Equal(t, "token-bound", violations[0].Rule)
	assert.True(t, assembled[0].Oversize)
}

func TestCommentRatio(t *testing.T) {
	lines := []string{
		"# a comment",
		"x = 1",
		"# another",
		"y = 2",
	}
	assert.InDelta(t, 0.5, commentRatio(lines, "python"), 0.001)
	assert.InDelta(t, 0.0, commentRatio(nil, "python"), 0.001)
}
