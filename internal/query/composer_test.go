package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGenerator records the prompts and returns a canned answer.
type stubGenerator struct {
	system string
	user   string
	answer string
	err    error
}

func (s *stubGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	s.system = system
	s.user = user
	return s.answer, s.err
}

func TestComposeBuildsContextBlocks(t *testing.T) {
	gen := &stubGenerator{answer: "The chunker lives in src/chunker.py."}
	composer := NewComposer(gen)

	results := []Result{
		{FilePath: "src/chunker.py", Namespace: "widgets", Content: "def chunk(): ..."},
		{FilePath: "README.md", Namespace: "widgets", Content: "# Widgets"},
	}

	answer, err := composer.Compose(context.Background(), "where is the chunker?", results, []string{"widgets"})
	require.NoError(t, err)

	assert.Contains(t, gen.user, "File: src/chunker.py\nRepository: widgets\n\ndef chunk(): ...")
	assert.Contains(t, gen.user, "File: README.md\nRepository: widgets\n\n# Widgets")
	assert.Contains(t, gen.user, "Question: where is the chunker?")
	assert.Equal(t, 2, strings.Count(gen.user, "File: "))
	assert.Contains(t, gen.system, "not available in the indexed codebase")

	assert.Contains(t, answer, "The chunker lives in src/chunker.py.")
	assert.Contains(t, answer, "Searched repositories: widgets (2 results used)")
}

func TestComposeWithoutResultsSkipsLLM(t *testing.T) {
	gen := &stubGenerator{answer: "should never be called"}
	composer := NewComposer(gen)

	answer, err := composer.Compose(context.Background(), "anything", nil, []string{"widgets"})
	require.NoError(t, err)
	assert.Contains(t, answer, "not available in the indexed codebase")
	assert.Contains(t, answer, "(0 results used)")
	assert.Empty(t, gen.user)
}

func TestComposePropagatesGeneratorError(t *testing.T) {
	gen := &stubGenerator{err: assert.AnError}
	composer := NewComposer(gen)

	_, err := composer.Compose(context.Background(), "q",
		[]Result{{FilePath: "a.py", Namespace: "ns", Content: "x"}}, []string{"ns"})
	assert.Error(t, err)
}
