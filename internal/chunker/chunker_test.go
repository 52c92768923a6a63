package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelearth/codechat/internal/tokenizer"
)

func newTestChunker(t *testing.T, opts ...Option) *Chunker {
	t.Helper()
	counter, err := tokenizer.NewCounter("")
	require.NoError(t, err)
	return New(counter, opts...)
}

func TestChunkPythonFunctions(t *testing.T) {
	ck := newTestChunker(t)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("import os\n\n\n")
	for _, name := range []string{"a", "b", "c"} {
		b.WriteString("def " + name + "():\n")
		for i := 0; i < 36; i++ {
			b.WriteString("    value = compute_" + name + "(" + strings.Repeat("x, ", 8) + "42)\n")
		}
		b.WriteString("    return value\n\n\n")
	}
	content := b.String()

	chunks, err := ck.Chunk(ctx, content, "pkg/util.py")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	names := make([]string, 0, 3)
	for _, ch := range chunks {
		assert.Equal(t, ChunkTypeFunction, ch.Type)
		assert.Equal(t, "python", ch.Language)
		assert.LessOrEqual(t, ch.TokenCount, 1024)
		assert.LessOrEqual(t, ch.LineStart, ch.LineEnd)
		names = append(names, ch.SymbolName)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	// Leading imports belong to the first chunk.
	assert.Contains(t, chunks[0].Content, "import os")
	assert.Contains(t, chunks[0].Imports, "os")
}

func TestChunkMarkdownNestedSections(t *testing.T) {
	ck := newTestChunker(t)

	content := `# H1

Intro paragraph.

## H2a

Body of section a.

## H2b

Body of section b.
`
	chunks, err := ck.Chunk(context.Background(), content, "README.md")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "H1", chunks[0].SymbolName)
	assert.Empty(t, chunks[0].Parents)

	assert.Equal(t, "H2a", chunks[1].SymbolName)
	assert.Equal(t, []string{"H1"}, chunks[1].Parents)

	assert.Equal(t, "H2b", chunks[2].SymbolName)
	assert.Equal(t, []string{"H1"}, chunks[2].Parents)

	for _, ch := range chunks {
		assert.Equal(t, ChunkTypeMarkdownSection, ch.Type)
	}
}

func TestChunkCoverage(t *testing.T) {
	// Concatenating chunk contents (joined by the newlines the splitter
	// consumed) must reproduce the normalized file.
	ck := newTestChunker(t)

	inputs := map[string]string{
		"code.py": "import sys\n\ndef one():\n    return 1\n\ndef two():\n    return 2\n",
		"doc.md":  "# Title\n\nSome text.\n\n## Sub\n\nMore text.\n",
		"conf.yaml": "server:\n  host: localhost\n  port: 8080\nlogging:\n  level: info\n",
		"plain.txt": "line one\nline two\nline three\n",
	}

	for name, content := range inputs {
		t.Run(name, func(t *testing.T) {
			chunks, err := ck.Chunk(context.Background(), content, name)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			parts := make([]string, len(chunks))
			for i, ch := range chunks {
				parts[i] = ch.Content
			}
			reassembled := strings.Join(parts, "\n")
			assert.Equal(t, NormalizeLineEndings(content), reassembled)

			// Line ranges tile the file without gaps.
			expectedStart := 1
			for _, ch := range chunks {
				assert.Equal(t, expectedStart, ch.LineStart)
				expectedStart = ch.LineEnd + 1
			}
		})
	}
}

func TestChunkTokenBound(t *testing.T) {
	ck := newTestChunker(t)

	// One long function body that cannot fit a single chunk.
	var b strings.Builder
	b.WriteString("def huge():\n")
	for i := 0; i < 3000; i++ {
		b.WriteString("    total = total + compute(alpha, beta, gamma)\n")
	}

	chunks, err := ck.Chunk(context.Background(), b.String(), "big.py")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		if ch.Oversize {
			continue
		}
		assert.LessOrEqual(t, ch.TokenCount, 1024, "chunk %d-%d", ch.LineStart, ch.LineEnd)
	}
}

func TestChunkEmptyContent(t *testing.T) {
	ck := newTestChunker(t)

	for _, content := range []string{"", "   ", "\n\n\n", "\t \n"} {
		chunks, err := ck.Chunk(context.Background(), content, "empty.py")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunkOversizeSingleLine(t *testing.T) {
	ck := newTestChunker(t)

	line := "data = [" + strings.Repeat(`"payload item", `, 2000) + "]"
	chunks, err := ck.Chunk(context.Background(), line, "blob.py")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Oversize)
	assert.Greater(t, chunks[0].TokenCount, 1024)
}

func TestChunkCRLFNormalization(t *testing.T) {
	ck := newTestChunker(t)

	chunks, err := ck.Chunk(context.Background(), "def f():\r\n    return 1\r\n", "f.py")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Content, "\r")
}

func TestChunkJSONTopLevelMembers(t *testing.T) {
	ck := newTestChunker(t)

	content := `{
  "name": "demo",
  "dependencies": {
    "left": "1.0.0",
    "right": "2.0.0"
  },
  "scripts": {
    "build": "make"
  }
}`
	chunks, err := ck.Chunk(context.Background(), content, "package.json")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		assert.Equal(t, ChunkTypeConfigBlock, ch.Type)
		assert.Equal(t, "json", ch.Language)
		assert.Equal(t, FileTypeConfig, ch.FileType)
	}

	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Content
	}
	assert.Equal(t, content, strings.Join(parts, "\n"))
}

func TestChunkInvalidJSONFallsBack(t *testing.T) {
	ck := newTestChunker(t)

	chunks, err := ck.Chunk(context.Background(), "{ not json at all", "broken.json")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, ChunkTypeFallback, chunks[0].Type)
}

func TestChunkYAMLTopLevelKeys(t *testing.T) {
	ck := newTestChunker(t)

	content := `server:
  host: localhost
  port: 8080

logging:
  level: info
`
	chunks, err := ck.Chunk(context.Background(), content, "config.yaml")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "server", chunks[0].SymbolName)
	assert.Equal(t, "logging", chunks[1].SymbolName)
}

func TestChunkNotebookCells(t *testing.T) {
	ck := newTestChunker(t)

	content := `{
  "cells": [
    {"cell_type": "markdown", "source": ["# Title\n", "intro text"]},
    {"cell_type": "code", "source": ["import numpy as np\n", "np.zeros(3)"]}
  ]
}`
	chunks, err := ck.Chunk(context.Background(), content, "analysis.ipynb")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkTypeMarkdownSection, chunks[0].Type)
	assert.Equal(t, ChunkTypeCell, chunks[1].Type)
	assert.Contains(t, chunks[1].Content, "import numpy")
}

func TestChunkHTMLElements(t *testing.T) {
	ck := newTestChunker(t)

	content := `<div>
  <p>first block</p>
</div>
<section>
  <p>second block</p>
</section>`
	chunks, err := ck.Chunk(context.Background(), content, "page.html")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, ch := range chunks {
		assert.Equal(t, ChunkTypeHTMLBlock, ch.Type)
	}
	assert.Equal(t, "div", chunks[0].SymbolName)
	assert.Equal(t, "section", chunks[1].SymbolName)
}

func TestChunkGoMethodsAndTypes(t *testing.T) {
	ck := newTestChunker(t)

	content := `package demo

import "fmt"

type Greeter struct {
	name string
}

func (g *Greeter) Hello() string {
	return fmt.Sprintf("hello %s", g.name)
}
`
	chunks, err := ck.Chunk(context.Background(), content, "greeter.go")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "go", chunks[0].Language)
	assert.Contains(t, chunks[0].Imports, "fmt")
}

func TestChunkOverlap(t *testing.T) {
	ck := newTestChunker(t, WithOverlap(8))

	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString("def f" + string(rune('a'+i)) + "():\n")
		for j := 0; j < 40; j++ {
			b.WriteString("    out = out + process(first, second, third, fourth)\n")
		}
		b.WriteString("\n")
	}

	chunks, err := ck.Chunk(context.Background(), b.String(), "m.py")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	assert.Empty(t, chunks[0].OverlapContext)
	for _, ch := range chunks[1:] {
		assert.NotEmpty(t, ch.OverlapContext)
	}

	// Overlap is context only: token counts cover Content alone.
	counter, err := tokenizer.NewCounter("")
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.Equal(t, counter.Count(ch.Content), ch.TokenCount)
	}
}

func TestSummaryChunk(t *testing.T) {
	ck := newTestChunker(t)

	chunk := ck.SummaryChunk("assets/logo.png", 5120, []byte{0x89, 0x50, 0x4e, 0x47})
	assert.Equal(t, ChunkTypeFallback, chunk.Type)
	assert.Contains(t, chunk.Content, "logo.png")
	assert.Contains(t, chunk.Content, "5120 bytes")
	assert.NotContains(t, chunk.Content, "Preview")

	textual := ck.SummaryChunk("notes.dat", 11, []byte("hello world"))
	assert.Contains(t, textual.Content, "Preview")
	assert.Contains(t, textual.Content, "hello world")
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		path     string
		language string
	}{
		{"main.py", "python"},
		{"main.go", "go"},
		{"app.tsx", "typescript"},
		{"README.md", "markdown"},
		{"config.yaml", "yaml"},
		{"Dockerfile", "dockerfile"},
		{"Dockerfile.prod", "dockerfile"},
		{"data.csv", "csv"},
		{"weird.xyz", "generic"},
		{"noext", "generic"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.language, r.Lookup(tt.path).Language)
		})
	}
}

func TestChunkerBounds(t *testing.T) {
	ck := newTestChunker(t)

	tests := []struct {
		path     string
		content  string
		min, max int
	}{
		{"simple.py", "def f():\n    return 1\n", 256, 1024},
		{"README.md", "# Title\n\nText.\n", 256, 1024},
		{"config.yaml", "key: value\n", 128, 512},
		{"noext", "plain text\n", 256, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			minTokens, maxTokens := ck.Bounds(tt.content, tt.path)
			assert.Equal(t, tt.min, minTokens)
			assert.Equal(t, tt.max, maxTokens)
		})
	}
}

func TestStrategyBoundsClamp(t *testing.T) {
	r := NewRegistry()
	s := r.Lookup("main.py")

	// Dense, deeply nested content scales bounds down but never below 128.
	var b strings.Builder
	for i := 0; i < 80; i++ {
		b.WriteString("def f():\n    if x:\n        for y in z:\n            while q:\n                import m\n")
	}
	minTokens, maxTokens := s.Bounds(b.String())
	assert.GreaterOrEqual(t, minTokens, 128)
	assert.LessOrEqual(t, maxTokens, 2048)
	assert.LessOrEqual(t, minTokens, maxTokens)
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary([]byte{0x00, 0x01, 0x02}))
	assert.False(t, IsBinary([]byte("plain text content\n")))
	assert.False(t, IsBinary(nil))
}
