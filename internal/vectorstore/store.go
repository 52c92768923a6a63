// Package vectorstore provides idempotent vector storage over namespaces.
// One namespace holds one repository; namespace partitioning is the only
// isolation mechanism between writers.
package vectorstore

import (
	"context"
	"time"

	"github.com/modelearth/codechat/internal/chunker"
)

// UpsertBatchSize caps vectors per upsert call; adapters fragment larger
// batches.
const UpsertBatchSize = 100

// Metadata field names shared by all adapters. Content is stored verbatim
// after LF normalization, never escape-encoded.
const (
	FieldRepository    = "repository"
	FieldRef           = "ref"
	FieldFilePath      = "file_path"
	FieldLineStart     = "line_start"
	FieldLineEnd       = "line_end"
	FieldContent       = "content"
	FieldContentSHA    = "content_sha"
	FieldChunkType     = "chunk_type"
	FieldLanguage      = "language"
	FieldFileExtension = "file_extension"
	FieldFileType      = "file_type"
	FieldSymbolName    = "symbol_name"
	FieldParents       = "parents"
	FieldImports       = "imports"
	FieldTokenCount    = "token_count"
	FieldHasDocstring  = "has_docstring"
	FieldLive          = "live"
	FieldLastModified  = "timestamp_last_modified"
)

// Record is a vector with its metadata, keyed by the stable chunk ID.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a query result.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Filter selects records by metadata. Equals matches exact values;
// Contains matches substrings. Backends without server-side substring
// support fall back to client-side filtering.
type Filter struct {
	Equals   map[string]any
	Contains map[string]string
}

// Store is the namespaced vector store contract.
//
// Re-upserting an ID with identical values and metadata is a no-op.
// Deleting from a missing namespace is a no-op; querying one returns no
// matches.
type Store interface {
	// Upsert writes records into a namespace, fragmenting at UpsertBatchSize.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// DeleteByFilter removes all records matching the filter.
	DeleteByFilter(ctx context.Context, namespace string, filter Filter) error

	// Query returns the topK nearest records, optionally filtered.
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error)

	// Describe enumerates active namespaces.
	Describe(ctx context.Context) ([]string, error)

	// Activate atomically makes ref the live commit of a namespace: all of
	// its records flip live=true, every other record flips live=false, and
	// the namespace's active-ref pointer moves.
	Activate(ctx context.Context, namespace, ref string) error

	// ActiveRef returns the namespace's active commit, or "" if none.
	ActiveRef(ctx context.Context, namespace string) (string, error)

	// Close releases resources.
	Close() error
}

// RecordFromChunk converts an assembled chunk and its vector into a
// storable record.
func RecordFromChunk(ch chunker.Chunk, vector []float32) Record {
	return Record{
		ID:     ch.ID,
		Values: vector,
		Metadata: map[string]any{
			FieldRepository:    ch.Repository,
			FieldRef:           ch.Ref,
			FieldFilePath:      ch.FilePath,
			FieldLineStart:     ch.LineStart,
			FieldLineEnd:       ch.LineEnd,
			FieldContent:       ch.Content,
			FieldContentSHA:    ch.ContentSHA,
			FieldChunkType:     string(ch.Type),
			FieldLanguage:      ch.Language,
			FieldFileExtension: ch.FileExtension,
			FieldFileType:      string(ch.FileType),
			FieldSymbolName:    ch.SymbolName,
			FieldParents:       append([]string(nil), ch.Parents...),
			FieldImports:       append([]string(nil), ch.Imports...),
			FieldTokenCount:    ch.TokenCount,
			FieldHasDocstring:  ch.HasDocstring,
			FieldLive:          ch.Live,
			FieldLastModified:  ch.LastModified.UTC().Format(time.RFC3339),
		},
	}
}

// Matches reports whether metadata satisfies a filter. Used by adapters
// that filter client-side and by the in-memory store.
func (f Filter) Matches(metadata map[string]any) bool {
	for key, want := range f.Equals {
		got, ok := metadata[key]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	for key, substr := range f.Contains {
		got, ok := metadata[key].(string)
		if !ok || !containsFold(got, substr) {
			return false
		}
	}
	return true
}

func equalValue(got, want any) bool {
	// Numeric metadata round-trips through JSON as float64 in some
	// backends; compare ints and floats loosely.
	switch g := got.(type) {
	case int:
		switch w := want.(type) {
		case int:
			return g == w
		case float64:
			return float64(g) == w
		}
	case float64:
		switch w := want.(type) {
		case int:
			return g == float64(w)
		case float64:
			return g == w
		}
	}
	return got == want
}
