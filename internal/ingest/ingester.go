package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modelearth/codechat/internal/chunker"
	"github.com/modelearth/codechat/internal/embedding"
	"github.com/modelearth/codechat/internal/observability"
	"github.com/modelearth/codechat/internal/vectorstore"
)

// Options configures an ingestion run.
type Options struct {
	MaxWorkers  int   // bounded file-processing pool, default 4
	MaxFileSize int64 // walker size cutoff
}

// Ingester drives clone -> walk -> chunk -> embed -> upsert with two-phase
// commit activation. All collaborators are constructor-injected; the
// ingester owns in-flight chunks and nothing else.
type Ingester struct {
	cloner    *Cloner
	walker    *Walker
	chunker   *chunker.Chunker
	assembler *chunker.Assembler
	embedder  embedding.Embedder
	store     vectorstore.Store
	archiver  *Archiver // optional
	journal   *observability.ErrorJournal
	logger    *observability.Logger
	metrics   *observability.MetricsCollector
	opts      Options
}

// NewIngester wires an ingester from its collaborators. archiver may be nil.
func NewIngester(
	cloner *Cloner,
	ck *chunker.Chunker,
	embedder embedding.Embedder,
	store vectorstore.Store,
	archiver *Archiver,
	journal *observability.ErrorJournal,
	logger *observability.Logger,
	metrics *observability.MetricsCollector,
	opts Options,
) *Ingester {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	return &Ingester{
		cloner:    cloner,
		walker:    NewWalker(opts.MaxFileSize),
		chunker:   ck,
		assembler: chunker.NewAssembler(),
		embedder:  embedder,
		store:     store,
		archiver:  archiver,
		journal:   journal,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// Run ingests a repository at ref into namespace: full walk of the working
// tree, per-file pre-delete-then-upsert, then commit activation. An empty
// ref ingests the default branch head. Per-file failures are journaled and
// skipped; only catastrophic failures (clone, store unreachable during
// activation) abort the run.
func (ing *Ingester) Run(ctx context.Context, repository, ref, namespace string) error {
	start := time.Now()

	dir, resolved, err := ing.cloner.Clone(ctx, repository, ref)
	if err != nil {
		return fmt.Errorf("clone %s@%s: %w", repository, ref, err)
	}
	defer os.RemoveAll(dir)
	ref = resolved

	repo := chunker.RepoContext{Repository: repository, Ref: ref, Namespace: namespace}

	var files []WalkFile
	err = ing.walker.Walk(ctx, dir, func(f WalkFile) error {
		files = append(files, f)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", repository, err)
	}

	var archived []vectorstore.Record
	results := make(chan []vectorstore.Record, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.opts.MaxWorkers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			records, err := ing.processFile(gctx, repo, f)
			if err != nil {
				// One bad file never aborts the run.
				ing.journal.Append(observability.JournalEntry{
					FilePath:  f.RelPath,
					Operation: "process",
					Message:   err.Error(),
				})
				ing.logger.WarnContext(gctx, "file ingestion failed",
					"file_path", f.RelPath, "error", err)
				if ing.metrics != nil {
					ing.metrics.IngestErrorsTotal.WithLabelValues("process").Inc()
				}
				return nil
			}
			results <- records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ingest %s: %w", repository, err)
	}
	close(results)

	totalChunks := 0
	for records := range results {
		totalChunks += len(records)
		if ing.archiver != nil {
			archived = append(archived, records...)
		}
	}

	if ing.archiver != nil {
		if err := ing.archiver.Archive(ctx, repository, ref, archived); err != nil {
			// Archival is best-effort; the vector store is authoritative.
			ing.logger.WarnContext(ctx, "archive failed", "repository", repository, "error", err)
		}
	}

	// Phase two: everything staged, flip the commit live.
	if err := ing.store.Activate(ctx, namespace, ref); err != nil {
		return fmt.Errorf("activate %s@%s: %w", namespace, ref, err)
	}

	ing.logger.LogIngestRun(ctx, repository, ref, len(files), totalChunks, time.Since(start))
	if ing.metrics != nil {
		ing.metrics.IngestRunsTotal.WithLabelValues("full", "ok").Inc()
		ing.metrics.IngestRunDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
		ing.metrics.IngestedChunksTotal.Add(float64(totalChunks))
	}
	return nil
}

// processFile chunks, embeds, and upserts one file. Pre-deleting the file's
// prior vectors before upserting makes retries idempotent.
func (ing *Ingester) processFile(ctx context.Context, repo chunker.RepoContext, f WalkFile) ([]vectorstore.Record, error) {
	var chunks []chunker.Chunk
	maxTokens := 0 // summary chunks carry no token budget

	if f.Binary {
		head, _ := readHead(f.AbsPath, 512)
		chunks = []chunker.Chunk{ing.chunker.SummaryChunk(f.RelPath, f.Size, head)}
	} else {
		data, err := os.ReadFile(f.AbsPath)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if chunker.IsBinary(data) {
			chunks = []chunker.Chunk{ing.chunker.SummaryChunk(f.RelPath, f.Size, head(data, 512))}
		} else {
			chunks, err = ing.chunker.Chunk(ctx, string(data), f.RelPath)
			if err != nil {
				return nil, fmt.Errorf("chunk: %w", err)
			}
			_, maxTokens = ing.chunker.Bounds(string(data), f.RelPath)
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	assembled, violations := ing.assembler.Assemble(chunks, repo, maxTokens)
	for _, v := range violations {
		ing.logger.WarnContext(ctx, "chunk invariant violation",
			"file_path", f.RelPath, "rule", v.Rule, "detail", v.Message)
	}

	records, err := ing.embedChunks(ctx, assembled)
	if err != nil {
		return nil, err
	}

	// Delete happens-before upsert, per file. No cross-file ordering.
	filter := vectorstore.Filter{Equals: map[string]any{vectorstore.FieldFilePath: f.RelPath}}
	if err := ing.store.DeleteByFilter(ctx, repo.Namespace, filter); err != nil {
		return nil, fmt.Errorf("pre-delete: %w", err)
	}
	if err := ing.store.Upsert(ctx, repo.Namespace, records); err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}

	if ing.metrics != nil {
		ing.metrics.IngestedFilesTotal.Inc()
	}
	return records, nil
}

// embedChunks converts chunks to records, skipping empty content with a
// warning. Embedding failures are permanent for the file after the client's
// internal retries are exhausted. When the embedder is a hybrid wrapper,
// each chunk's vector blends content with a one-line chunk summary and a
// file-level context summary instead of the plain content embedding.
func (ing *Ingester) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([]vectorstore.Record, error) {
	var embeddable []int
	for i, ch := range chunks {
		if strings.TrimSpace(ch.Content) == "" {
			ing.logger.Warn("skipping empty chunk", "file_path", ch.FilePath, "line_start", ch.LineStart)
			continue
		}
		embeddable = append(embeddable, i)
	}
	if len(embeddable) == 0 {
		return nil, nil
	}

	vectors := make([]embedding.Vector, len(embeddable))
	if hybrid, ok := ing.embedder.(*embedding.HybridEmbedder); ok {
		fileContext := fileContextSummary(chunks)
		for j, i := range embeddable {
			emb, err := hybrid.EmbedHybrid(ctx, chunks[i].Content, chunkSummary(chunks[i]), fileContext)
			if err != nil {
				return nil, fmt.Errorf("embed hybrid: %w", err)
			}
			vectors[j] = emb.Vector
		}
	} else {
		texts := make([]string, len(embeddable))
		for j, i := range embeddable {
			texts[j] = chunks[i].Content
		}
		embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		for j, emb := range embeddings {
			vectors[j] = emb.Vector
		}
	}

	records := make([]vectorstore.Record, 0, len(embeddable))
	for j, i := range embeddable {
		ch := chunks[i]
		// Staged until activation flips the commit live.
		ch.Live = false
		records = append(records, vectorstore.RecordFromChunk(ch, vectors[j]))
	}
	return records, nil
}

// chunkSummary renders the one-line summary blended into a hybrid
// embedding: the structural identity of the chunk, not its text.
func chunkSummary(ch chunker.Chunk) string {
	var b strings.Builder
	b.WriteString(ch.Language)
	b.WriteString(" ")
	b.WriteString(string(ch.Type))
	if ch.SymbolName != "" {
		b.WriteString(" ")
		b.WriteString(ch.SymbolName)
	}
	if len(ch.Parents) > 0 {
		b.WriteString(" in ")
		b.WriteString(strings.Join(ch.Parents, "."))
	}
	return b.String()
}

// fileContextSummary renders the file-level context blended into hybrid
// embeddings: the symbols the file defines.
func fileContextSummary(chunks []chunker.Chunk) string {
	var symbols []string
	seen := make(map[string]bool)
	for _, ch := range chunks {
		if ch.SymbolName == "" || seen[ch.SymbolName] {
			continue
		}
		seen[ch.SymbolName] = true
		symbols = append(symbols, ch.SymbolName)
	}
	if len(symbols) == 0 {
		return ""
	}
	return "File defines: " + strings.Join(symbols, ", ")
}

// IngestFile processes a single repo-relative path from a checked-out
// working tree. Used by the incremental sync driver for A/M changes.
func (ing *Ingester) IngestFile(ctx context.Context, repo chunker.RepoContext, rootDir, relPath string) (int, error) {
	absPath := filepath.Join(rootDir, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}

	f := WalkFile{
		AbsPath: absPath,
		RelPath: relPath,
		Size:    info.Size(),
		Binary:  binaryExtensions[strings.ToLower(filepath.Ext(relPath))],
	}
	records, err := ing.processFile(ctx, repo, f)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// DeleteFile removes all vectors of a repo-relative path from a namespace.
func (ing *Ingester) DeleteFile(ctx context.Context, namespace, relPath string) error {
	filter := vectorstore.Filter{Equals: map[string]any{vectorstore.FieldFilePath: relPath}}
	return ing.store.DeleteByFilter(ctx, namespace, filter)
}

// Activate exposes commit activation for the sync driver.
func (ing *Ingester) Activate(ctx context.Context, namespace, ref string) error {
	return ing.store.Activate(ctx, namespace, ref)
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the walker
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read > 0 {
		return buf[:read], nil
	}
	return nil, err
}

func head(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}
