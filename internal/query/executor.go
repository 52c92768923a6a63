package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/modelearth/codechat/internal/embedding"
	"github.com/modelearth/codechat/internal/observability"
	"github.com/modelearth/codechat/internal/vectorstore"
)

// Result is one fused retrieval result.
type Result struct {
	ID         string
	Score      float32 // final reranked score
	Similarity float32 // raw vector similarity
	Strategy   string
	Namespace  string
	FilePath   string
	LineStart  int
	Content    string
	Metadata   map[string]any
}

// ExecOptions bounds one retrieval execution.
type ExecOptions struct {
	TopK          int     // fused results returned, default 10
	PerNamespaceK int     // candidates per strategy, default 5
	MinScore      float32 // similarity floor
}

// Executor fans strategies out across namespaces, fuses the matches, and
// reranks them.
type Executor struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	logger   *observability.Logger
	metrics  *observability.MetricsCollector
}

// NewExecutor wires an executor.
func NewExecutor(store vectorstore.Store, embedder embedding.Embedder, logger *observability.Logger, metrics *observability.MetricsCollector) *Executor {
	return &Executor{store: store, embedder: embedder, logger: logger, metrics: metrics}
}

// Execute runs all strategies in parallel, one goroutine per strategy with
// the fan-out bounded by the strategy count. A failing strategy is logged
// and skipped; if everything fails a last-resort basic vector search runs
// against each namespace.
func (e *Executor) Execute(ctx context.Context, queryText string, analysis Analysis, strategies []Strategy, opts ExecOptions) ([]Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.PerNamespaceK <= 0 {
		opts.PerNamespaceK = 5
	}

	var mu sync.Mutex
	var collected []Result
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, strategy := range strategies {
		strategy := strategy
		g.Go(func() error {
			results, err := e.runStrategy(gctx, queryText, strategy, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				e.logger.WarnContext(gctx, "strategy failed",
					"strategy", strategy.Name, "namespace", strategy.Namespace, "error", err)
				if e.metrics != nil {
					e.metrics.QueryStrategies.WithLabelValues(strategy.Name, "failed").Inc()
				}
				return nil
			}
			if e.metrics != nil {
				e.metrics.QueryStrategies.WithLabelValues(strategy.Name, "ok").Inc()
			}
			collected = append(collected, results...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Last resort: plain vector search when every strategy failed.
	if len(collected) == 0 && failures == len(strategies) && len(strategies) > 0 {
		namespaces := uniqueNamespaces(strategies)
		for _, ns := range namespaces {
			results, err := e.runStrategy(ctx, queryText, Strategy{
				Name:       StrategySemantic,
				Confidence: 0.5,
				Namespace:  ns,
			}, opts)
			if err != nil {
				continue
			}
			collected = append(collected, results...)
		}
	}

	fused := fuse(collected, analysis, opts)
	return fused, nil
}

// runStrategy executes one strategy against one namespace. Retrieval always
// filters on live=true so staged commits stay invisible.
func (e *Executor) runStrategy(ctx context.Context, queryText string, strategy Strategy, opts ExecOptions) ([]Result, error) {
	text := queryText
	if len(strategy.QueryExpansion) > 0 {
		text = queryText + " " + strings.Join(strategy.QueryExpansion, " ")
	}

	emb, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filter := strategy.Filter
	if filter.Equals == nil {
		filter.Equals = make(map[string]any)
	}
	filter.Equals[vectorstore.FieldLive] = true

	matches, err := e.store.Query(ctx, strategy.Namespace, emb.Vector, opts.PerNamespaceK, &filter)
	if err != nil {
		return nil, fmt.Errorf("query namespace %s: %w", strategy.Namespace, err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if opts.MinScore > 0 && m.Score < opts.MinScore {
			continue
		}
		results = append(results, Result{
			ID:         m.ID,
			Similarity: m.Score,
			Strategy:   strategy.Name,
			Namespace:  strategy.Namespace,
			FilePath:   metadataString(m.Metadata, vectorstore.FieldFilePath),
			LineStart:  metadataInt(m.Metadata, vectorstore.FieldLineStart),
			Content:    metadataString(m.Metadata, vectorstore.FieldContent),
			Metadata:   m.Metadata,
			Score:      m.Score * strategy.Confidence,
		})
	}
	return results, nil
}

// fuse deduplicates by (file_path, line_start) keeping the best-scoring
// occurrence, applies boosts, and returns the topK.
//
// score = base_similarity x strategy_confidence x boost, capped at 1.0.
func fuse(results []Result, analysis Analysis, opts ExecOptions) []Result {
	best := make(map[string]Result)
	for _, r := range results {
		r.Score = r.Score * boostFor(r, analysis)
		if r.Score > 1.0 {
			r.Score = 1.0
		}
		key := fmt.Sprintf("%s:%d", r.FilePath, r.LineStart)
		if prev, ok := best[key]; !ok || r.Score > prev.Score {
			best[key] = r
		}
	}

	fused := make([]Result, 0, len(best))
	for _, r := range best {
		fused = append(fused, r)
	}
	sort.Slice(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	return fused
}

func boostFor(r Result, analysis Analysis) float32 {
	boost := float32(1.0)
	if r.Strategy == StrategyDirectEntity {
		boost *= 1.5
	}
	if r.Strategy == StrategyFileStructure && analysis.Query == TypeFileSearch {
		boost *= 1.4
	}
	lowerPath := strings.ToLower(r.FilePath)
	if strings.Contains(lowerPath, "readme") || strings.Contains(lowerPath, "docs/") ||
		strings.HasSuffix(lowerPath, ".md") {
		boost *= 1.3
	}
	if hasDoc, ok := r.Metadata[vectorstore.FieldHasDocstring].(bool); ok && hasDoc {
		boost *= 1.1
	}
	return boost
}

func uniqueNamespaces(strategies []Strategy) []string {
	seen := make(map[string]bool)
	var namespaces []string
	for _, s := range strategies {
		if !seen[s.Namespace] {
			seen[s.Namespace] = true
			namespaces = append(namespaces, s.Namespace)
		}
	}
	return namespaces
}

func metadataString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metadataInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
