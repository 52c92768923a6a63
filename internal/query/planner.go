// Package query implements the retrieval side: query classification and
// strategy planning, parallel execution across namespaces with fusion and
// reranking, and answer composition through an LLM.
package query

import (
	"regexp"
	"strings"

	"github.com/modelearth/codechat/internal/vectorstore"
)

// Type classifies the intent of a natural-language query.
type Type string

const (
	TypeConceptual     Type = "conceptual"
	TypeFunctional     Type = "functional"
	TypeExample        Type = "example"
	TypeComparison     Type = "comparison"
	TypeDebugging      Type = "debugging"
	TypeImplementation Type = "implementation"
	TypeFileSearch     Type = "file_search"
	TypeCodeSearch     Type = "code_search"
)

// Scope distinguishes cross-cutting questions from module-local ones.
type Scope string

const (
	ScopeCrossCutting Scope = "cross_cutting"
	ScopeModule       Scope = "module"
)

// Analysis is the classified form of a query.
type Analysis struct {
	Query           Type
	Entities        []string // CamelCase, snake_case, dotted refs, file-like tokens
	SpecificTargets []string // quoted strings, extension-bearing tokens, function/class refs
	Scope           Scope
	Complexity      string // simple, medium, complex
	IntentKeywords  []string
}

// Strategy is a parameterized retrieval plan scoped to one namespace.
type Strategy struct {
	Name           string
	Confidence     float32
	Namespace      string
	Filter         vectorstore.Filter
	QueryExpansion []string
}

// Strategy names, in selection priority order.
const (
	StrategyDirectEntity  = "direct_entity_search"
	StrategyFileStructure = "file_structure_search"
	StrategyContextual    = "contextual_search"
	StrategySemantic      = "semantic_repository_search"
)

var classificationPatterns = []struct {
	queryType Type
	patterns  []*regexp.Regexp
}{
	// Specific intents are checked before the conceptual catch-all.
	{TypeFileSearch, compilePatterns(
		`\b(find file|locate file|where is|file location)\b`,
		`\.(py|go|js|ts|html|css|md|json|yaml|rs)\b`,
	)},
	{TypeCodeSearch, compilePatterns(
		`\b(find function|find class|find method|locate code)\b`,
	)},
	{TypeDebugging, compilePatterns(
		`\b(error|bug|issue|problem|fix|debug|troubleshoot)\b`,
		`\b(not working|broken|fails|wrong)\b`,
	)},
	{TypeComparison, compilePatterns(
		`\b(compare|difference|vs|versus|better|alternative)\b`,
	)},
	{TypeExample, compilePatterns(
		`\b(example|sample|demo|show me|usage|demonstrate)\b`,
		`\b(how to use|tutorial)\b`,
	)},
	{TypeImplementation, compilePatterns(
		`\b(create|build|implement|add|develop|make)\b`,
		`\b(new feature|functionality)\b`,
	)},
	{TypeFunctional, compilePatterns(
		`\b(how does|how to|mechanism|process|work|function|operate)\b`,
		`\b(algorithm|logic|flow|procedure)\b`,
	)},
	{TypeConceptual, compilePatterns(
		`\b(what is|describe|explain|overview|about|understand|concept)\b`,
		`\b(purpose|goal|meaning|definition)\b`,
	)},
}

var (
	camelCasePattern = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`)
	snakeCasePattern = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)
	dottedRefPattern = regexp.MustCompile(`\b\w+(?:\.\w+)+\(?\)?`)
	fileTokenPattern = regexp.MustCompile(`\b[\w./-]+\.(?:py|go|js|jsx|ts|tsx|java|rb|rs|c|cpp|h|md|json|yaml|yml|html|css|sql|sh|toml)\b`)
	quotedPattern    = regexp.MustCompile(`"([^"]+)"|'([^']+)'` + "|`([^`]+)`")
	funcRefPattern   = regexp.MustCompile(`\b(?:function|func|class|method|def)\s+(\w+)`)
	crossCutPattern  = regexp.MustCompile(`\b(architecture|system|overall|entire|across|pipeline|design|structure)\b`)
)

// repoKeywordTable maps conventional directory names to the keywords that
// hint a query belongs there. Used by contextual and file-structure
// strategies; repositories without bespoke entries use these defaults.
var repoKeywordTable = map[string][]string{
	"docs":     {"documentation", "guide", "readme", "tutorial", "manual"},
	"cmd":      {"command", "cli", "binary", "entrypoint", "main"},
	"internal": {"implementation", "core", "engine"},
	"api":      {"endpoint", "handler", "route", "request", "response"},
	"test":     {"test", "fixture", "assert", "coverage"},
	"config":   {"configuration", "settings", "environment", "options"},
	"web":      {"frontend", "ui", "html", "css", "component"},
	"scripts":  {"script", "automation", "deploy", "setup"},
}

// Planner classifies queries and derives per-namespace strategies.
type Planner struct{}

// NewPlanner creates a query planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Analyze classifies a query and extracts entities, targets, scope, and
// complexity. Never fails; an unclassifiable query is conceptual.
func (p *Planner) Analyze(query string) Analysis {
	lower := strings.ToLower(query)

	analysis := Analysis{
		Query:           classify(lower),
		Entities:        extractEntities(query),
		SpecificTargets: extractTargets(query),
		Scope:           ScopeModule,
		IntentKeywords:  intentKeywords(lower),
	}
	if crossCutPattern.MatchString(lower) {
		analysis.Scope = ScopeCrossCutting
	}

	tokens := len(strings.Fields(query))
	switch {
	case tokens <= 5 && len(analysis.Entities) <= 1:
		analysis.Complexity = "simple"
	case tokens <= 15 && len(analysis.Entities) <= 3:
		analysis.Complexity = "medium"
	default:
		analysis.Complexity = "complex"
	}
	return analysis
}

// Plan derives the ordered strategy list for each target namespace.
// Semantic repository search is always included as the baseline.
func (p *Planner) Plan(analysis Analysis, namespaces []string) []Strategy {
	var strategies []Strategy

	for _, ns := range namespaces {
		if len(analysis.SpecificTargets) > 0 {
			strategies = append(strategies, Strategy{
				Name:       StrategyDirectEntity,
				Confidence: 0.9,
				Namespace:  ns,
				Filter:     entityFilter(analysis.SpecificTargets),
			})
		}

		if analysis.Query == TypeFileSearch {
			strategies = append(strategies, Strategy{
				Name:       StrategyFileStructure,
				Confidence: 0.95,
				Namespace:  ns,
				Filter:     fileStructureFilter(analysis),
			})
		}

		if keywords := contextualKeywords(analysis); len(keywords) > 0 {
			strategies = append(strategies, Strategy{
				Name:           StrategyContextual,
				Confidence:     0.8,
				Namespace:      ns,
				QueryExpansion: keywords,
			})
		}

		strategies = append(strategies, Strategy{
			Name:       StrategySemantic,
			Confidence: 0.7,
			Namespace:  ns,
		})
	}
	return strategies
}

func classify(lower string) Type {
	for _, entry := range classificationPatterns {
		for _, re := range entry.patterns {
			if re.MatchString(lower) {
				return entry.queryType
			}
		}
	}
	return TypeConceptual
}

func extractEntities(query string) []string {
	seen := make(map[string]bool)
	var entities []string
	add := func(s string) {
		s = strings.TrimSuffix(s, "()")
		if s != "" && !seen[s] && !isStopword(s) {
			seen[s] = true
			entities = append(entities, s)
		}
	}

	for _, m := range camelCasePattern.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range snakeCasePattern.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range dottedRefPattern.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range fileTokenPattern.FindAllString(query, -1) {
		add(m)
	}
	return entities
}

func extractTargets(query string) []string {
	seen := make(map[string]bool)
	var targets []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			targets = append(targets, s)
		}
	}

	for _, m := range quotedPattern.FindAllStringSubmatch(query, -1) {
		for _, group := range m[1:] {
			add(group)
		}
	}
	for _, m := range fileTokenPattern.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range funcRefPattern.FindAllStringSubmatch(query, -1) {
		add(m[1])
	}
	return targets
}

var intentTable = map[Type][]string{
	TypeExample:        {"example", "demo", "usage", "how to"},
	TypeDebugging:      {"error", "fix", "debug", "issue"},
	TypeImplementation: {"implement", "create", "build"},
	TypeFunctional:     {"process", "flow", "mechanism"},
}

func intentKeywords(lower string) []string {
	var keywords []string
	for _, kw := range intentTable[classify(lower)] {
		keywords = append(keywords, kw)
	}
	return keywords
}

// contextualKeywords expands the query with repository-convention keywords
// matched by entities and intent.
func contextualKeywords(analysis Analysis) []string {
	seen := make(map[string]bool)
	var keywords []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			keywords = append(keywords, s)
		}
	}

	for _, kw := range analysis.IntentKeywords {
		add(kw)
	}
	for dir, dirKeywords := range repoKeywordTable {
		for _, entity := range analysis.Entities {
			lowerEntity := strings.ToLower(entity)
			if lowerEntity == dir || containsAny(lowerEntity, dirKeywords) {
				for _, kw := range dirKeywords {
					add(kw)
				}
				break
			}
		}
	}
	return keywords
}

// entityFilter matches chunks whose path or content mentions a target.
// Content matching uses substring semantics; backends without server-side
// substring filters resolve it client-side.
func entityFilter(targets []string) vectorstore.Filter {
	// A single filter can carry one substring per field; use the first
	// target for server-side narrowing and let reranking sort the rest.
	target := targets[0]
	if strings.ContainsAny(target, "./") {
		return vectorstore.Filter{Contains: map[string]string{vectorstore.FieldFilePath: target}}
	}
	return vectorstore.Filter{Contains: map[string]string{vectorstore.FieldContent: target}}
}

// fileStructureFilter narrows file searches to conventional directories
// implied by the query, falling back to path matching on file-like tokens.
func fileStructureFilter(analysis Analysis) vectorstore.Filter {
	for _, target := range analysis.SpecificTargets {
		if strings.ContainsAny(target, "./") {
			return vectorstore.Filter{Contains: map[string]string{vectorstore.FieldFilePath: target}}
		}
	}
	for dir := range repoKeywordTable {
		for _, entity := range analysis.Entities {
			if strings.EqualFold(entity, dir) {
				return vectorstore.Filter{Contains: map[string]string{vectorstore.FieldFilePath: dir + "/"}}
			}
		}
	}
	return vectorstore.Filter{}
}

var stopwords = map[string]bool{
	"the": true, "is": true, "at": true, "of": true, "and": true, "a": true,
	"in": true, "to": true, "how": true, "what": true, "where": true,
	"when": true, "why": true, "does": true, "do": true, "for": true,
	"with": true, "this": true, "that": true, "are": true, "can": true,
	"file": true, "files": true, "code": true, "find": true, "show": true,
}

func isStopword(s string) bool {
	return stopwords[strings.ToLower(s)]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}
