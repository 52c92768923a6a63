package chunker

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modelearth/codechat/internal/tokenizer"
)

// Profile bounds chunk sizes in tokens for a class of content.
type Profile struct {
	MinTokens int
	MaxTokens int
}

// Sizing profiles per content class. Bounds scale down for complex content
// and clamp to [128, 2048].
var (
	profileCode    = Profile{MinTokens: 256, MaxTokens: 1024}
	profileDocs    = Profile{MinTokens: 256, MaxTokens: 1024}
	profileConfig  = Profile{MinTokens: 128, MaxTokens: 512}
	profileGeneric = Profile{MinTokens: 256, MaxTokens: 1024}
)

// engineKind selects which chunking engine interprets a language entry.
type engineKind int

const (
	kindLine     engineKind = iota // pattern-driven, line-based (code, config)
	kindMarkdown                   // heading hierarchy
	kindJSON                       // structural, top-level members
	kindYAML                       // structural, top-level keys
	kindMarkup                     // element-granular HTML/XML
	kindNotebook                   // one chunk per cell
	kindTabular                    // CSV/TSV row groups
)

// Strategy describes how one language is chunked. All regexes are compiled
// once at package init; the table is never mutated at runtime.
type Strategy struct {
	Language string
	FileType FileType
	Profile  Profile
	Kind     engineKind

	// Pattern lists; a line matching any pattern opens the corresponding
	// construct. The first capture group, when present, is the symbol name.
	FunctionPatterns []*regexp.Regexp
	ClassPatterns    []*regexp.Regexp
	ImportPatterns   []*regexp.Regexp
}

type languageEntry struct {
	language   string
	extensions []string
	fileType   FileType
	profile    Profile
	kind       engineKind
	functions  []string
	classes    []string
	imports    []string
}

// languageTable is the single source of per-language behavior. It replaces a
// subclass-per-language design with one engine plus data.
var languageTable = []languageEntry{
	{
		language: "python", extensions: []string{".py", ".pyw", ".pyi"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*def\s+(\w+)\s*\(`, `^\s*async\s+def\s+(\w+)\s*\(`},
		classes:   []string{`^\s*class\s+(\w+)`},
		imports:   []string{`^\s*import\s+(\S+)`, `^\s*from\s+(\S+)\s+import\b`},
	},
	{
		language: "go", extensions: []string{".go"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*func\s+(?:\([^)]+\)\s+)?(\w+)\s*\(`},
		classes:   []string{`^\s*type\s+(\w+)\s+(?:struct|interface)\b`},
		imports:   []string{`^\s*import\s+(?:\w+\s+)?"([^"]+)"`, `^\t"([^"]+)"`},
	},
	{
		language: "javascript", extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{
			`^\s*(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`,
			`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s*)?(?:\([^)]*\)|\w+)\s*=>`,
		},
		classes: []string{`^\s*(?:export\s+)?class\s+(\w+)`},
		imports: []string{`^\s*import\b.*from\s+['"]([^'"]+)['"]`, `^\s*const\s+\w+\s*=\s*require\(['"]([^'"]+)['"]\)`},
	},
	{
		language: "typescript", extensions: []string{".ts", ".tsx"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{
			`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*[(<]`,
			`^\s*(?:export\s+)?(?:const|let)\s+(\w+)\s*=\s*(?:async\s*)?(?:\([^)]*\)|\w+)\s*(?::[^=]*)?=>`,
		},
		classes: []string{`^\s*(?:export\s+)?(?:abstract\s+)?class\s+(\w+)`, `^\s*(?:export\s+)?interface\s+(\w+)`},
		imports: []string{`^\s*import\b.*from\s+['"]([^'"]+)['"]`},
	},
	{
		language: "java", extensions: []string{".java"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:public|private|protected)?\s*(?:static\s+)?(?:final\s+)?[\w<>\[\]]+\s+(\w+)\s*\([^;]*$`},
		classes:   []string{`^\s*(?:public|private|protected)?\s*(?:abstract\s+|final\s+)?class\s+(\w+)`, `^\s*(?:public\s+)?interface\s+(\w+)`},
		imports:   []string{`^\s*import\s+([\w.]+)`},
	},
	{
		language: "c", extensions: []string{".c", ".h"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^[\w*]+[\w\s*]*\s+\*?(\w+)\s*\([^;]*$`},
		imports:   []string{`^\s*#include\s+[<"]([^>"]+)[>"]`},
	},
	{
		language: "cpp", extensions: []string{".cpp", ".cc", ".cxx", ".c++", ".hpp", ".hxx"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^[\w:<>*&]+[\w\s:<>*&]*\s+\*?(\w+)\s*\([^;]*$`},
		classes:   []string{`^\s*class\s+(\w+)`, `^\s*struct\s+(\w+)`},
		imports:   []string{`^\s*#include\s+[<"]([^>"]+)[>"]`},
	},
	{
		language: "rust", extensions: []string{".rs"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`},
		classes:   []string{`^\s*(?:pub\s+)?struct\s+(\w+)`, `^\s*(?:pub\s+)?enum\s+(\w+)`, `^\s*impl(?:<[^>]*>)?\s+(\w+)`},
		imports:   []string{`^\s*use\s+([\w:]+)`},
	},
	{
		language: "ruby", extensions: []string{".rb", ".rake"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*def\s+([\w.?!]+)`},
		classes:   []string{`^\s*class\s+(\w+)`, `^\s*module\s+(\w+)`},
		imports:   []string{`^\s*require(?:_relative)?\s+['"]([^'"]+)['"]`},
	},
	{
		language: "php", extensions: []string{".php"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:public|private|protected)?\s*(?:static\s+)?function\s+(\w+)`},
		classes:   []string{`^\s*(?:abstract\s+|final\s+)?class\s+(\w+)`},
		imports:   []string{`^\s*use\s+([\w\\]+)`, `^\s*(?:require|include)(?:_once)?\b`},
	},
	{
		language: "csharp", extensions: []string{".cs"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:public|private|protected|internal)\s+(?:static\s+)?(?:async\s+)?[\w<>\[\]]+\s+(\w+)\s*\(`},
		classes:   []string{`^\s*(?:public|private|protected|internal)?\s*(?:abstract\s+|sealed\s+|static\s+)?class\s+(\w+)`},
		imports:   []string{`^\s*using\s+([\w.]+)\s*;`},
	},
	{
		language: "kotlin", extensions: []string{".kt", ".kts"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:suspend\s+)?fun\s+(?:<[^>]*>\s+)?(\w+)`},
		classes:   []string{`^\s*(?:data\s+|sealed\s+|abstract\s+)?class\s+(\w+)`, `^\s*object\s+(\w+)`},
		imports:   []string{`^\s*import\s+([\w.]+)`},
	},
	{
		language: "swift", extensions: []string{".swift"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:public\s+|private\s+|internal\s+)?func\s+(\w+)`},
		classes:   []string{`^\s*(?:public\s+|final\s+)?class\s+(\w+)`, `^\s*struct\s+(\w+)`},
		imports:   []string{`^\s*import\s+(\w+)`},
	},
	{
		language: "scala", extensions: []string{".scala"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:override\s+)?def\s+(\w+)`},
		classes:   []string{`^\s*(?:case\s+)?class\s+(\w+)`, `^\s*object\s+(\w+)`, `^\s*trait\s+(\w+)`},
		imports:   []string{`^\s*import\s+([\w.]+)`},
	},
	{
		language: "shell", extensions: []string{".sh", ".bash", ".zsh", ".ksh"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:function\s+)?(\w+)\s*\(\)\s*\{`},
		imports:   []string{`^\s*(?:source|\.)\s+(\S+)`},
	},
	{
		language: "perl", extensions: []string{".pl", ".pm"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*sub\s+(\w+)`},
		imports:   []string{`^\s*use\s+([\w:]+)`},
	},
	{
		language: "lua", extensions: []string{".lua"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(?:local\s+)?function\s+([\w.:]+)`},
		imports:   []string{`^\s*(?:local\s+\w+\s*=\s*)?require\s*\(?['"]([^'"]+)['"]`},
	},
	{
		language: "r", extensions: []string{".r", ".R"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`^\s*(\w[\w.]*)\s*(?:<-|=)\s*function`},
		imports:   []string{`^\s*library\((\w+)\)`, `^\s*require\((\w+)\)`},
	},
	{
		language: "sql", extensions: []string{".sql"},
		fileType: FileTypeCode, profile: profileCode, kind: kindLine,
		functions: []string{`(?i)^\s*CREATE\s+(?:OR\s+REPLACE\s+)?(?:FUNCTION|PROCEDURE)\s+(\w+)`},
		classes:   []string{`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(\w+)`},
	},
	{
		language: "markdown", extensions: []string{".md", ".markdown", ".mdx"},
		fileType: FileTypeDocs, profile: profileDocs, kind: kindMarkdown,
	},
	{
		language: "restructuredtext", extensions: []string{".rst"},
		fileType: FileTypeDocs, profile: profileDocs, kind: kindLine,
	},
	{
		language: "latex", extensions: []string{".tex", ".latex"},
		fileType: FileTypeDocs, profile: profileDocs, kind: kindLine,
		functions: []string{`^\s*\\(?:sub)*section\{([^}]*)\}`},
	},
	{
		language: "json", extensions: []string{".json", ".geojson"},
		fileType: FileTypeConfig, profile: profileConfig, kind: kindJSON,
	},
	{
		language: "notebook", extensions: []string{".ipynb"},
		fileType: FileTypeNotebook, profile: profileDocs, kind: kindNotebook,
	},
	{
		language: "yaml", extensions: []string{".yaml", ".yml"},
		fileType: FileTypeConfig, profile: profileConfig, kind: kindYAML,
	},
	{
		language: "toml", extensions: []string{".toml"},
		fileType: FileTypeConfig, profile: profileConfig, kind: kindLine,
		classes: []string{`^\s*\[([^\]]+)\]`},
	},
	{
		language: "ini", extensions: []string{".ini", ".cfg", ".conf", ".properties"},
		fileType: FileTypeConfig, profile: profileConfig, kind: kindLine,
		classes: []string{`^\s*\[([^\]]+)\]`},
	},
	{
		language: "dockerfile", extensions: []string{".dockerfile"},
		fileType: FileTypeConfig, profile: profileConfig, kind: kindLine,
		imports: []string{`(?i)^\s*FROM\s+(\S+)`},
	},
	{
		language: "html", extensions: []string{".html", ".htm", ".xhtml"},
		fileType: FileTypeMarkup, profile: profileConfig, kind: kindMarkup,
	},
	{
		language: "xml", extensions: []string{".xml", ".xsd", ".xsl", ".xslt", ".svg"},
		fileType: FileTypeMarkup, profile: profileConfig, kind: kindMarkup,
	},
	{
		language: "css", extensions: []string{".css", ".scss", ".less"},
		fileType: FileTypeCode, profile: profileConfig, kind: kindLine,
		classes: []string{`^\s*([.#]?[\w-]+)\s*\{`},
	},
	{
		language: "csv", extensions: []string{".csv", ".tsv"},
		fileType: FileTypeData, profile: profileConfig, kind: kindTabular,
	},
}

// Registry resolves file extensions to chunking strategies. Static after
// construction.
type Registry struct {
	byExtension map[string]*Strategy
	generic     *Strategy
}

// NewRegistry compiles the language table into a lookup registry.
func NewRegistry() *Registry {
	r := &Registry{byExtension: make(map[string]*Strategy)}

	for _, entry := range languageTable {
		s := &Strategy{
			Language:         entry.language,
			FileType:         entry.fileType,
			Profile:          entry.profile,
			Kind:             entry.kind,
			FunctionPatterns: compileAll(entry.functions),
			ClassPatterns:    compileAll(entry.classes),
			ImportPatterns:   compileAll(entry.imports),
		}
		for _, ext := range entry.extensions {
			r.byExtension[strings.ToLower(ext)] = s
		}
	}

	r.generic = &Strategy{
		Language: "generic",
		FileType: FileTypeOther,
		Profile:  profileGeneric,
		Kind:     kindLine,
	}
	return r
}

// Lookup returns the strategy for a file path. Dockerfiles match by base
// name; everything else by extension, falling back to generic.
func (r *Registry) Lookup(path string) *Strategy {
	base := strings.ToLower(filepath.Base(path))
	if base == "dockerfile" || strings.HasPrefix(base, "dockerfile.") {
		return r.byExtension[".dockerfile"]
	}
	if s, ok := r.byExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return s
	}
	return r.generic
}

// Bounds returns the effective token bounds for content, scaling the
// profile down when estimated complexity exceeds 0.5 and clamping to
// [128, 2048].
func (s *Strategy) Bounds(content string) (minTokens, maxTokens int) {
	minTokens, maxTokens = s.Profile.MinTokens, s.Profile.MaxTokens

	complexity := tokenizer.EstimateComplexity(content, s.Language)
	if complexity > 0.5 {
		factor := 1.0 + complexity
		minTokens = int(float64(minTokens) / factor)
		maxTokens = int(float64(maxTokens) / factor)
	}

	minTokens = clamp(minTokens, 128, 2048)
	maxTokens = clamp(maxTokens, 128, 2048)
	if maxTokens < minTokens {
		maxTokens = minTokens
	}
	return minTokens, maxTokens
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
