package chunker

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/modelearth/codechat/internal/tokenizer"
)

// Chunker is the table-driven chunking engine. It is a pure function of its
// inputs and configuration and safe for concurrent use.
type Chunker struct {
	registry *Registry
	counter  *tokenizer.Counter

	// overlapTokens, when > 0, prepends the trailing N tokens of each chunk
	// to its successor as plain context.
	overlapTokens int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithOverlap enables token overlap between adjacent chunks.
func WithOverlap(tokens int) Option {
	return func(c *Chunker) {
		if tokens > 0 {
			c.overlapTokens = tokens
		}
	}
}

// New creates a Chunker backed by the static language registry.
func New(counter *tokenizer.Counter, opts ...Option) *Chunker {
	c := &Chunker{
		registry: NewRegistry(),
		counter:  counter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits content into an ordered sequence of chunks. It never fails
// on malformed input: parse errors degrade to size-only splitting with
// chunk_type=fallback. Empty-after-trim content yields no chunks.
func (c *Chunker) Chunk(ctx context.Context, content, filePath string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	content = NormalizeLineEndings(content)
	strategy := c.registry.Lookup(filePath)

	var chunks []Chunk
	switch strategy.Kind {
	case kindMarkdown:
		chunks = c.chunkMarkdown(content, strategy)
	case kindJSON, kindYAML:
		chunks = c.chunkStructured(content, strategy)
	case kindMarkup:
		chunks = c.chunkMarkup(content, strategy)
	case kindNotebook:
		chunks = c.chunkNotebook(content, strategy)
	case kindTabular:
		chunks = c.chunkTabular(content, strategy)
	default:
		chunks = c.chunkLines(content, strategy)
	}

	if len(chunks) == 0 {
		chunks = c.chunkFallback(content, strategy)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	for i := range chunks {
		chunks[i].FilePath = filePath
		chunks[i].FileExtension = ext
		chunks[i].Language = strategy.Language
		chunks[i].FileType = strategy.FileType
		chunks[i].ContentLength = len(chunks[i].Content)
		// Engines accumulate per-line token estimates while splitting; the
		// record carries the exact count over the final content.
		chunks[i].TokenCount = c.counter.Count(chunks[i].Content)
	}

	if c.overlapTokens > 0 {
		c.applyOverlap(chunks)
	}
	return chunks, nil
}

// Bounds returns the effective token bounds the engine applies to a file:
// the registry profile for its extension, scaled by content complexity.
// The metadata assembler validates token counts against the same budget.
func (c *Chunker) Bounds(content, filePath string) (minTokens, maxTokens int) {
	return c.registry.Lookup(filePath).Bounds(NormalizeLineEndings(content))
}

// SummaryChunk builds the single descriptive chunk used for binary or
// unreadable files: name, size, and a short preview when the head of the
// file looks textual.
func (c *Chunker) SummaryChunk(filePath string, size int64, head []byte) Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\nSize: %d bytes\n", filepath.Base(filePath), size)
	if len(head) > 0 && utf8.Valid(head) && !IsBinary(head) {
		preview := string(head)
		if len(preview) > 500 {
			preview = preview[:500]
		}
		b.WriteString("Preview:\n")
		b.WriteString(preview)
	}
	content := b.String()
	return Chunk{
		Content:       content,
		FilePath:      filePath,
		FileExtension: strings.ToLower(filepath.Ext(filePath)),
		Language:      "binary",
		FileType:      FileTypeOther,
		Type:          ChunkTypeFallback,
		LineStart:     1,
		LineEnd:       1,
		TokenCount:    c.counter.Count(content),
		ContentLength: len(content),
	}
}

// NormalizeLineEndings rewrites CRLF and lone CR to LF. Content hashes are
// always computed over the normalized form.
func NormalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// IsBinary reports whether data looks like binary content: a NUL byte or a
// high ratio of non-printable bytes in the sample.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 0x07 || (b > 0x0d && b < 0x20) {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) > 0.3
}

// lineBuilder accumulates consecutive lines into one chunk. Line indexes
// are 1-based and inclusive; chunks always cover the file without gaps.
type lineBuilder struct {
	lines      []string
	startLine  int
	tokens     int
	symbol     string
	parents    []string
	imports    []string
	chunkType  ChunkType
	lastBlank  int // index into lines of the last blank line, -1 if none
}

func (b *lineBuilder) reset(startLine int) {
	b.lines = b.lines[:0]
	b.startLine = startLine
	b.tokens = 0
	b.symbol = ""
	b.parents = nil
	b.imports = nil
	b.chunkType = ""
	b.lastBlank = -1
}

func (b *lineBuilder) push(line string, tokens int) {
	if strings.TrimSpace(line) == "" {
		b.lastBlank = len(b.lines)
	}
	b.lines = append(b.lines, line)
	b.tokens += tokens
}

// chunkLines is the generic pattern-driven line engine used for code,
// config, and any file without a structural chunker.
func (c *Chunker) chunkLines(content string, strategy *Strategy) []Chunk {
	lines := strings.Split(content, "\n")
	minTokens, maxTokens := strategy.Bounds(content)

	var chunks []Chunk
	b := &lineBuilder{}
	b.reset(1)

	// Enclosing class scope, tracked by indentation of the class line.
	var scopeName string
	scopeIndent := -1

	flush := func(endLine int, oversize bool) {
		if len(b.lines) == 0 {
			return
		}
		chunkType := b.chunkType
		if chunkType == "" {
			chunkType = ChunkTypeModule
		}
		chunks = append(chunks, Chunk{
			Content:    strings.Join(b.lines, "\n"),
			LineStart:  b.startLine,
			LineEnd:    endLine,
			Type:       chunkType,
			SymbolName: b.symbol,
			Parents:    b.parents,
			Imports:    b.imports,
			TokenCount: b.tokens,
			Oversize:   oversize,
		})
		b.reset(endLine + 1)
	}

	for i, line := range lines {
		lineNum := i + 1
		lineTokens := c.counter.Count(line)
		if len(b.lines) > 0 {
			lineTokens++ // joining newline
		}

		// A single line that alone exceeds the budget is emitted as an
		// oversize chunk rather than rejected.
		if lineTokens > maxTokens && len(b.lines) == 0 {
			b.push(line, lineTokens)
			flush(lineNum, true)
			continue
		}

		name, kind := matchConstruct(line, strategy)
		isUnitStart := kind == ChunkTypeFunction || kind == ChunkTypeClass

		// Prefer unit boundaries: close the running chunk before a new
		// function/class once it has reached the minimum size. The first
		// chunk of a file keeps its leading imports and comments.
		if isUnitStart && len(b.lines) > 0 && b.tokens >= minTokens {
			flush(lineNum-1, false)
			lineTokens = c.counter.Count(line)
		}

		// Hard budget: split at the last blank line when one exists so a
		// statement is never cut mid-expression.
		if b.tokens+lineTokens > maxTokens && len(b.lines) > 0 {
			if b.lastBlank > 0 {
				c.splitAtBlank(b, &chunks)
			} else {
				flush(lineNum-1, false)
			}
			lineTokens = c.counter.Count(line)
		}

		indent := indentOf(line)
		switch kind {
		case ChunkTypeClass:
			scopeName = name
			scopeIndent = indent
			if b.chunkType == "" || b.chunkType == ChunkTypeModule {
				b.chunkType = ChunkTypeClass
				b.symbol = name
			}
		case ChunkTypeFunction:
			if scopeIndent >= 0 && indent > scopeIndent {
				// Function nested under a class scope is a method.
				if b.chunkType == "" || b.chunkType == ChunkTypeModule {
					b.chunkType = ChunkTypeMethod
					b.symbol = scopeName + "." + name
					b.parents = append(b.parents, scopeName)
				}
			} else {
				scopeIndent = -1
				if b.chunkType == "" || b.chunkType == ChunkTypeModule {
					b.chunkType = ChunkTypeFunction
					b.symbol = name
				}
			}
		case ChunkTypeModule:
			if name != "" {
				b.imports = append(b.imports, name)
			}
		}

		if strategy.FileType == FileTypeConfig && b.chunkType == ChunkTypeClass {
			b.chunkType = ChunkTypeConfigBlock
		}

		b.push(line, lineTokens)
	}
	flush(len(lines), false)

	return chunks
}

// splitAtBlank emits the lines before the builder's last blank line as a
// chunk and keeps the remainder in the builder.
func (c *Chunker) splitAtBlank(b *lineBuilder, chunks *[]Chunk) {
	head := b.lines[:b.lastBlank+1]
	tail := append([]string(nil), b.lines[b.lastBlank+1:]...)

	chunkType := b.chunkType
	if chunkType == "" {
		chunkType = ChunkTypeModule
	}
	headContent := strings.Join(head, "\n")
	*chunks = append(*chunks, Chunk{
		Content:    headContent,
		LineStart:  b.startLine,
		LineEnd:    b.startLine + len(head) - 1,
		Type:       chunkType,
		SymbolName: b.symbol,
		Parents:    b.parents,
		Imports:    b.imports,
		TokenCount: c.counter.Count(headContent),
	})

	newStart := b.startLine + len(head)
	b.reset(newStart)
	for _, line := range tail {
		t := c.counter.Count(line)
		if len(b.lines) > 0 {
			t++
		}
		b.push(line, t)
	}
}

// matchConstruct matches a line against the strategy's pattern lists.
// Returns the captured symbol name (when the pattern has a group) and the
// construct kind; import lines report ChunkTypeModule.
func matchConstruct(line string, strategy *Strategy) (string, ChunkType) {
	for _, re := range strategy.ClassPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return firstGroup(m), ChunkTypeClass
		}
	}
	for _, re := range strategy.FunctionPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return firstGroup(m), ChunkTypeFunction
		}
	}
	for _, re := range strategy.ImportPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return firstGroup(m), ChunkTypeModule
		}
	}
	return "", ""
}

func firstGroup(m []string) string {
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

func indentOf(line string) int {
	trimmed := strings.TrimLeft(line, " \t")
	prefix := line[:len(line)-len(trimmed)]
	return strings.Count(prefix, "\t")*4 + len(prefix) - strings.Count(prefix, "\t")
}

var (
	headingPattern  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listItemPattern = regexp.MustCompile(`^\d+\.\s`)
)

// chunkMarkdown splits at heading boundaries and carries the ancestor
// heading chain in Parents. Oversized sections degrade to blank-line, then
// list-item, then arbitrary line splits.
func (c *Chunker) chunkMarkdown(content string, strategy *Strategy) []Chunk {
	lines := strings.Split(content, "\n")
	_, maxTokens := strategy.Bounds(content)

	type section struct {
		title     string
		level     int
		parents   []string
		startLine int
		lines     []string
	}

	var sections []section
	// headingStack[i] holds the most recent heading at level i+1.
	var headingStack []string
	current := section{startLine: 1}

	for i, line := range lines {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if len(current.lines) > 0 {
				sections = append(sections, current)
			}
			level := len(m[1])
			if level-1 < len(headingStack) {
				headingStack = headingStack[:level-1]
			}
			parents := append([]string(nil), headingStack...)
			headingStack = append(headingStack, m[2])

			current = section{
				title:     m[2],
				level:     level,
				parents:   parents,
				startLine: i + 1,
				lines:     []string{line},
			}
			continue
		}
		current.lines = append(current.lines, line)
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}

	var chunks []Chunk
	for _, sec := range sections {
		secContent := strings.Join(sec.lines, "\n")
		if c.counter.Count(secContent) <= maxTokens {
			chunks = append(chunks, Chunk{
				Content:    secContent,
				LineStart:  sec.startLine,
				LineEnd:    sec.startLine + len(sec.lines) - 1,
				Type:       ChunkTypeMarkdownSection,
				SymbolName: sec.title,
				Parents:    sec.parents,
			})
			continue
		}
		for _, piece := range c.splitLineGroup(sec.lines, sec.startLine, maxTokens, markdownBreakpoints) {
			piece.Type = ChunkTypeMarkdownSection
			piece.SymbolName = sec.title
			piece.Parents = sec.parents
			chunks = append(chunks, piece)
		}
	}
	return chunks
}

// markdownBreakpoints reports whether a line is an acceptable split point,
// in priority order: blank lines first, then list items.
func markdownBreakpoints(line string, pass int) bool {
	switch pass {
	case 0:
		return strings.TrimSpace(line) == ""
	case 1:
		trimmed := strings.TrimSpace(line)
		return strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") ||
			listItemPattern.MatchString(trimmed)
	default:
		return true // arbitrary line split as last resort
	}
}

// splitLineGroup splits a run of lines into token-bounded pieces, trying
// breakpoint passes in order before falling back to arbitrary line splits.
func (c *Chunker) splitLineGroup(lines []string, startLine, maxTokens int, breakAt func(string, int) bool) []Chunk {
	var chunks []Chunk

	var cur []string
	curStart := startLine
	curTokens := 0

	flush := func(endLine int) {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Content:   strings.Join(cur, "\n"),
			LineStart: curStart,
			LineEnd:   endLine,
		})
		cur = nil
		curStart = endLine + 1
		curTokens = 0
	}

	for i, line := range lines {
		lineNum := startLine + i
		t := c.counter.Count(line)
		if len(cur) > 0 {
			t++
		}

		if curTokens+t > maxTokens && len(cur) > 0 {
			// Walk back to the best breakpoint within the current piece.
			cut := -1
			for pass := 0; pass < 3 && cut < 0; pass++ {
				for j := len(cur) - 1; j > 0; j-- {
					if breakAt(cur[j], pass) {
						cut = j
						break
					}
				}
			}
			if cut > 0 {
				head := cur[:cut]
				tail := append([]string(nil), cur[cut:]...)
				headContent := strings.Join(head, "\n")
				chunks = append(chunks, Chunk{
					Content:   headContent,
					LineStart: curStart,
					LineEnd:   curStart + len(head) - 1,
				})
				curStart += len(head)
				cur = tail
				curTokens = c.counter.Count(strings.Join(cur, "\n"))
			} else {
				flush(lineNum - 1)
			}
			t = c.counter.Count(line)
		}

		cur = append(cur, line)
		curTokens += t
	}
	flush(startLine + len(lines) - 1)

	for i := range chunks {
		if c.counter.Count(chunks[i].Content) > maxTokens {
			chunks[i].Oversize = true
		}
	}
	return chunks
}

// chunkFallback is the size-only splitter used when structural parsing
// fails. Chunks are marked chunk_type=fallback and never surface an error.
func (c *Chunker) chunkFallback(content string, strategy *Strategy) []Chunk {
	lines := strings.Split(content, "\n")
	_, maxTokens := strategy.Bounds(content)

	pieces := c.splitLineGroup(lines, 1, maxTokens, func(line string, pass int) bool {
		if pass == 0 {
			return strings.TrimSpace(line) == ""
		}
		return true
	})
	for i := range pieces {
		pieces[i].Type = ChunkTypeFallback
	}
	return pieces
}

// applyOverlap prepends the trailing overlap of each chunk to its
// successor. Overlap text is context only: token counts and hashes are
// unaffected.
func (c *Chunker) applyOverlap(chunks []Chunk) {
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		chunks[i].OverlapContext = tailTokens(prev, c.overlapTokens)
	}
}

// tailTokens approximates the last n tokens of text by whitespace-delimited
// words, which is close enough for overlap context.
func tailTokens(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}
