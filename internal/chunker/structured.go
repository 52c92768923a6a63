package chunker

import (
	"encoding/json"
	"strconv"
	"strings"
)

// chunkStructured splits JSON and YAML along top-level member boundaries.
// Splitting is purely line-based so chunk contents remain verbatim slices
// of the file. Unparseable structure degrades to the fallback splitter.
func (c *Chunker) chunkStructured(content string, strategy *Strategy) []Chunk {
	lines := strings.Split(content, "\n")
	_, maxTokens := strategy.Bounds(content)

	var groups []lineGroup
	if strategy.Kind == kindJSON {
		if !json.Valid([]byte(content)) {
			return c.chunkFallback(content, strategy)
		}
		groups = groupJSONMembers(lines, 1)
	} else {
		groups = groupYAMLMembers(lines)
	}
	if len(groups) == 0 {
		return c.chunkFallback(content, strategy)
	}

	var chunks []Chunk
	for _, g := range groups {
		chunks = append(chunks, c.emitGroup(g, maxTokens, 1)...)
	}
	for i := range chunks {
		if chunks[i].Type == "" {
			chunks[i].Type = ChunkTypeConfigBlock
		}
	}
	return chunks
}

// lineGroup is a contiguous run of lines belonging to one structural member.
type lineGroup struct {
	key       string // member key or section name, if identifiable
	startLine int    // 1-based
	lines     []string
	isArray   bool
}

// emitGroup converts a group into chunks, recursing into oversized members.
// Oversized arrays split at the midpoint; oversized objects recurse one
// nesting level deeper; a single indivisible run becomes an oversize chunk.
func (c *Chunker) emitGroup(g lineGroup, maxTokens, depth int) []Chunk {
	content := strings.Join(g.lines, "\n")
	if c.counter.Count(content) <= maxTokens {
		return []Chunk{{
			Content:    content,
			LineStart:  g.startLine,
			LineEnd:    g.startLine + len(g.lines) - 1,
			SymbolName: g.key,
		}}
	}

	if len(g.lines) == 1 || depth > 6 {
		return []Chunk{{
			Content:    content,
			LineStart:  g.startLine,
			LineEnd:    g.startLine + len(g.lines) - 1,
			SymbolName: g.key,
			Oversize:   len(g.lines) == 1,
			Type:       ChunkTypeConfigBlock,
		}}
	}

	if g.isArray {
		mid := len(g.lines) / 2
		head := lineGroup{key: g.key, startLine: g.startLine, lines: g.lines[:mid], isArray: true}
		tail := lineGroup{key: g.key, startLine: g.startLine + mid, lines: g.lines[mid:], isArray: true}
		return append(c.emitGroup(head, maxTokens, depth+1), c.emitGroup(tail, maxTokens, depth+1)...)
	}

	sub := groupJSONMembers(g.lines, g.startLine)
	if len(sub) <= 1 {
		mid := len(g.lines) / 2
		head := lineGroup{key: g.key, startLine: g.startLine, lines: g.lines[:mid]}
		tail := lineGroup{key: g.key, startLine: g.startLine + mid, lines: g.lines[mid:]}
		return append(c.emitGroup(head, maxTokens, depth+1), c.emitGroup(tail, maxTokens, depth+1)...)
	}

	var chunks []Chunk
	for _, s := range sub {
		if s.key == "" {
			s.key = g.key
		} else if g.key != "" {
			s.key = g.key + "." + s.key
		}
		chunks = append(chunks, c.emitGroup(s, maxTokens, depth+1)...)
	}
	return chunks
}

// groupJSONMembers groups lines of pretty-printed JSON at the first nesting
// level below the enclosing container. Depth tracking ignores braces inside
// string literals.
func groupJSONMembers(lines []string, startLine int) []lineGroup {
	var groups []lineGroup
	var cur lineGroup
	cur.startLine = startLine

	depth := 0
	boundaryDepth := -1 // depth at which members of the outer container live

	flush := func(nextStart int) {
		if len(cur.lines) > 0 {
			groups = append(groups, cur)
		}
		cur = lineGroup{startLine: nextStart}
	}

	for i, line := range lines {
		lineNum := startLine + i
		opens, closes, key, arrayStart := scanJSONLine(line)

		if depth == boundaryDepth && len(cur.lines) > 0 && strings.TrimSpace(line) != "" &&
			!strings.HasPrefix(strings.TrimSpace(line), "}") && !strings.HasPrefix(strings.TrimSpace(line), "]") {
			flush(lineNum)
			cur.key = key
			cur.isArray = arrayStart
		} else if len(cur.lines) == 0 {
			cur.key = key
			cur.isArray = arrayStart
		}

		cur.lines = append(cur.lines, line)
		depth += opens - closes
		if boundaryDepth < 0 && depth > 0 {
			boundaryDepth = depth
		}
	}
	flush(0)
	return groups
}

// scanJSONLine counts container opens/closes outside strings and extracts a
// leading member key when the line starts one.
func scanJSONLine(line string) (opens, closes int, key string, arrayStart bool) {
	inString := false
	escaped := false
	for _, r := range line {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				opens++
			}
		case '}', ']':
			if !inString {
				closes++
			}
		}
	}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, `"`) {
		if end := strings.Index(trimmed[1:], `"`); end > 0 {
			rest := strings.TrimSpace(trimmed[end+2:])
			if strings.HasPrefix(rest, ":") {
				key = trimmed[1 : end+1]
				arrayStart = strings.HasPrefix(strings.TrimSpace(rest[1:]), "[")
			}
		}
	} else if strings.HasPrefix(trimmed, "[") {
		arrayStart = true
	}
	return opens, closes, key, arrayStart
}

// groupYAMLMembers groups YAML lines at top-level keys and document
// separators. Comments and blank lines attach to the following member.
func groupYAMLMembers(lines []string) []lineGroup {
	var groups []lineGroup
	var cur lineGroup
	cur.startLine = 1

	var pending []string // leading blanks/comments carried into the next group
	pendingStart := 0

	flush := func() {
		if len(cur.lines) > 0 {
			groups = append(groups, cur)
			cur = lineGroup{}
		}
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			if len(pending) == 0 {
				pendingStart = lineNum
			}
			pending = append(pending, line)
			continue
		}

		topLevel := !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t")
		if topLevel && (trimmed == "---" || strings.Contains(trimmed, ":") || strings.HasPrefix(trimmed, "- ")) {
			flush()
			cur.startLine = lineNum
			if len(pending) > 0 {
				cur.startLine = pendingStart
				cur.lines = append(cur.lines, pending...)
			}
			if idx := strings.Index(trimmed, ":"); idx > 0 && !strings.HasPrefix(trimmed, "- ") {
				cur.key = strings.TrimSpace(trimmed[:idx])
			}
			cur.isArray = strings.HasPrefix(trimmed, "- ")
		} else if len(cur.lines) == 0 {
			cur.startLine = lineNum
			if len(pending) > 0 {
				cur.startLine = pendingStart
				cur.lines = append(cur.lines, pending...)
			}
		} else if len(pending) > 0 {
			cur.lines = append(cur.lines, pending...)
		}
		pending = nil

		cur.lines = append(cur.lines, line)
	}
	if len(pending) > 0 {
		cur.lines = append(cur.lines, pending...)
	}
	flush()
	return groups
}

// chunkMarkup splits HTML/XML at element boundaries: a chunk per top-level
// element, recursing into child elements when an element exceeds the token
// budget. The last resort is a split at line boundaries; a single line
// that exceeds the budget is not split further and is emitted oversize.
func (c *Chunker) chunkMarkup(content string, strategy *Strategy) []Chunk {
	lines := strings.Split(content, "\n")
	_, maxTokens := strategy.Bounds(content)

	groups := groupMarkupElements(lines, 1)
	if len(groups) == 0 {
		return c.chunkFallback(content, strategy)
	}

	chunkType := ChunkTypeHTMLBlock
	if strategy.Language == "xml" {
		chunkType = ChunkTypeXMLNode
	}

	var chunks []Chunk
	for _, g := range groups {
		chunks = append(chunks, c.emitMarkupGroup(g, maxTokens, 0)...)
	}
	for i := range chunks {
		chunks[i].Type = chunkType
	}
	return chunks
}

func (c *Chunker) emitMarkupGroup(g lineGroup, maxTokens, depth int) []Chunk {
	content := strings.Join(g.lines, "\n")
	if c.counter.Count(content) <= maxTokens || depth > 6 {
		return []Chunk{{
			Content:    content,
			LineStart:  g.startLine,
			LineEnd:    g.startLine + len(g.lines) - 1,
			SymbolName: g.key,
			Oversize:   c.counter.Count(content) > maxTokens,
		}}
	}

	// Child elements live one level in: strip the wrapping open/close lines
	// when identifiable, otherwise split at line boundaries via the line
	// splitter.
	if len(g.lines) > 2 {
		inner := lineGroup{key: g.key, startLine: g.startLine + 1, lines: g.lines[1 : len(g.lines)-1]}
		sub := groupMarkupElements(inner.lines, inner.startLine)
		if len(sub) > 1 {
			var chunks []Chunk
			open := lineGroup{key: g.key, startLine: g.startLine, lines: g.lines[:1]}
			chunks = append(chunks, c.emitMarkupGroup(open, maxTokens, depth+1)...)
			for _, s := range sub {
				chunks = append(chunks, c.emitMarkupGroup(s, maxTokens, depth+1)...)
			}
			closeGroup := lineGroup{key: g.key, startLine: g.startLine + len(g.lines) - 1, lines: g.lines[len(g.lines)-1:]}
			chunks = append(chunks, c.emitMarkupGroup(closeGroup, maxTokens, depth+1)...)
			return chunks
		}
	}

	pieces := c.splitLineGroup(g.lines, g.startLine, maxTokens, func(line string, pass int) bool {
		if pass == 0 {
			return strings.HasPrefix(strings.TrimSpace(line), "<")
		}
		return true
	})
	for i := range pieces {
		pieces[i].SymbolName = g.key
	}
	return pieces
}

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true, "!doctype": true,
}

// groupMarkupElements groups lines so each group holds one element at the
// shallowest nesting level present. Tag tracking is heuristic; documents it
// cannot follow fall through to a single group.
func groupMarkupElements(lines []string, startLine int) []lineGroup {
	var groups []lineGroup
	var cur lineGroup
	cur.startLine = startLine

	depth := 0
	for i, line := range lines {
		lineNum := startLine + i
		opens, closes, tag := scanMarkupLine(line)

		if depth == 0 && len(cur.lines) > 0 && strings.TrimSpace(line) != "" {
			groups = append(groups, cur)
			cur = lineGroup{startLine: lineNum, key: tag}
		} else if len(cur.lines) == 0 {
			cur.key = tag
		}

		cur.lines = append(cur.lines, line)
		depth += opens - closes
		if depth < 0 {
			depth = 0
		}
	}
	if len(cur.lines) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// scanMarkupLine counts element opens/closes on a line and returns the
// first opening tag name. Self-closing and void tags do not change depth.
func scanMarkupLine(line string) (opens, closes int, firstTag string) {
	rest := line
	for {
		start := strings.Index(rest, "<")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], ">")
		if end < 0 {
			break
		}
		tag := rest[start+1 : start+end]
		rest = rest[start+end+1:]

		switch {
		case strings.HasPrefix(tag, "!--") || strings.HasPrefix(tag, "?"):
			// comment or processing instruction
		case strings.HasPrefix(tag, "/"):
			closes++
		case strings.HasSuffix(tag, "/"):
			// self-closing
			if firstTag == "" {
				firstTag = tagName(tag)
			}
		default:
			name := tagName(tag)
			if firstTag == "" {
				firstTag = name
			}
			if !voidTags[strings.ToLower(name)] {
				opens++
			}
		}
	}
	return opens, closes, firstTag
}

func tagName(tag string) string {
	tag = strings.TrimPrefix(tag, "/")
	if idx := strings.IndexAny(tag, " \t/"); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}

// notebookDoc mirrors the subset of the .ipynb format the chunker needs.
type notebookDoc struct {
	Cells []struct {
		CellType string   `json:"cell_type"`
		Source   []string `json:"source"`
	} `json:"cells"`
}

// chunkNotebook emits one chunk per cell. Markdown cells are tagged
// markdown_section, code cells cell. Line coordinates index into the
// concatenation of cell sources, which is the text that gets embedded.
func (c *Chunker) chunkNotebook(content string, strategy *Strategy) []Chunk {
	var doc notebookDoc
	if err := json.Unmarshal([]byte(content), &doc); err != nil || len(doc.Cells) == 0 {
		return c.chunkFallback(content, strategy)
	}

	var chunks []Chunk
	line := 1
	for i, cell := range doc.Cells {
		source := strings.Join(cell.Source, "")
		source = NormalizeLineEndings(source)
		if strings.TrimSpace(source) == "" {
			continue
		}
		n := strings.Count(source, "\n") + 1

		chunkType := ChunkTypeCell
		if cell.CellType == "markdown" {
			chunkType = ChunkTypeMarkdownSection
		}
		chunks = append(chunks, Chunk{
			Content:    source,
			LineStart:  line,
			LineEnd:    line + n - 1,
			Type:       chunkType,
			SymbolName: cellName(i, cell.CellType),
		})
		line += n
	}
	return chunks
}

func cellName(index int, cellType string) string {
	return cellType + "_cell_" + strconv.Itoa(index)
}

// chunkTabular groups CSV/TSV rows under the header line, bounded by the
// config/data token budget.
func (c *Chunker) chunkTabular(content string, strategy *Strategy) []Chunk {
	lines := strings.Split(content, "\n")
	_, maxTokens := strategy.Bounds(content)

	pieces := c.splitLineGroup(lines, 1, maxTokens, func(line string, pass int) bool {
		return true // any row boundary is fine
	})
	for i := range pieces {
		pieces[i].Type = ChunkTypeConfigBlock
	}
	return pieces
}
