// Package tokenizer provides model-token counting and content complexity
// estimation. Token counts use a fixed BPE encoding compatible with the
// embedding provider's tokenizer; the encoding name is pinned in
// configuration and asserted once at startup.
package tokenizer

import (
	"container/list"
	"crypto/sha256"
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the text-embedding-3 model family.
const DefaultEncoding = "cl100k_base"

// defaultCacheSize bounds the token-count cache. Entries are small (a hash
// and an int); 4096 covers a typical ingestion run's hot set.
const defaultCacheSize = 4096

// Counter counts model tokens with a small LRU cache keyed by content hash.
// Safe for concurrent use.
type Counter struct {
	encoding     *tiktoken.Tiktoken
	encodingName string

	mu    sync.Mutex
	cache map[[32]byte]*list.Element
	order *list.List // front = most recent
	limit int
}

type cacheEntry struct {
	key   [32]byte
	count int
}

// NewCounter creates a Counter for the given BPE encoding name.
func NewCounter(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Counter{
		encoding:     enc,
		encodingName: encoding,
		cache:        make(map[[32]byte]*list.Element),
		order:        list.New(),
		limit:        defaultCacheSize,
	}, nil
}

// Count returns the number of BPE tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}

	key := sha256.Sum256([]byte(text))

	c.mu.Lock()
	if el, ok := c.cache[key]; ok {
		c.order.MoveToFront(el)
		n := el.Value.(*cacheEntry).count
		c.mu.Unlock()
		return n
	}
	c.mu.Unlock()

	n := len(c.encoding.Encode(text, nil, nil))

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[key]; !ok {
		el := c.order.PushFront(&cacheEntry{key: key, count: n})
		c.cache[key] = el
		if c.order.Len() > c.limit {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
	return n
}

// Encoding returns the pinned encoding name.
func (c *Counter) Encoding() string {
	return c.encodingName
}

var (
	declPattern    = regexp.MustCompile(`\b(def|class|function|fn|func|public|private|protected)\b`)
	controlPattern = regexp.MustCompile(`\b(if|for|while|switch|case|try|catch|except|select)\b`)
	importPattern  = regexp.MustCompile(`(?m)^\s*(import|from|require|include|use)\b`)
)

// EstimateComplexity scores content complexity in [0, 2]. The score only
// drives chunk-size selection and is never surfaced to users.
//
// Weighted contributions: declarations x0.1, control-flow keywords x0.05,
// imports x0.03, indentation depth x0.01 (capped at 0.2), and for
// structured-data languages a structural-depth term capped at 0.3.
func EstimateComplexity(content, language string) float64 {
	if content == "" {
		return 0
	}

	var score float64
	score += float64(len(declPattern.FindAllStringIndex(content, -1))) * 0.1
	score += float64(len(controlPattern.FindAllStringIndex(content, -1))) * 0.05
	score += float64(len(importPattern.FindAllStringIndex(content, -1))) * 0.03

	indent := float64(maxIndentLevel(content)) * 0.01
	if indent > 0.2 {
		indent = 0.2
	}
	score += indent

	switch language {
	case "json", "yaml", "xml", "html", "toml":
		depth := float64(structuralDepth(content)) * 0.05
		if depth > 0.3 {
			depth = 0.3
		}
		score += depth
	}

	if score > 2 {
		score = 2
	}
	return score
}

// maxIndentLevel returns the deepest leading-whitespace level seen, in
// 4-column steps (tabs count as one step).
func maxIndentLevel(content string) int {
	maxLevel := 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		prefix := line[:len(line)-len(trimmed)]
		level := strings.Count(prefix, "\t") + (len(prefix)-strings.Count(prefix, "\t"))/4
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel
}

// structuralDepth approximates nesting depth of bracketed data formats.
func structuralDepth(content string) int {
	depth, maxDepth := 0, 0
	for _, r := range content {
		switch r {
		case '{', '[', '<':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']', '>':
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}
