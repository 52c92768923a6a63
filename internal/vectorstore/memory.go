package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store implementation for development and
// testing. Thread-safe with an RWMutex.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Record // namespace -> id -> record
	activeRefs map[string]string
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]map[string]Record),
		activeRefs: make(map[string]string),
	}
}

// Upsert inserts or replaces records by ID.
func (m *MemoryStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record)
		m.namespaces[namespace] = ns
	}
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record ID cannot be empty")
		}
		if len(rec.Values) == 0 {
			return fmt.Errorf("record %s has no vector", rec.ID)
		}
		ns[rec.ID] = rec
	}
	return nil
}

// DeleteByFilter removes matching records. A missing namespace is a no-op:
// first-time ingestion of a repository deletes before anything exists.
func (m *MemoryStore) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil
	}
	for id, rec := range ns {
		if filter.Matches(rec.Metadata) {
			delete(ns, id)
		}
	}
	return nil
}

// Query returns the topK nearest records by cosine similarity. A missing
// namespace returns no matches.
func (m *MemoryStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, nil
	}

	var matches []Match
	for _, rec := range ns {
		if filter != nil && !filter.Matches(rec.Metadata) {
			continue
		}
		score := float32(1.0)
		if len(vector) > 0 {
			score = cosineSimilarity(vector, rec.Values)
		}
		matches = append(matches, Match{ID: rec.ID, Score: score, Metadata: rec.Metadata})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Describe enumerates namespaces holding at least one record.
func (m *MemoryStore) Describe(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, ns := range m.namespaces {
		if len(ns) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Activate flips live flags so only records at ref are live, and moves the
// namespace's active-ref pointer. The whole flip happens under one lock.
func (m *MemoryStore) Activate(ctx context.Context, namespace, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Activating a commit with nothing staged still moves the pointer; a
	// sync plan can consist entirely of deletes.
	ns := m.namespaces[namespace]
	for id, rec := range ns {
		live := rec.Metadata[FieldRef] == ref
		rec.Metadata[FieldLive] = live
		ns[id] = rec
	}
	m.activeRefs[namespace] = ref
	return nil
}

// ActiveRef returns the active commit of a namespace.
func (m *MemoryStore) ActiveRef(ctx context.Context, namespace string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeRefs[namespace], nil
}

// Close releases resources (no-op for the memory store).
func (m *MemoryStore) Close() error {
	return nil
}

// Count returns the number of records in a namespace. Test helper.
func (m *MemoryStore) Count(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace])
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
