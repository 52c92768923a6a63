package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JournalEntry is one failed unit of work. Operation names the pipeline
// step; Status carries the A/M/D change status when the unit came from an
// incremental sync plan.
type JournalEntry struct {
	FilePath  string `json:"file_path"`
	Operation string `json:"operation"` // process, delete, upsert, diff-submodule
	Message   string `json:"message"`
	Status    string `json:"status,omitempty"` // A, M, D
}

// ErrorJournal appends per-file failures as JSONL. Ingestion and sync runs
// press on past individual failures; the journal is what --retry-errors
// replays.
type ErrorJournal struct {
	mu   sync.Mutex
	path string
}

// NewErrorJournal creates a journal writing to path. The parent directory
// is created on first append.
func NewErrorJournal(path string) *ErrorJournal {
	return &ErrorJournal{path: path}
}

// Path returns the journal file path.
func (j *ErrorJournal) Path() string {
	return j.path
}

// Append records one entry. Append failures are swallowed: recovery relies
// on idempotent commit-range replay, not on the journal being durable.
func (j *ErrorJournal) Append(entry JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o750); err != nil {
		return
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintln(f, string(data))
}

// Read returns all entries in the journal. Malformed lines are skipped.
func (j *ErrorJournal) Read() ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open error journal: %w", err)
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Truncate clears the journal, typically after a successful retry pass.
func (j *ErrorJournal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := os.Remove(j.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
