package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// SQLiteStore is an embedded Store backed by a single SQLite database.
// Suitable for self-hosted deployments and integration tests; similarity is
// computed by brute-force scan over the namespace, which is adequate for
// per-repository corpus sizes.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vectors (
	namespace TEXT NOT NULL,
	id        TEXT NOT NULL,
	vector    BLOB NOT NULL,
	metadata  TEXT NOT NULL,
	file_path TEXT NOT NULL,
	ref       TEXT NOT NULL,
	live      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS idx_vectors_ns_path ON vectors(namespace, file_path);
CREATE INDEX IF NOT EXISTS idx_vectors_ns_ref  ON vectors(namespace, ref);
CREATE TABLE IF NOT EXISTS active_refs (
	namespace TEXT PRIMARY KEY,
	ref       TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert writes records in transactions of UpsertBatchSize.
func (s *SQLiteStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	for start := 0; start < len(records); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsertBatch(ctx, namespace, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) upsertBatch(ctx context.Context, namespace string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (namespace, id, vector, metadata, file_path, ref, live)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			vector = excluded.vector,
			metadata = excluded.metadata,
			file_path = excluded.file_path,
			ref = excluded.ref,
			live = excluded.live`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		filePath, _ := rec.Metadata[FieldFilePath].(string)
		ref, _ := rec.Metadata[FieldRef].(string)
		live, _ := rec.Metadata[FieldLive].(bool)

		if _, err := stmt.ExecContext(ctx, namespace, rec.ID,
			encodeVector(rec.Values), string(metadata), filePath, ref, boolToInt(live)); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteByFilter removes matching records. File-path and ref filters run in
// SQL; anything else falls back to a scan with client-side matching.
func (s *SQLiteStore) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if path, ok := filter.Equals[FieldFilePath].(string); ok && len(filter.Equals) == 1 && len(filter.Contains) == 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM vectors WHERE namespace = ? AND file_path = ?`, namespace, path)
		return err
	}
	if ref, ok := filter.Equals[FieldRef].(string); ok && len(filter.Equals) == 1 && len(filter.Contains) == 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM vectors WHERE namespace = ? AND ref = ?`, namespace, ref)
		return err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata FROM vectors WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("scan for delete: %w", err)
	}
	defer rows.Close()

	var doomed []string
	for rows.Next() {
		var id, metadataJSON string
		if err := rows.Scan(&id, &metadataJSON); err != nil {
			return err
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			continue
		}
		if filter.Matches(metadata) {
			doomed = append(doomed, id)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range doomed {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM vectors WHERE namespace = ? AND id = ?`, namespace, id); err != nil {
			return err
		}
	}
	return nil
}

// Query brute-force scans the namespace and returns the topK by cosine
// similarity.
func (s *SQLiteStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, metadata FROM vectors WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id string
		var blob []byte
		var metadataJSON string
		if err := rows.Scan(&id, &blob, &metadataJSON); err != nil {
			return nil, err
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			continue
		}
		if filter != nil && !filter.Matches(metadata) {
			continue
		}
		score := float32(1.0)
		if len(vector) > 0 {
			score = cosineSimilarity(vector, decodeVector(blob))
		}
		matches = append(matches, Match{ID: id, Score: score, Metadata: metadata})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Describe lists namespaces holding records.
func (s *SQLiteStore) Describe(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM vectors ORDER BY namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Activate flips live flags and the active-ref pointer in one transaction.
func (s *SQLiteStore) Activate(ctx context.Context, namespace, ref string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE vectors SET live = CASE WHEN ref = ? THEN 1 ELSE 0 END,
			metadata = json_set(metadata, '$.live', json(CASE WHEN ref = ? THEN 'true' ELSE 'false' END))
		 WHERE namespace = ?`, ref, ref, namespace); err != nil {
		return fmt.Errorf("flip live flags: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_refs (namespace, ref) VALUES (?, ?)
		 ON CONFLICT(namespace) DO UPDATE SET ref = excluded.ref`, namespace, ref); err != nil {
		return fmt.Errorf("move active ref: %w", err)
	}
	return tx.Commit()
}

// ActiveRef returns the active commit of a namespace, or "".
func (s *SQLiteStore) ActiveRef(ctx context.Context, namespace string) (string, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		`SELECT ref FROM active_refs WHERE namespace = ?`, namespace).Scan(&ref)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return ref, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVector serializes float32 values as little-endian bytes.
func encodeVector(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return values
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
