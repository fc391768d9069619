// Package store provides the SQLite-backed metadata store for librarian.
// It persists sources, documents, chunks, and ingestion runs, and owns the
// relational invariants of the pipeline: canonical document identity per
// (source_id, URI), dense chunk ordinals per (doc_id, modality), and cascade
// deletion from source to documents to chunks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// idNamespace seeds the deterministic UUIDv5 identifiers for sources,
// documents, and chunks so re-observation reproduces the same ids.
var idNamespace = uuid.MustParse("7a9d52b1-43c6-5e18-9f0a-2d84c1e6b7f3")

// Store is the metadata store. It is safe for concurrent use; writes are
// serialized on a single connection to avoid SQLITE_BUSY.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sources (
    id              TEXT    PRIMARY KEY,
    name            TEXT    NOT NULL,
    kind            TEXT    NOT NULL CHECK(kind IN ('directory','url','sitemap')),
    location        TEXT    NOT NULL,
    created_at      INTEGER NOT NULL,  -- Unix timestamp (seconds)
    last_success_at INTEGER,
    UNIQUE (kind, location)
);

CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    source_id    TEXT    NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    uri          TEXT    NOT NULL,
    content_type TEXT    NOT NULL DEFAULT '',
    title        TEXT    NOT NULL DEFAULT '',
    byte_len     INTEGER NOT NULL DEFAULT 0,
    content_hash TEXT    NOT NULL,
    fetched_at   INTEGER NOT NULL,
    UNIQUE (source_id, uri)
);

CREATE TABLE IF NOT EXISTS chunks (
    id           TEXT    PRIMARY KEY,
    doc_id       TEXT    NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    ordinal      INTEGER NOT NULL,
    modality     TEXT    NOT NULL CHECK(modality IN ('text','image')),
    content      TEXT    NOT NULL DEFAULT '',
    media_url    TEXT    NOT NULL DEFAULT '',
    media_hash   TEXT    NOT NULL DEFAULT '',
    content_hash TEXT    NOT NULL,
    start_offset INTEGER NOT NULL DEFAULT 0,
    end_offset   INTEGER NOT NULL DEFAULT 0,
    point_id     TEXT    NOT NULL,
    num_chars    INTEGER NOT NULL DEFAULT 0,
    UNIQUE (doc_id, ordinal, modality)
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_modality ON chunks (doc_id, modality, ordinal);
CREATE INDEX IF NOT EXISTS idx_chunks_point ON chunks (point_id);

CREATE TABLE IF NOT EXISTS ingestion_runs (
    id             TEXT    PRIMARY KEY,
    source_id      TEXT    NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    operation      TEXT    NOT NULL CHECK(operation IN ('ingest','update','reindex')),
    interactive    INTEGER NOT NULL DEFAULT 0,
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER,
    docs_seen      INTEGER NOT NULL DEFAULT 0,
    docs_changed   INTEGER NOT NULL DEFAULT 0,
    chunks_added   INTEGER NOT NULL DEFAULT 0,
    chunks_removed INTEGER NOT NULL DEFAULT 0,
    bytes_fetched  INTEGER NOT NULL DEFAULT 0,
    errors         INTEGER NOT NULL DEFAULT 0,
    status         TEXT    NOT NULL DEFAULT 'running'
);
CREATE INDEX IF NOT EXISTS idx_runs_source_started ON ingestion_runs (source_id, started_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// SourceID derives the deterministic id for a (kind, location) pair.
func SourceID(kind SourceKind, location string) string {
	return uuid.NewSHA1(idNamespace, []byte("source\x00"+string(kind)+"\x00"+location)).String()
}

// DocumentID derives the deterministic id for a (source_id, uri) pair.
func DocumentID(sourceID, uri string) string {
	return uuid.NewSHA1(idNamespace, []byte("document\x00"+sourceID+"\x00"+uri)).String()
}

// ChunkID derives the deterministic id for a chunk. It hangs off the owning
// document id, modality, ordinal, and content hash so unchanged content keeps
// a stable id across runs.
func ChunkID(docID string, modality Modality, ordinal int, contentHash string) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("chunk\x00%s\x00%s\x00%d\x00%s", docID, modality, ordinal, contentHash))).String()
}

// UpsertSource creates the source for (kind, location) or returns the
// existing row, updating its name. The id is stable across calls.
func (s *Store) UpsertSource(ctx context.Context, name string, kind SourceKind, location string) (*Source, error) {
	const q = `
INSERT INTO sources (id, name, kind, location, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (kind, location) DO UPDATE SET name = excluded.name
RETURNING id, name, kind, location, created_at, last_success_at`

	row := s.db.QueryRowContext(ctx, q, SourceID(kind, location), name, string(kind), location, time.Now().Unix())
	src, err := scanSource(row)
	if err != nil {
		return nil, fmt.Errorf("store: upsert source (%s, %s): %w", kind, location, err)
	}
	return src, nil
}

// GetSource returns the source with the given id, or ErrNotFound.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	const q = `SELECT id, name, kind, location, created_at, last_success_at FROM sources WHERE id = ?`
	src, err := scanSource(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get source %s: %w", id, err)
	}
	return src, nil
}

// FindSourceByName returns the source with the given name, or ErrNotFound.
// Names are not unique by schema; the oldest match wins.
func (s *Store) FindSourceByName(ctx context.Context, name string) (*Source, error) {
	const q = `SELECT id, name, kind, location, created_at, last_success_at FROM sources WHERE name = ? ORDER BY created_at ASC LIMIT 1`
	src, err := scanSource(s.db.QueryRowContext(ctx, q, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find source %q: %w", name, err)
	}
	return src, nil
}

// ListSources returns all sources ordered by creation time.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	const q = `SELECT id, name, kind, location, created_at, last_success_at FROM sources ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list sources scan: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list sources rows: %w", err)
	}
	return out, nil
}

// TouchSourceSuccess records the finish time of a successful run.
func (s *Store) TouchSourceSuccess(ctx context.Context, sourceID string, at time.Time) error {
	const q = `UPDATE sources SET last_success_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, at.Unix(), sourceID); err != nil {
		return fmt.Errorf("store: touch source %s: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes the source row. Documents and chunks cascade. It
// returns the vector point ids of all chunks that were deleted so the caller
// can clean up the vector store.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: delete source begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	pointIDs, err := collectPointIDs(ctx, tx, `
SELECT c.point_id FROM chunks c
JOIN documents d ON d.id = c.doc_id
WHERE d.source_id = ?`, sourceID)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: delete source %s: %w", sourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: delete source commit: %w", err)
	}
	return pointIDs, nil
}

// UpsertDocument persists a document observation and returns the canonical
// row: if a row with (source_id, URI) already exists its id is preserved and
// the mutable fields are updated in place; otherwise a new row is created.
// Callers must use the returned id for all subsequent chunk writes.
func (s *Store) UpsertDocument(ctx context.Context, doc *Document) (*Document, error) {
	if doc.SourceID == "" || doc.URI == "" {
		return nil, fmt.Errorf("store: upsert document requires source_id and uri")
	}
	const q = `
INSERT INTO documents (id, source_id, uri, content_type, title, byte_len, content_hash, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id, uri) DO UPDATE SET
    content_type = excluded.content_type,
    title        = excluded.title,
    byte_len     = excluded.byte_len,
    content_hash = excluded.content_hash,
    fetched_at   = excluded.fetched_at
RETURNING id, source_id, uri, content_type, title, byte_len, content_hash, fetched_at`

	row := s.db.QueryRowContext(ctx, q,
		DocumentID(doc.SourceID, doc.URI), doc.SourceID, doc.URI,
		doc.ContentType, doc.Title, doc.ByteLen, doc.ContentHash, doc.FetchedAt.Unix())

	out, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("store: upsert document (%s, %s): %w", doc.SourceID, doc.URI, err)
	}
	return out, nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `SELECT id, source_id, uri, content_type, title, byte_len, content_hash, fetched_at FROM documents WHERE id = ?`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document %s: %w", id, err)
	}
	return doc, nil
}

// FindDocument returns the canonical document for (source_id, uri), or
// ErrNotFound. Used by the coordinator for the unchanged-doc shortcut.
func (s *Store) FindDocument(ctx context.Context, sourceID, uri string) (*Document, error) {
	const q = `SELECT id, source_id, uri, content_type, title, byte_len, content_hash, fetched_at FROM documents WHERE source_id = ? AND uri = ?`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, sourceID, uri))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find document (%s, %s): %w", sourceID, uri, err)
	}
	return doc, nil
}

// ListDocuments returns all documents for a source ordered by URI.
func (s *Store) ListDocuments(ctx context.Context, sourceID string) ([]*Document, error) {
	const q = `SELECT id, source_id, uri, content_type, title, byte_len, content_hash, fetched_at FROM documents WHERE source_id = ? ORDER BY uri ASC`
	rows, err := s.db.QueryContext(ctx, q, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list documents scan: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list documents rows: %w", err)
	}
	return out, nil
}

// ReplaceChunks atomically replaces all chunks of (doc_id, modality) with the
// given set, within one transaction. The owning document row must exist — a
// missing document is a canonical-id violation and is reported loudly with
// the offending (source_id, URI) pair. It returns the vector point ids of the
// chunks that were removed.
func (s *Store) ReplaceChunks(ctx context.Context, docID string, modality Modality, chunks []*Chunk) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: replace chunks begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var srcID, uri string
	err = tx.QueryRowContext(ctx, `SELECT source_id, uri FROM documents WHERE id = ?`, docID).Scan(&srcID, &uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: replace chunks: document %s does not exist — chunk write must use the canonical id returned by UpsertDocument", docID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: replace chunks lookup: %w", err)
	}

	removed, err := collectPointIDs(ctx, tx, `SELECT point_id FROM chunks WHERE doc_id = ? AND modality = ?`, docID, string(modality))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ? AND modality = ?`, docID, string(modality)); err != nil {
		return nil, fmt.Errorf("store: replace chunks delete: %w", err)
	}

	const ins = `
INSERT INTO chunks (id, doc_id, ordinal, modality, content, media_url, media_hash,
                    content_hash, start_offset, end_offset, point_id, num_chars)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i, c := range chunks {
		if c.DocID != docID {
			return nil, fmt.Errorf("store: replace chunks: chunk %d references doc %s, want %s (source %s, uri %s)", i, c.DocID, docID, srcID, uri)
		}
		if c.Ordinal != i {
			return nil, fmt.Errorf("store: replace chunks: ordinal %d at position %d is not dense for (doc %s, %s)", c.Ordinal, i, docID, modality)
		}
		if _, err := tx.ExecContext(ctx, ins,
			c.ID, c.DocID, c.Ordinal, string(modality), c.Content, c.MediaURL, c.MediaHash,
			c.ContentHash, c.StartOffset, c.EndOffset, c.PointID, c.NumChars); err != nil {
			return nil, fmt.Errorf("store: replace chunks insert ordinal %d (source %s, uri %s): %w", c.Ordinal, srcID, uri, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: replace chunks commit: %w", err)
	}
	return removed, nil
}

// GetChunksByModality returns the chunks of (doc_id, modality) in ordinal order.
func (s *Store) GetChunksByModality(ctx context.Context, docID string, modality Modality) ([]*Chunk, error) {
	const q = `
SELECT id, doc_id, ordinal, modality, content, media_url, media_hash,
       content_hash, start_offset, end_offset, point_id, num_chars
FROM chunks WHERE doc_id = ? AND modality = ? ORDER BY ordinal ASC`
	rows, err := s.db.QueryContext(ctx, q, docID, string(modality))
	if err != nil {
		return nil, fmt.Errorf("store: get chunks: %w", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c := &Chunk{}
		var mod string
		if err := rows.Scan(&c.ID, &c.DocID, &c.Ordinal, &mod, &c.Content, &c.MediaURL, &c.MediaHash,
			&c.ContentHash, &c.StartOffset, &c.EndOffset, &c.PointID, &c.NumChars); err != nil {
			return nil, fmt.Errorf("store: get chunks scan: %w", err)
		}
		c.Modality = Modality(mod)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get chunks rows: %w", err)
	}
	return out, nil
}

// DeleteChunksByModality removes all chunks of (doc_id, modality) and returns
// their vector point ids.
func (s *Store) DeleteChunksByModality(ctx context.Context, docID string, modality Modality) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: delete chunks begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := collectPointIDs(ctx, tx, `SELECT point_id FROM chunks WHERE doc_id = ? AND modality = ?`, docID, string(modality))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ? AND modality = ?`, docID, string(modality)); err != nil {
		return nil, fmt.Errorf("store: delete chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: delete chunks commit: %w", err)
	}
	return removed, nil
}

// ChunkExistsByPointID reports whether any chunk references the given vector
// point id. Used by the reconciler's orphan scan.
func (s *Store) ChunkExistsByPointID(ctx context.Context, pointID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE point_id = ? LIMIT 1`, pointID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: chunk exists by point: %w", err)
	}
	return true, nil
}

// CountChunks returns the total number of chunks, optionally scoped to one
// source (pass "" for all).
func (s *Store) CountChunks(ctx context.Context, sourceID string) (int64, error) {
	q := `SELECT COUNT(*) FROM chunks`
	args := []any{}
	if sourceID != "" {
		q = `SELECT COUNT(*) FROM chunks c JOIN documents d ON d.id = c.doc_id WHERE d.source_id = ?`
		args = append(args, sourceID)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count chunks: %w", err)
	}
	return n, nil
}

// PruneDocuments deletes documents of the source whose URI is not in
// seenURIs. Chunks cascade. It returns the pruned document count and the
// vector point ids of all cascaded chunks.
func (s *Store) PruneDocuments(ctx context.Context, sourceID string, seenURIs map[string]struct{}) (int, []string, error) {
	docs, err := s.ListDocuments(ctx, sourceID)
	if err != nil {
		return 0, nil, err
	}

	var stale []string
	for _, d := range docs {
		if _, ok := seenURIs[d.URI]; !ok {
			stale = append(stale, d.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("store: prune begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(stale)), ",")
	args := make([]any, len(stale))
	for i, id := range stale {
		args[i] = id
	}

	pointIDs, err := collectPointIDs(ctx, tx, `SELECT point_id FROM chunks WHERE doc_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return 0, nil, fmt.Errorf("store: prune documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("store: prune commit: %w", err)
	}
	return len(stale), pointIDs, nil
}

// OpenRun creates an IngestionRun row in the running state.
func (s *Store) OpenRun(ctx context.Context, sourceID string, op Operation, interactive bool) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		Operation:   op,
		Interactive: interactive,
		StartedAt:   time.Now(),
		Status:      StatusRunning,
	}
	const q = `
INSERT INTO ingestion_runs (id, source_id, operation, interactive, started_at, status)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, run.ID, run.SourceID, string(op), boolInt(interactive), run.StartedAt.Unix(), string(StatusRunning)); err != nil {
		return nil, fmt.Errorf("store: open run: %w", err)
	}
	return run, nil
}

// CloseRun finalizes a run with its terminal status and counters. Runs are
// never mutated after this.
func (s *Store) CloseRun(ctx context.Context, runID string, status RunStatus, counters RunCounters) error {
	const q = `
UPDATE ingestion_runs
SET finished_at = ?, status = ?, docs_seen = ?, docs_changed = ?,
    chunks_added = ?, chunks_removed = ?, bytes_fetched = ?, errors = ?
WHERE id = ? AND finished_at IS NULL`
	res, err := s.db.ExecContext(ctx, q,
		time.Now().Unix(), string(status),
		counters.DocsSeen, counters.DocsChanged, counters.ChunksAdded,
		counters.ChunksRemoved, counters.BytesFetched, counters.Errors, runID)
	if err != nil {
		return fmt.Errorf("store: close run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: close run %s: run missing or already closed", runID)
	}
	return nil
}

// LastRuns returns the most recent runs for a source (or all sources when
// sourceID is ""), newest first.
func (s *Store) LastRuns(ctx context.Context, sourceID string, n int) ([]*Run, error) {
	q := `
SELECT id, source_id, operation, interactive, started_at, finished_at,
       docs_seen, docs_changed, chunks_added, chunks_removed, bytes_fetched, errors, status
FROM ingestion_runs`
	args := []any{}
	if sourceID != "" {
		q += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: last runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r := &Run{}
		var op, status string
		var interactive int
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SourceID, &op, &interactive, &started, &finished,
			&r.Counters.DocsSeen, &r.Counters.DocsChanged, &r.Counters.ChunksAdded,
			&r.Counters.ChunksRemoved, &r.Counters.BytesFetched, &r.Counters.Errors, &status); err != nil {
			return nil, fmt.Errorf("store: last runs scan: %w", err)
		}
		r.Operation = Operation(op)
		r.Status = RunStatus(status)
		r.Interactive = interactive != 0
		r.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			t := time.Unix(finished.Int64, 0)
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: last runs rows: %w", err)
	}
	return out, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// scanSource scans one sources row.
func scanSource(row scanner) (*Source, error) {
	src := &Source{}
	var kind string
	var created int64
	var lastSuccess sql.NullInt64
	if err := row.Scan(&src.ID, &src.Name, &kind, &src.Location, &created, &lastSuccess); err != nil {
		return nil, err
	}
	src.Kind = SourceKind(kind)
	src.CreatedAt = time.Unix(created, 0)
	if lastSuccess.Valid {
		t := time.Unix(lastSuccess.Int64, 0)
		src.LastSuccessAt = &t
	}
	return src, nil
}

// scanDocument scans one documents row.
func scanDocument(row scanner) (*Document, error) {
	doc := &Document{}
	var fetched int64
	if err := row.Scan(&doc.ID, &doc.SourceID, &doc.URI, &doc.ContentType, &doc.Title,
		&doc.ByteLen, &doc.ContentHash, &fetched); err != nil {
		return nil, err
	}
	doc.FetchedAt = time.Unix(fetched, 0)
	return doc, nil
}

// collectPointIDs runs a single-column point_id query inside tx.
func collectPointIDs(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: collect point ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: collect point ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: collect point ids rows: %w", err)
	}
	return ids, nil
}

// boolInt converts a bool to the 0/1 integer stored in sqlite.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
