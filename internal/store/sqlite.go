package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	mnerrors "github.com/mnemosyne-notes/mnemo/internal/errors"
)

// SQLiteChunkStore is the canonical chunk store. It is the source of truth
// for chunk content and note timestamps; the lexical and vector indexes
// are derived from it.
type SQLiteChunkStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteChunkStore opens (or creates) the chunk database at the given
// path. Pass ":memory:" for an in-memory store in tests.
func NewSQLiteChunkStore(path string, cacheMB int) (*SQLiteChunkStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s", filepath.Clean(path))
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, mnerrors.StoreError("failed to open chunk database", err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if cacheMB <= 0 {
		cacheMB = 64
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, mnerrors.StoreError(fmt.Sprintf("failed to set pragma %q", pragma), err)
		}
	}

	s := &SQLiteChunkStore{db: db, path: path}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.validateIntegrity(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteChunkStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		tenant_id  TEXT NOT NULL,
		id         TEXT NOT NULL,
		note_id    TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		folder     TEXT NOT NULL DEFAULT '',
		tags       TEXT NOT NULL DEFAULT '[]',
		content    TEXT NOT NULL,
		position   INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_note
		ON chunks(tenant_id, note_id, position);
	CREATE INDEX IF NOT EXISTS idx_chunks_updated
		ON chunks(tenant_id, updated_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return mnerrors.StoreError("failed to create chunk schema", err)
	}
	return nil
}

// validateIntegrity runs a quick_check on open. Unlike a derived index,
// chunk data cannot be rebuilt, so corruption is surfaced as fatal rather
// than auto-cleared.
func (s *SQLiteChunkStore) validateIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check(1)").Scan(&result); err != nil {
		return mnerrors.New(mnerrors.ErrCodeCorruptIndex, "chunk database integrity check failed", err)
	}
	if result != "ok" {
		return mnerrors.New(mnerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("chunk database corrupt: %s", result), nil)
	}
	return nil
}

// SaveChunks upserts chunks in a single transaction.
func (s *SQLiteChunkStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mnerrors.StoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(tenant_id, id, note_id, title, folder, tags, content, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return mnerrors.StoreError("failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ID == "" || c.TenantID == "" {
			return mnerrors.ValidationError("chunk requires id and tenant_id", nil)
		}
		tags, err := json.Marshal(c.Tags)
		if err != nil {
			return mnerrors.StoreError(fmt.Sprintf("failed to encode tags for chunk %s", c.ID), err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.TenantID, c.ID, c.NoteID, c.Title, c.Folder, string(tags),
			c.Content, c.Position, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
		); err != nil {
			return mnerrors.StoreError(fmt.Sprintf("failed to save chunk %s", c.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mnerrors.StoreError("failed to commit chunks", err)
	}
	return nil
}

const chunkColumns = "tenant_id, id, note_id, title, folder, tags, content, position, created_at, updated_at"

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var tags string
	var createdAt, updatedAt int64
	if err := row.Scan(&c.TenantID, &c.ID, &c.NoteID, &c.Title, &c.Folder,
		&tags, &c.Content, &c.Position, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for chunk %s: %w", c.ID, err)
	}
	c.CreatedAt = time.Unix(0, createdAt)
	c.UpdatedAt = time.Unix(0, updatedAt)
	return &c, nil
}

// GetChunk returns a single chunk, or ErrCodeChunkNotFound.
func (s *SQLiteChunkStore) GetChunk(ctx context.Context, tenantID, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE tenant_id = ? AND id = ?", tenantID, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, mnerrors.New(mnerrors.ErrCodeChunkNotFound,
			fmt.Sprintf("chunk %s not found", id), nil)
	}
	if err != nil {
		return nil, mnerrors.StoreError(fmt.Sprintf("failed to load chunk %s", id), err)
	}
	return c, nil
}

// GetChunks batch-fetches chunks by ID. IDs that do not exist are skipped.
func (s *SQLiteChunkStore) GetChunks(ctx context.Context, tenantID string, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE tenant_id = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, mnerrors.StoreError("failed to batch-load chunks", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, mnerrors.StoreError("failed to scan chunk", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunksByNote returns all chunks of a note in position order.
func (s *SQLiteChunkStore) GetChunksByNote(ctx context.Context, tenantID, noteID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE tenant_id = ? AND note_id = ? ORDER BY position",
		tenantID, noteID)
	if err != nil {
		return nil, mnerrors.StoreError(fmt.Sprintf("failed to load chunks for note %s", noteID), err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, mnerrors.StoreError("failed to scan chunk", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByNote removes all chunks of a note.
func (s *SQLiteChunkStore) DeleteChunksByNote(ctx context.Context, tenantID, noteID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM chunks WHERE tenant_id = ? AND note_id = ?", tenantID, noteID); err != nil {
		return mnerrors.StoreError(fmt.Sprintf("failed to delete chunks for note %s", noteID), err)
	}
	return nil
}

// ListRecent returns chunk IDs updated at or after since, newest first.
// Ties on updated_at break by chunk ID so the order is deterministic.
func (s *SQLiteChunkStore) ListRecent(ctx context.Context, tenantID string, since time.Time, limit int) ([]*RecencyResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, updated_at FROM chunks
		WHERE tenant_id = ? AND updated_at >= ?
		ORDER BY updated_at DESC, id ASC
		LIMIT ?`, tenantID, since.UnixNano(), limit)
	if err != nil {
		return nil, mnerrors.StoreError("failed to list recent chunks", err)
	}
	defer rows.Close()

	var results []*RecencyResult
	for rows.Next() {
		var id string
		var updatedAt int64
		if err := rows.Scan(&id, &updatedAt); err != nil {
			return nil, mnerrors.StoreError("failed to scan recency row", err)
		}
		results = append(results, &RecencyResult{ChunkID: id, UpdatedAt: time.Unix(0, updatedAt)})
	}
	return results, rows.Err()
}

// CountChunks returns the number of chunks a tenant owns.
func (s *SQLiteChunkStore) CountChunks(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE tenant_id = ?", tenantID).Scan(&n); err != nil {
		return 0, mnerrors.StoreError("failed to count chunks", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteChunkStore) Close() error {
	if s.path != ":memory:" {
		// Best effort; the WAL replays on next open if this fails.
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
