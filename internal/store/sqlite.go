package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/docqa/internal/store/migrations"
)

// maxInParams bounds the number of placeholders in one IN (...) query.
const maxInParams = 500

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies
// migrations. An empty path opens an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention; also keeps :memory: on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *SQLiteStore) migrate(fsys embed.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path ("" for in-memory).
func (s *SQLiteStore) Path() string {
	return s.path
}

// ==================== Documents ====================

// SaveDocument inserts or updates a document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	md, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Title, doc.Content, md, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving document %d: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns ErrNotFound for unknown ids.
func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var (
		doc Document
		md  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, metadata, created_at, updated_at
		FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.Title, &doc.Content, &md, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %d: %w", id, err)
	}
	if doc.Metadata, err = decodeMetadata(md); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CountDocuments returns the number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// ==================== Passages ====================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreatePassages inserts passages in one transaction and assigns their IDs.
func (s *SQLiteStore) CreatePassages(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertPassages(ctx, tx, passages)
	})
}

// ReplacePassages deletes the document's passages and inserts the new ones atomically.
func (s *SQLiteStore) ReplacePassages(ctx context.Context, documentID int64, passages []*Passage) (int, error) {
	var deleted int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := deletePassages(ctx, tx, documentID)
		if err != nil {
			return err
		}
		deleted = n
		for _, p := range passages {
			p.DocumentID = documentID
		}
		return insertPassages(ctx, tx, passages)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeletePassagesByDocument removes every passage of a document.
func (s *SQLiteStore) DeletePassagesByDocument(ctx context.Context, documentID int64) (int, error) {
	return deletePassages(ctx, s.db, documentID)
}

func deletePassages(ctx context.Context, db execer, documentID int64) (int, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM passages WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting passages of document %d: %w", documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting passages of document %d: %w", documentID, err)
	}
	return int(n), nil
}

func insertPassages(ctx context.Context, tx *sql.Tx, passages []*Passage) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (document_id, text, position, section_type, token_start, token_end, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing passage insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range passages {
		md, err := encodeMetadata(p.Metadata)
		if err != nil {
			return err
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		res, err := stmt.ExecContext(ctx, p.DocumentID, p.Text, p.Position, p.SectionType,
			nullInt(p.TokenStart), nullInt(p.TokenEnd), md, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting passage %d of document %d: %w", p.Position, p.DocumentID, err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading passage id: %w", err)
		}
	}
	return nil
}

const passageColumns = "id, document_id, text, position, section_type, token_start, token_end, metadata, created_at"

// GetPassage returns ErrNotFound for unknown ids.
func (s *SQLiteStore) GetPassage(ctx context.Context, id int64) (*Passage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+passageColumns+" FROM passages WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting passage %d: %w", id, err)
	}
	passages, err := scanPassages(rows)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("passage %d: %w", id, ErrNotFound)
	}
	return passages[0], nil
}

// GetPassages batch-loads passages. Missing ids are absent from the map.
func (s *SQLiteStore) GetPassages(ctx context.Context, ids []int64) (map[int64]*Passage, error) {
	out := make(map[int64]*Passage, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		batch := ids[start:min(start+maxInParams, len(ids))]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		rows, err := s.db.QueryContext(ctx,
			"SELECT "+passageColumns+" FROM passages WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("getting passages: %w", err)
		}
		passages, err := scanPassages(rows)
		if err != nil {
			return nil, err
		}
		for _, p := range passages {
			out[p.ID] = p
		}
	}
	return out, nil
}

// ListPassages returns every passage ordered by ID (insertion order).
func (s *SQLiteStore) ListPassages(ctx context.Context) ([]*Passage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+passageColumns+" FROM passages ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing passages: %w", err)
	}
	return scanPassages(rows)
}

// ListPassagesByDocument returns a document's passages in position order.
func (s *SQLiteStore) ListPassagesByDocument(ctx context.Context, documentID int64) ([]*Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+passageColumns+" FROM passages WHERE document_id = ? ORDER BY position", documentID)
	if err != nil {
		return nil, fmt.Errorf("listing passages of document %d: %w", documentID, err)
	}
	return scanPassages(rows)
}

// CountPassages returns the corpus size.
func (s *SQLiteStore) CountPassages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return n, nil
}

func scanPassages(rows *sql.Rows) ([]*Passage, error) {
	defer rows.Close()

	var out []*Passage
	for rows.Next() {
		var (
			p                Passage
			tokStart, tokEnd sql.NullInt64
			md               string
		)
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Text, &p.Position, &p.SectionType,
			&tokStart, &tokEnd, &md, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		p.TokenStart = intPtr(tokStart)
		p.TokenEnd = intPtr(tokEnd)

		var err error
		if p.Metadata, err = decodeMetadata(md); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}
	return out, nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func encodeMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("marshalling metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	md := map[string]any{}
	if s == "" || s == "null" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	return md, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
