package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteConfig struct {
	Path        string
	JournalMode string
	Synchronous string
	BusyTimeout int
}

func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:        path,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
	}
}

// SQLiteStore keeps every namespace in one documents table with a JSON
// payload column, plus a side table for secondary index entries.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		cfg.Path, cfg.JournalMode, cfg.Synchronous, cfg.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	// A single writer keeps one-transaction-per-call semantics simple.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			namespace TEXT NOT NULL,
			id        TEXT NOT NULL,
			doc       TEXT NOT NULL,
			PRIMARY KEY (namespace, id)
		);

		CREATE TABLE IF NOT EXISTS document_indexes (
			namespace TEXT NOT NULL,
			idx_name  TEXT NOT NULL,
			idx_value TEXT NOT NULL,
			id        TEXT NOT NULL,
			PRIMARY KEY (namespace, idx_name, id)
		);
		CREATE INDEX IF NOT EXISTS idx_document_lookup
			ON document_indexes (namespace, idx_name, idx_value);

		CREATE TABLE IF NOT EXISTS sequences (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
		INSERT OR IGNORE INTO sequences (name, value) VALUES ('queue', 0);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, namespace, id string, doc any, indexes map[string]string) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return &IOError{Op: "put", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &IOError{Op: "put", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (namespace, id, doc) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, id) DO UPDATE SET doc = excluded.doc`,
		namespace, id, string(body)); err != nil {
		return &IOError{Op: "put", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_indexes WHERE namespace = ? AND id = ?`,
		namespace, id); err != nil {
		return &IOError{Op: "put", Err: err}
	}

	for name, value := range indexes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_indexes (namespace, idx_name, idx_value, id) VALUES (?, ?, ?, ?)`,
			namespace, name, value, id); err != nil {
			return &IOError{Op: "put", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &IOError{Op: "put", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, id string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE namespace = ? AND id = ?`,
		namespace, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &IOError{Op: "get", Err: err}
	}
	return json.RawMessage(body), nil
}

func (s *SQLiteStore) QueryByIndex(ctx context.Context, namespace, index, value string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.doc FROM documents d
		 JOIN document_indexes i ON i.namespace = d.namespace AND i.id = d.id
		 WHERE d.namespace = ? AND i.idx_name = ? AND i.idx_value = ?`,
		namespace, index, value)
	if err != nil {
		return nil, &IOError{Op: "query", Err: err}
	}
	defer rows.Close()

	return scanDocs(rows, "query")
}

func (s *SQLiteStore) List(ctx context.Context, namespace string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE namespace = ? ORDER BY id ASC`,
		namespace)
	if err != nil {
		return nil, &IOError{Op: "list", Err: err}
	}
	defer rows.Close()

	return scanDocs(rows, "list")
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &IOError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE namespace = ? AND id = ?`, namespace, id); err != nil {
		return &IOError{Op: "delete", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_indexes WHERE namespace = ? AND id = ?`, namespace, id); err != nil {
		return &IOError{Op: "delete", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &IOError{Op: "delete", Err: err}
	}
	return nil
}

func (s *SQLiteStore) NextSequence(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE sequences SET value = value + 1 WHERE name = 'queue' RETURNING value`).Scan(&next)
	if err != nil {
		return 0, &IOError{Op: "sequence", Err: err}
	}
	return next, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanDocs(rows *sql.Rows, op string) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, &IOError{Op: op, Err: err}
		}
		docs = append(docs, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: op, Err: err}
	}
	return docs, nil
}
