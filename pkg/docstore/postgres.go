package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection);
`

// PostgresBackend stores documents as jsonb rows. Merges use the jsonb ||
// operator, which overlays top-level keys.
type PostgresBackend struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresBackend returns a backend over db.
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db, now: time.Now}
}

// EnsureSchema creates the documents table when missing.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

type documentRow struct {
	Path      string    `db:"path"`
	DocID     string    `db:"doc_id"`
	Data      []byte    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row documentRow) toDocument() (Document, error) {
	data := map[string]interface{}{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return Document{}, fmt.Errorf("decode document %s: %w", row.Path, err)
		}
	}
	return Document{Path: row.Path, ID: row.DocID, Data: data, UpdatedAt: row.UpdatedAt}, nil
}

func (p *PostgresBackend) Get(ctx context.Context, path string) (Document, error) {
	const query = `SELECT path, doc_id, data, updated_at FROM documents WHERE path = $1`
	var row documentRow
	if err := p.db.GetContext(ctx, &row, query, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get document %s: %w", path, err)
	}
	return row.toDocument()
}

func (p *PostgresBackend) Create(ctx context.Context, path string, data map[string]interface{}) error {
	const query = `INSERT INTO documents (path, collection, doc_id, data, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (path) DO NOTHING`
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, query, path, Parent(path), Base(path), payload, p.now().UTC())
	if err != nil {
		return fmt.Errorf("create document %s: %w", path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create document %s: %w", path, err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *PostgresBackend) Set(ctx context.Context, path string, data map[string]interface{}, opts WriteOptions) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	now := p.now().UTC()

	if opts.If != nil {
		return p.conditionalSet(ctx, path, payload, now, opts)
	}

	query := `INSERT INTO documents (path, collection, doc_id, data, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	if opts.Merge {
		query = `INSERT INTO documents (path, collection, doc_id, data, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	}
	if _, err := p.db.ExecContext(ctx, query, path, Parent(path), Base(path), payload, now); err != nil {
		return fmt.Errorf("set document %s: %w", path, err)
	}
	return nil
}

func (p *PostgresBackend) conditionalSet(ctx context.Context, path string, payload []byte, now time.Time, opts WriteOptions) error {
	expected, err := json.Marshal(opts.If.Equals)
	if err != nil {
		return err
	}
	query := `UPDATE documents SET data = $2::jsonb, updated_at = $3 WHERE path = $1 AND data -> $4 = $5::jsonb`
	if opts.Merge {
		query = `UPDATE documents SET data = data || $2::jsonb, updated_at = $3 WHERE path = $1 AND data -> $4 = $5::jsonb`
	}
	res, err := p.db.ExecContext(ctx, query, path, payload, now, opts.If.Field, expected)
	if err != nil {
		return fmt.Errorf("conditional set %s: %w", path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conditional set %s: %w", path, err)
	}
	if affected == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

func (p *PostgresBackend) List(ctx context.Context, collection string) ([]Document, error) {
	const query = `SELECT path, doc_id, data, updated_at FROM documents WHERE collection = $1 ORDER BY path`
	var rows []documentRow
	if err := p.db.SelectContext(ctx, &rows, query, collection); err != nil {
		return nil, fmt.Errorf("list collection %s: %w", collection, err)
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
