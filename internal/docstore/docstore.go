// Package docstore implements the hierarchical document store spec.md
// lists as an external collaborator (§6.2): point get/put with update
// masks, list-with-limit, and range queries with composite AND filters.
// Backed by Postgres/pgx, generalised from
// iluha78-FD/internal/storage/postgres.go: where the teacher has one Go
// struct and one SQL table per entity (collections, persons, streams,
// events), this adapter stores every entity as a JSONB blob under a
// (collection, doc_path) key so any SPEC_FULL.md component can persist
// its own document shape without a schema migration per entity — the
// same generalisation the teacher's dynamic-WHERE QueryEvents already
// hints at for range queries.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the point get/put + range-query contract spec §6.2 requires.
type Store struct {
	pool *pgxpool.Pool
}

type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	MaxConns int
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Schema:
//   CREATE TABLE documents (
//     collection text NOT NULL,
//     doc_path   text NOT NULL,
//     data       jsonb NOT NULL,
//     updated_at timestamptz NOT NULL DEFAULT now(),
//     PRIMARY KEY (collection, doc_path)
//   );
//   CREATE INDEX documents_collection_updated_at_idx ON documents (collection, updated_at);

// Put writes v (marshalled to JSON) at (collection, path), creating or
// replacing the whole document. Used for atomic ClipMetadata/
// StorageAccounting writes (spec §3's idempotent-creation invariant).
func (s *Store) Put(ctx context.Context, collection, path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (collection, doc_path, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, doc_path)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, path, data)
	if err != nil {
		return fmt.Errorf("put document %s/%s: %w", collection, path, err)
	}
	return nil
}

// PutIfAbsent inserts the document only if it does not already exist,
// returning created=false if a row was already present — the building
// block for "clip_id is deterministic; concurrent duplicate creation
// must be idempotent" (spec §3).
func (s *Store) PutIfAbsent(ctx context.Context, collection, path string, v interface{}) (created bool, err error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal document: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, doc_path, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, doc_path) DO NOTHING`,
		collection, path, data)
	if err != nil {
		return false, fmt.Errorf("put-if-absent document %s/%s: %w", collection, path, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateFields applies a partial update mask: only the named top-level
// JSON fields are replaced, the rest of the document is preserved.
// Mirrors the document store's "field-level updates" contract (spec
// §6.2) using Postgres's jsonb_set / || merge.
func (s *Store) UpdateFields(ctx context.Context, collection, path string, fields map[string]interface{}) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal update mask: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND doc_path = $2`,
		collection, path, patch)
	if err != nil {
		return fmt.Errorf("update document %s/%s: %w", collection, path, err)
	}
	if tag.RowsAffected() == 0 {
		// Masked update on a document that doesn't exist yet creates it,
		// matching typical document-store upsert-on-update semantics.
		return s.Put(ctx, collection, path, fields)
	}
	return nil
}

// Get fetches a document and unmarshals it into v. Returns
// pgx.ErrNoRows if absent.
func (s *Store) Get(ctx context.Context, collection, path string, v interface{}) error {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND doc_path = $2`,
		collection, path).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return err
		}
		return fmt.Errorf("get document %s/%s: %w", collection, path, err)
	}
	return json.Unmarshal(data, v)
}

// Exists reports whether a document is present.
func (s *Store) Exists(ctx context.Context, collection, path string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM documents WHERE collection = $1 AND doc_path = $2`,
		collection, path).Scan(&one)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("exists document %s/%s: %w", collection, path, err)
	}
	return true, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, path string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND doc_path = $2`, collection, path)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, path, err)
	}
	return nil
}

// RangeQuery is a composite-AND range query over a single JSON field
// with an ORDER BY and a LIMIT, matching the teacher's QueryEvents dynamic
// WHERE-clause builder generalised to arbitrary collections. It has no
// cursor or offset: List always returns the first Limit matches.
type RangeQuery struct {
	Collection   string
	TimeField    string // JSON field name holding a RFC3339 timestamp
	From, To     *time.Time
	Equals       map[string]string // field -> exact-match value (composite AND)
	Limit        int
	Descending   bool
}

// List runs a RangeQuery, returning raw JSON documents and the total
// count ignoring Limit (for pagination UIs).
func (s *Store) List(ctx context.Context, q RangeQuery) ([]json.RawMessage, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	where := "WHERE collection = $1"
	args := []interface{}{q.Collection}
	argIdx := 2

	if q.TimeField != "" && q.From != nil {
		where += fmt.Sprintf(" AND (data->>%s)::timestamptz >= $%d", quoteField(q.TimeField), argIdx)
		args = append(args, *q.From)
		argIdx++
	}
	if q.TimeField != "" && q.To != nil {
		where += fmt.Sprintf(" AND (data->>%s)::timestamptz <= $%d", quoteField(q.TimeField), argIdx)
		args = append(args, *q.To)
		argIdx++
	}
	for field, val := range q.Equals {
		where += fmt.Sprintf(" AND data->>%s = $%d", quoteField(field), argIdx)
		args = append(args, val)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM documents " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	orderBy := "updated_at"
	if q.TimeField != "" {
		orderBy = fmt.Sprintf("(data->>%s)::timestamptz", quoteField(q.TimeField))
	}
	query := fmt.Sprintf(
		"SELECT data FROM documents %s ORDER BY %s %s LIMIT $%d",
		where, orderBy, order, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data json.RawMessage
		if err := rows.Scan(&data); err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, data)
	}
	return out, total, nil
}

func quoteField(f string) string {
	return "'" + f + "'"
}

// IncrementCounters atomically applies increment-only deltas to a set of
// numeric top-level fields (spec §4.9's storage-accounting contract:
// "mutated via increment-only deltas"). Creates the document with the
// deltas as initial values if absent.
func (s *Store) IncrementCounters(ctx context.Context, collection, path string, deltas map[string]int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Seed an empty row first so the SELECT ... FOR UPDATE below always
	// has a row to lock; a concurrent first writer blocks on this insert.
	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (collection, doc_path, data, updated_at)
		VALUES ($1, $2, '{}', now())
		ON CONFLICT (collection, doc_path) DO NOTHING`,
		collection, path); err != nil {
		return fmt.Errorf("seed counters %s/%s: %w", collection, path, err)
	}

	var data []byte
	err = tx.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND doc_path = $2 FOR UPDATE`,
		collection, path).Scan(&data)
	current := map[string]int64{}
	if err != nil {
		if err != pgx.ErrNoRows {
			return fmt.Errorf("read counters %s/%s: %w", collection, path, err)
		}
	} else if err := json.Unmarshal(data, &current); err != nil {
		return fmt.Errorf("unmarshal counters %s/%s: %w", collection, path, err)
	}

	for k, delta := range deltas {
		current[k] += delta
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (collection, doc_path, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, doc_path)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, path, merged)
	if err != nil {
		return fmt.Errorf("write counters %s/%s: %w", collection, path, err)
	}
	return tx.Commit(ctx)
}
