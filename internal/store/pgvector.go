// Package store provides the pgvector-backed vector store.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"sitechat/internal/rag"
)

const undefinedTableCode = "42P01"

var validCollectionName = regexp.MustCompile(`^run_[a-z0-9_]+$`)

// Config controls the Postgres connection pool and vector schema.
type Config struct {
	DSN             string
	VectorDim       int
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// VectorStore keeps one Postgres table per run collection, with a pgvector
// column and an ivfflat cosine index.
type VectorStore struct {
	pool dbPool
	dim  int
}

// New connects a pool and constructs a VectorStore.
func New(ctx context.Context, cfg Config) (*VectorStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	if cfg.VectorDim <= 0 {
		cfg.VectorDim = 768
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	return &VectorStore{pool: pool, dim: cfg.VectorDim}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, dim int) (*VectorStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if dim <= 0 {
		dim = 768
	}
	return &VectorStore{pool: pool, dim: dim}, nil
}

// Close releases the underlying pool resources.
func (s *VectorStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *VectorStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection's table and index if missing.
func (s *VectorStore) EnsureCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	createTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT,
	content TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	embedding vector(%d)
)`, name, s.dim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	createIndex := fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS %s_embedding_idx
ON %s USING ivfflat (embedding vector_cosine_ops)
WITH (lists = 100)`, name, name)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("create index on %s: %w", name, err)
	}
	return nil
}

// DropCollection removes the collection's table. Dropping a collection that
// does not exist is a no-op.
func (s *VectorStore) DropCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes the chunk records into the collection in one transaction.
func (s *VectorStore) Upsert(ctx context.Context, collection string, records []rag.ChunkRecord) error {
	if err := checkName(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stmt := fmt.Sprintf(`
INSERT INTO %s (id, url, title, content, chunk_index, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	chunk_index = EXCLUDED.chunk_index,
	embedding = EXCLUDED.embedding`, collection)

	for _, rec := range records {
		if len(rec.Embedding) != s.dim {
			return fmt.Errorf("chunk %s: embedding dimension %d, want %d", rec.ID, len(rec.Embedding), s.dim)
		}
		_, err := tx.Exec(ctx, stmt,
			rec.ID,
			rec.URL,
			sanitizeUTF8(rec.Title),
			sanitizeUTF8(rec.Text),
			rec.Index,
			pgvector.NewVector(rec.Embedding),
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", rec.ID, wrapPgErr(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Search returns the top candidates by cosine similarity, best first. The
// score is 1 - cosine distance.
func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]rag.ScoredChunk, error) {
	if err := checkName(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`
SELECT id, url, title, content, chunk_index, 1 - (embedding <=> $1) AS score
FROM %s
ORDER BY embedding <=> $1
LIMIT $2`, collection)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []rag.ScoredChunk
	for rows.Next() {
		var c rag.ScoredChunk
		if err := rows.Scan(&c.ID, &c.URL, &c.Title, &c.Text, &c.Index, &c.Score); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candidates: %w", wrapPgErr(err))
	}
	return out, nil
}

// ListCollections returns the names of all run collections.
func (s *VectorStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename LIKE 'run\_%' ORDER BY tablename DESC`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read collections: %w", err)
	}
	return names, nil
}

func checkName(name string) error {
	if !validCollectionName.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

func wrapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode {
		return rag.ErrCollectionNotFound
	}
	return err
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
