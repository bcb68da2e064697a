// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newsdeck/hn-ingest/internal/hash/sha1"
	"github.com/newsdeck/hn-ingest/internal/ingest"
)

// StoryStoreConfig controls the Postgres connection pool.
type StoryStoreConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// StoryStore persists stories and articles. Both write paths are
// idempotent: stories on the external id, articles on the content hash.
type StoryStore struct {
	pool   pgxPool
	hasher *sha1.Hasher
}

// NewStoryStore creates a Postgres-backed StoryStore using the provided config.
func NewStoryStore(ctx context.Context, cfg StoryStoreConfig) (*StoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &StoryStore{pool: pool, hasher: sha1.New()}, nil
}

// NewStoryStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewStoryStoreWithPool(pool pgxPool) (*StoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StoryStore{pool: pool, hasher: sha1.New()}, nil
}

// Ping reports database reachability for readiness checks.
func (s *StoryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *StoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertStorySQL = `
INSERT INTO story (source, hn_id, title, url, domain, author, points, comments_count, created_at, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
ON CONFLICT (hn_id)
DO UPDATE SET
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	domain = EXCLUDED.domain,
	author = EXCLUDED.author,
	points = COALESCE(EXCLUDED.points, story.points),
	comments_count = COALESCE(EXCLUDED.comments_count, story.comments_count),
	created_at = LEAST(story.created_at, EXCLUDED.created_at),
	fetched_at = now()
RETURNING id`

// UpsertStory writes a normalized story row and returns its internal id.
// Re-upserting the same external id updates the mutable fields without
// creating a duplicate.
func (s *StoryStore) UpsertStory(ctx context.Context, fields ingest.StoryFields) (int64, error) {
	if fields.Title == "" {
		return 0, fmt.Errorf("story title is required")
	}
	source := fields.Source
	if source == "" {
		source = "hn"
	}
	var id int64
	err := s.pool.QueryRow(ctx, upsertStorySQL,
		source,
		fields.HNID,
		fields.Title,
		nullable(fields.URL),
		nullable(domainOf(fields.URL)),
		nullable(fields.Author),
		nullableInt(fields.Points),
		nullableInt(fields.Comments),
		fields.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert story hn_id=%d: %w", fields.HNID, err)
	}
	return id, nil
}

const insertArticleSQL = `
INSERT INTO article (language, html, text, word_count, content_hash)
VALUES ($1, NULL, $2, $3, $4)
ON CONFLICT (content_hash) DO UPDATE SET language = EXCLUDED.language
RETURNING id`

// CreateArticleForStory stores an article body keyed by its content hash
// and links it to the story. Identical bodies converge on one article row.
func (s *StoryStore) CreateArticleForStory(ctx context.Context, storyID int64, text string) (int64, error) {
	wordCount := len(strings.Fields(text))
	hash := s.hasher.ContentHash(text)

	var articleID int64
	if err := s.pool.QueryRow(ctx, insertArticleSQL, "en", text, wordCount, hash).Scan(&articleID); err != nil {
		return 0, fmt.Errorf("insert article for story %d: %w", storyID, err)
	}
	if _, err := s.pool.Exec(ctx, `UPDATE story SET article_id = $1 WHERE id = $2`, articleID, storyID); err != nil {
		return 0, fmt.Errorf("link article %d to story %d: %w", articleID, storyID, err)
	}
	return articleID, nil
}

// domainOf extracts the hostname, minus any www prefix, from a story URL.
func domainOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
