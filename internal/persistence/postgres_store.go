package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ctxcore/internal/store"
)

// PostgresStore implements store.PageStore over a single pages table,
// keyed by (session_id, page_id). Schema creation happens once on
// construction, the same best-effort CREATE-TABLE-IF-NOT-EXISTS style
// the teacher's vector/search/graph stores use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against dsn with the package's
// conservative defaults and ensures the pages table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := newPgPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pages (
  session_id TEXT NOT NULL,
  page_id TEXT NOT NULL,
  label TEXT NOT NULL,
  lane TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  message_count INT NOT NULL,
  estimated_tokens INT NOT NULL,
  summary TEXT NOT NULL,
  content TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  max_importance DOUBLE PRECISION NOT NULL,
  pinned BOOLEAN NOT NULL DEFAULT false,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (session_id, page_id)
);
`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: create pages table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (p *PostgresStore) Close() { p.pool.Close() }

func (p *PostgresStore) SavePage(ctx context.Context, sessionID string, pg store.Page) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO pages (session_id, page_id, label, lane, created_at, message_count, estimated_tokens, summary, content, content_hash, max_importance, pinned, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
ON CONFLICT (session_id, page_id) DO UPDATE SET
  label=EXCLUDED.label, lane=EXCLUDED.lane, message_count=EXCLUDED.message_count,
  estimated_tokens=EXCLUDED.estimated_tokens, summary=EXCLUDED.summary, content=EXCLUDED.content,
  content_hash=EXCLUDED.content_hash, max_importance=EXCLUDED.max_importance, pinned=EXCLUDED.pinned,
  updated_at=now()
`, sessionID, pg.ID, pg.Label, pg.Lane, pg.CreatedAt, pg.MessageCount, pg.EstimatedTokens,
		pg.Summary, pg.Content, pg.ContentHash, pg.MaxImportance, pg.Pinned)
	if err != nil {
		return fmt.Errorf("persistence: save page %s: %w", pg.ID, err)
	}
	return nil
}

func (p *PostgresStore) LoadPage(ctx context.Context, sessionID, pageID string) (store.Page, error) {
	row := p.pool.QueryRow(ctx, `
SELECT page_id, label, lane, created_at, message_count, estimated_tokens, summary, content, content_hash, max_importance, pinned
FROM pages WHERE session_id=$1 AND page_id=$2
`, sessionID, pageID)
	var pg store.Page
	err := row.Scan(&pg.ID, &pg.Label, &pg.Lane, &pg.CreatedAt, &pg.MessageCount, &pg.EstimatedTokens,
		&pg.Summary, &pg.Content, &pg.ContentHash, &pg.MaxImportance, &pg.Pinned)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.Page{}, fmt.Errorf("persistence: page %s not found", pageID)
		}
		return store.Page{}, fmt.Errorf("persistence: load page %s: %w", pageID, err)
	}
	return pg, nil
}

func (p *PostgresStore) DeletePage(ctx context.Context, sessionID, pageID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM pages WHERE session_id=$1 AND page_id=$2`, sessionID, pageID)
	if err != nil {
		return fmt.Errorf("persistence: delete page %s: %w", pageID, err)
	}
	return nil
}

func (p *PostgresStore) ListPageIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT page_id FROM pages WHERE session_id=$1 ORDER BY page_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list pages: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PageModTime satisfies retrieval.StatProvider using the row's
// updated_at column, letting the batch re-summarizer's freshness
// re-check work against Postgres the same way it does against files.
func (p *PostgresStore) PageModTime(ctx context.Context, sessionID, pageID string) (time.Time, error) {
	row := p.pool.QueryRow(ctx, `SELECT updated_at FROM pages WHERE session_id=$1 AND page_id=$2`, sessionID, pageID)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("persistence: stat page %s: %w", pageID, err)
	}
	return t, nil
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
