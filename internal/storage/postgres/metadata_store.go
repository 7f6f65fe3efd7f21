// Package postgres provides the Postgres-backed metadata store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

// MetadataStoreConfig controls the Postgres connection pool.
type MetadataStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// MetadataStore persists url, page_scrape, and user_interaction rows.
//
// Expected schema:
//
//	CREATE TABLE url (
//		url_id  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
//		url     TEXT NOT NULL UNIQUE,
//		summary TEXT,
//		genre   TEXT
//	);
//	CREATE TABLE page_scrape (
//		url_id            BIGINT NOT NULL REFERENCES url (url_id),
//		scrape_at         TIMESTAMPTZ NOT NULL,
//		html_s3_ref       TEXT NOT NULL,
//		css_s3_ref        TEXT NOT NULL,
//		screenshot_s3_ref TEXT NOT NULL,
//		is_human          BOOLEAN NOT NULL,
//		genre             TEXT
//	);
//	CREATE TABLE interaction_type (
//		type_id SMALLINT PRIMARY KEY,
//		type    TEXT NOT NULL UNIQUE  -- 'visit' | 'save'
//	);
//	CREATE TABLE user_interaction (
//		url_id      BIGINT NOT NULL REFERENCES url (url_id),
//		type_id     SMALLINT NOT NULL REFERENCES interaction_type (type_id),
//		interact_at TIMESTAMPTZ NOT NULL
//	);
type MetadataStore struct {
	pool pgxPool
}

// NewMetadataStore connects a pool using the provided config.
func NewMetadataStore(ctx context.Context, cfg MetadataStoreConfig) (*MetadataStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", archive.ErrStoreUnavailable, err)
	}
	return &MetadataStore{pool: pool}, nil
}

// NewMetadataStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewMetadataStoreWithPool(pool pgxPool) (*MetadataStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MetadataStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *MetadataStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FindURLID resolves a URL string to its surrogate key.
func (s *MetadataStore) FindURLID(ctx context.Context, url string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT url_id FROM url WHERE url = $1`, url).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", archive.ErrUnknownURL, url)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: find url: %v", archive.ErrStoreUnavailable, err)
	}
	return id, nil
}

// InsertURL creates the url row if absent and returns the id either way.
// The unique constraint plus ON CONFLICT DO NOTHING makes the check-then-act
// sequence safe under concurrent first-time submissions: whichever insert
// loses the race becomes a no-op and the follow-up select observes the
// winner's row.
func (s *MetadataStore) InsertURL(ctx context.Context, url string, class archive.Classification) (int64, error) {
	_, err := s.pool.Exec(ctx, `
INSERT INTO url (url, summary, genre)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
ON CONFLICT (url) DO NOTHING`,
		url, class.Summary, class.Genre)
	if err != nil {
		return 0, fmt.Errorf("%w: insert url: %v", archive.ErrStoreUnavailable, err)
	}
	return s.FindURLID(ctx, url)
}

// BackfillClassification fills summary/genre only where currently NULL
// (first-write-wins).
func (s *MetadataStore) BackfillClassification(ctx context.Context, urlID int64, class archive.Classification) error {
	_, err := s.pool.Exec(ctx, `
UPDATE url
SET summary = COALESCE(summary, NULLIF($2, '')),
    genre   = COALESCE(genre, NULLIF($3, ''))
WHERE url_id = $1`,
		urlID, class.Summary, class.Genre)
	if err != nil {
		return fmt.Errorf("%w: backfill classification: %v", archive.ErrStoreUnavailable, err)
	}
	return nil
}

// InsertScrape appends one immutable capture row.
func (s *MetadataStore) InsertScrape(ctx context.Context, rec archive.ScrapeRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO page_scrape (url_id, scrape_at, html_s3_ref, css_s3_ref, screenshot_s3_ref, is_human, genre)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		rec.URLID, rec.ScrapeAt, rec.HTMLRef, rec.CSSRef, rec.ScreenshotRef, rec.Human, rec.Genre)
	if err != nil {
		return fmt.Errorf("%w: insert scrape: %v", archive.ErrStoreUnavailable, err)
	}
	return nil
}

// InsertInteraction appends a visit/save row via the interaction_type
// lookup table.
func (s *MetadataStore) InsertInteraction(ctx context.Context, urlID int64, kind archive.InteractionType, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", archive.ErrInvalidInteraction, kind)
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO user_interaction (url_id, type_id, interact_at)
SELECT $1, type_id, $2 FROM interaction_type WHERE type = $3`,
		urlID, at, string(kind))
	if err != nil {
		return fmt.Errorf("%w: insert interaction: %v", archive.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q missing from interaction_type", archive.ErrInvalidInteraction, kind)
	}
	return nil
}

// ScrapeRecords returns all scrapes for the URL, most recent first. The
// ctid tiebreak keeps insertion order for identical timestamps.
func (s *MetadataStore) ScrapeRecords(ctx context.Context, url string) ([]archive.ScrapeRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT ps.url_id, ps.scrape_at, ps.html_s3_ref, ps.css_s3_ref, ps.screenshot_s3_ref, ps.is_human, COALESCE(ps.genre, '')
FROM page_scrape ps
JOIN url u ON u.url_id = ps.url_id
WHERE u.url = $1
ORDER BY ps.scrape_at DESC, ps.ctid DESC`,
		url)
	if err != nil {
		return nil, fmt.Errorf("%w: query scrapes: %v", archive.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []archive.ScrapeRecord
	for rows.Next() {
		var rec archive.ScrapeRecord
		if err := rows.Scan(&rec.URLID, &rec.ScrapeAt, &rec.HTMLRef, &rec.CSSRef, &rec.ScreenshotRef, &rec.Human, &rec.Genre); err != nil {
			return nil, fmt.Errorf("%w: scan scrape: %v", archive.ErrStoreUnavailable, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read scrapes: %v", archive.ErrStoreUnavailable, err)
	}
	return records, nil
}

// InteractionCount counts interactions of one type for a URL.
func (s *MetadataStore) InteractionCount(ctx context.Context, url string, kind archive.InteractionType) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", archive.ErrInvalidInteraction, kind)
	}
	var n int64
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM user_interaction ui
JOIN url u ON u.url_id = ui.url_id
JOIN interaction_type it ON it.type_id = ui.type_id
WHERE u.url = $1 AND it.type = $2`,
		url, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count interactions: %v", archive.ErrStoreUnavailable, err)
	}
	return n, nil
}

// MostPopular ranks URLs by total interaction count, restricted to URLs
// with at least one human-submitted scrape.
func (s *MetadataStore) MostPopular(ctx context.Context, limit int) ([]archive.PopularURL, error) {
	rows, err := s.pool.Query(ctx, `
SELECT u.url, COUNT(ui.url_id) AS interactions
FROM url u
JOIN user_interaction ui ON ui.url_id = u.url_id
WHERE EXISTS (
	SELECT 1 FROM page_scrape ps WHERE ps.url_id = u.url_id AND ps.is_human
)
GROUP BY u.url
ORDER BY interactions DESC, u.url ASC
LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query popular urls: %v", archive.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var popular []archive.PopularURL
	for rows.Next() {
		var p archive.PopularURL
		if err := rows.Scan(&p.URL, &p.Interactions); err != nil {
			return nil, fmt.Errorf("%w: scan popular url: %v", archive.ErrStoreUnavailable, err)
		}
		popular = append(popular, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read popular urls: %v", archive.ErrStoreUnavailable, err)
	}
	return popular, nil
}

// KnownURLs returns the distinct URLs that have at least one scrape.
func (s *MetadataStore) KnownURLs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT u.url
FROM url u
JOIN page_scrape ps ON ps.url_id = u.url_id
ORDER BY u.url`)
	if err != nil {
		return nil, fmt.Errorf("%w: query known urls: %v", archive.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("%w: scan url: %v", archive.ErrStoreUnavailable, err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read known urls: %v", archive.ErrStoreUnavailable, err)
	}
	return urls, nil
}
