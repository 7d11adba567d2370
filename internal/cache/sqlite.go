package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	// pure-Go sqlite driver
	_ "modernc.org/sqlite"

	"github.com/sevigo/pr-warden/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS pass1_cache (
	cache_key     TEXT PRIMARY KEY,
	raw_findings  TEXT NOT NULL,
	findings_json TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	hit_count     INTEGER NOT NULL DEFAULT 0
);`

// sqliteCache stores pass-1 records in a sqlite file. The database and its
// parent directory are created lazily on the first successful write, so a
// read-only run never touches the filesystem.
type sqliteCache struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteCache creates an advisory cache at path (e.g.
// ~/.pr-warden/cache.db). The file is not opened until first use.
func NewSQLiteCache(path string, logger *slog.Logger) ResultCache {
	return &sqliteCache{path: path, logger: logger}
}

// open lazily opens (and on create, migrates) the database. Callers hold mu.
func (c *sqliteCache) open(create bool) *sql.DB {
	if c.db != nil {
		return c.db
	}
	if !create {
		if _, err := os.Stat(c.path); err != nil {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		c.logger.Debug("cache directory create failed", "error", err)
		return nil
	}
	db, err := sql.Open("sqlite", c.path)
	if err != nil {
		c.logger.Debug("cache open failed", "error", err)
		return nil
	}
	if _, err := db.Exec(schema); err != nil {
		c.logger.Debug("cache schema apply failed", "error", err)
		_ = db.Close()
		return nil
	}
	c.db = db
	return c.db
}

func (c *sqliteCache) Get(ctx context.Context, key string) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	db := c.open(false)
	if db == nil {
		return nil
	}

	var rec Record
	var findingsJSON string
	err := db.QueryRowContext(ctx,
		`SELECT raw_findings, findings_json, input_tokens, output_tokens, created_at, hit_count
		 FROM pass1_cache WHERE cache_key = ?`, key,
	).Scan(&rec.RawFindings, &findingsJSON, &rec.InputTokens, &rec.OutputTokens, &rec.CreatedAt, &rec.HitCount)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Debug("cache read failed, treating as miss", "error", err)
		}
		return nil
	}

	var findings []core.Finding
	if err := json.Unmarshal([]byte(findingsJSON), &findings); err != nil {
		c.logger.Debug("cache record corrupt, treating as miss", "error", err)
		return nil
	}
	rec.Findings = findings

	rec.HitCount++
	if _, err := db.ExecContext(ctx,
		`UPDATE pass1_cache SET hit_count = hit_count + 1 WHERE cache_key = ?`, key); err != nil {
		c.logger.Debug("cache hit count update failed", "error", err)
	}
	return &rec
}

func (c *sqliteCache) Set(ctx context.Context, key string, rec *Record) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	db := c.open(true)
	if db == nil {
		return
	}

	findingsJSON, err := json.Marshal(rec.Findings)
	if err != nil {
		c.logger.Debug("cache record marshal failed", "error", err)
		return
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO pass1_cache (cache_key, raw_findings, findings_json, input_tokens, output_tokens, created_at, hit_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   raw_findings = excluded.raw_findings,
		   findings_json = excluded.findings_json,
		   input_tokens = excluded.input_tokens,
		   output_tokens = excluded.output_tokens,
		   created_at = excluded.created_at`,
		key, rec.RawFindings, string(findingsJSON), rec.InputTokens, rec.OutputTokens, createdAt)
	if err != nil {
		c.logger.Debug("cache write failed", "error", err)
	}
}

func (c *sqliteCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	db := c.open(false)
	if db == nil {
		return
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM pass1_cache`); err != nil {
		c.logger.Debug("cache clear failed", "error", err)
	}
}
