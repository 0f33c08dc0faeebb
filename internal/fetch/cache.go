package fetch

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const cacheSchema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS pages (
    key        TEXT PRIMARY KEY,
    identifier TEXT NOT NULL,
    text       TEXT NOT NULL,
    fetched_at INTEGER NOT NULL
);
`

// Cache stores extracted page text in SQLite so resumed or retried runs do
// not re-scrape sites fetched within the TTL.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

func cacheKey(identifier string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(identifier)))
}

// Get returns cached text for identifier when present and not expired.
func (c *Cache) Get(identifier string) (string, bool) {
	var text string
	var fetchedAt int64
	err := c.db.QueryRow(
		"SELECT text, fetched_at FROM pages WHERE key = ?",
		cacheKey(identifier),
	).Scan(&text, &fetchedAt)
	if err != nil {
		return "", false
	}
	if c.ttl > 0 && time.Since(time.Unix(fetchedAt, 0)) > c.ttl {
		return "", false
	}
	return text, true
}

func (c *Cache) Put(identifier, text string) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO pages (key, identifier, text, fetched_at) VALUES (?, ?, ?, ?)",
		cacheKey(identifier), identifier, text, time.Now().Unix(),
	)
	return err
}

func (c *Cache) Close() error {
	return c.db.Close()
}
