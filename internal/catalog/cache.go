package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache stores normalized catalog payloads as per-ASIN JSON files with a
// TTL read off the file mtime. Error responses are never written, so a
// cache hit is always a previously-good payload.
type Cache struct {
	dir string
	ttl time.Duration
}

// NewCache creates a cache under dir with the given TTL. A zero TTL means
// entries never expire.
func NewCache(dir string, ttl time.Duration) *Cache {
	return &Cache{dir: dir, ttl: ttl}
}

// path builds the cache file name: <source>_<kind>_<ASIN>.json.
func (c *Cache) path(source, kind, asin string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s_%s.json", source, kind, asin))
}

// Get returns the cached payload if present and fresh.
func (c *Cache) Get(source, kind, asin string) ([]byte, bool) {
	path := c.path(source, kind, asin)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put writes a payload. Failures are returned but callers treat them as
// warnings: a broken cache never blocks metadata enrichment.
func (c *Cache) Put(source, kind, asin string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return os.WriteFile(c.path(source, kind, asin), data, 0o644)
}
