// Package cache implements the client-side content cache: a content
// store keyed by logical file path, with a per-entry validation time and
// last-known server modification time (spec §3, §4.3).
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry mirrors spec §3's CacheEntry. Bytes holds the full cached file
// content; ValidationTS is wall-clock time of the last confirmed-fresh
// check; ModificationTS is the server's mtime as of that check.
type Entry struct {
	Path           string
	Bytes          []byte
	ValidationTS   time.Time
	ModificationTS uint32
}

// Cache owns the in-memory table exclusively; no Entry is handed out, and
// Read returns a copy of the cached bytes. The in-memory table is
// authoritative for IsCached: an on-disk file with no in-memory record is
// treated as absent, same as the source client_cache.
type Cache struct {
	mu   sync.Mutex
	dir  string
	byPath map[string]*Entry
}

// New returns a Cache that mirrors cached content under dir.
func New(dir string) *Cache {
	return &Cache{
		dir:    dir,
		byPath: make(map[string]*Entry),
	}
}

func (c *Cache) fullPath(path string) string {
	return filepath.Join(c.dir, filepath.FromSlash(path))
}

// IsCached reports whether an in-memory entry exists for path.
func (c *Cache) IsCached(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.byPath[path]
	return ok
}

// Put overwrites any prior entry for path, writing bytes to the backing
// directory and recording validationTS/modificationTS.
func (c *Cache) Put(path string, bytes []byte, validationTS time.Time, modificationTS uint32) error {
	full := c.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(full, bytes, 0644); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPath[path] = &Entry{
		Path:           path,
		Bytes:          append([]byte(nil), bytes...),
		ValidationTS:   validationTS,
		ModificationTS: modificationTS,
	}
	return nil
}

// UpdateAfterWrite patches the on-disk and in-memory content at offset.
// It does NOT refresh ValidationTS/ModificationTS: a later freshness
// check must still consult the server, since the local patch doesn't
// tell us what mtime the server now reports (spec §4.3).
func (c *Cache) UpdateAfterWrite(path string, offset uint32, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byPath[path]
	if !ok {
		return fmt.Errorf("cache: update_after_write: %s is not cached", path)
	}

	end := int(offset) + len(content)
	if end > len(e.Bytes) {
		grown := make([]byte, end)
		copy(grown, e.Bytes)
		e.Bytes = grown
	}
	copy(e.Bytes[offset:], content)

	return c.writeThroughLocked(path, e.Bytes)
}

// UpdateAfterAppend appends to the on-disk and in-memory content. It does
// NOT refresh ValidationTS/ModificationTS, for the same reason as
// UpdateAfterWrite.
func (c *Cache) UpdateAfterAppend(path string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byPath[path]
	if !ok {
		return fmt.Errorf("cache: update_after_append: %s is not cached", path)
	}

	e.Bytes = append(e.Bytes, content...)
	return c.writeThroughLocked(path, e.Bytes)
}

// Replace swaps in content and a fresh modification timestamp, as done
// when an UpdateNotification arrives for a cached path (spec §4.4).
// ValidationTS is also refreshed: the notification confirms current
// server state.
func (c *Cache) Replace(path string, content []byte, modificationTS uint32, validationTS time.Time) error {
	return c.Put(path, content, validationTS, modificationTS)
}

func (c *Cache) writeThroughLocked(path string, content []byte) error {
	full := c.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0644)
}

// Read returns the cached content for path.
func (c *Cache) Read(path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byPath[path]
	if !ok {
		return nil, fmt.Errorf("cache: %s is not cached", path)
	}
	return append([]byte(nil), e.Bytes...), nil
}

// ValidationTS returns the last confirmed-fresh time for path.
func (c *Cache) ValidationTS(path string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byPath[path]
	if !ok {
		return time.Time{}, fmt.Errorf("cache: %s is not cached", path)
	}
	return e.ValidationTS, nil
}

// ModificationTS returns the last-known server mtime for path.
func (c *Cache) ModificationTS(path string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byPath[path]
	if !ok {
		return 0, fmt.Errorf("cache: %s is not cached", path)
	}
	return e.ModificationTS, nil
}

// Validate sets ValidationTS to now, without touching content or mtime:
// used when the server confirms its mtime still matches what we cached.
func (c *Cache) Validate(path string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byPath[path]
	if !ok {
		return fmt.Errorf("cache: %s is not cached", path)
	}
	e.ValidationTS = now
	return nil
}

// Remove deletes both the in-memory record and the on-disk file.
func (c *Cache) Remove(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byPath[path]; !ok {
		return nil
	}
	delete(c.byPath, path)

	full := c.fullPath(path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
