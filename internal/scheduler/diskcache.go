package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaennil/tilekit/pkg/logger"
	"github.com/jaennil/tilekit/pkg/metrics"
)

// Entry is the cache bookkeeping record for one tile fetched at least
// once. Entries are owned by the scheduler's tick goroutine and are
// never mutated concurrently.
type Entry struct {
	Key        string
	Size       int64
	LastAccess time.Time
	Location   string // file name inside the cache directory
	OnDisk     bool
	Failed     bool
}

// DiskCache tracks the on-disk tile files and their aggregate size
// against a byte budget. File reads and writes happen on worker
// goroutines; all bookkeeping mutation happens on the tick goroutine.
type DiskCache struct {
	dir     string
	budget  int64
	total   int64
	entries map[string]*Entry
	logger  logger.Logger
}

func OpenDiskCache(dir string, budget int64, l logger.Logger) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DiskCache{
		dir:     dir,
		budget:  budget,
		entries: make(map[string]*Entry),
		logger:  l,
	}, nil
}

// CacheFileName maps a tile key to a flat file name. Key segments are
// separated by '/', which is not filesystem-safe as-is.
func CacheFileName(key string) string {
	return strings.ReplaceAll(key, "/", "-") + ".tile"
}

// Path returns the absolute location of the cached file for a key.
// Pure over the cache directory, so out-of-band readers (the debug
// HTTP surface) can derive it without touching cache state.
func CachePath(dir, key string) string {
	return filepath.Join(dir, CacheFileName(key))
}

func (c *DiskCache) Dir() string {
	return c.dir
}

// OnDisk reports whether a completed disk write exists for the key.
func (c *DiskCache) OnDisk(key string) bool {
	e, ok := c.entries[key]
	return ok && e.OnDisk
}

// Touch refreshes the entry's last-access timestamp.
func (c *DiskCache) Touch(key string) {
	if e, ok := c.entries[key]; ok {
		e.LastAccess = time.Now()
	}
}

// Read loads the cached bytes for a key. Called from a worker
// goroutine: it only touches the filesystem, never the entry table.
func (c *DiskCache) Read(key string) ([]byte, error) {
	return os.ReadFile(CachePath(c.dir, key))
}

// Write persists tile bytes. Called from a worker goroutine.
func (c *DiskCache) Write(key string, data []byte) error {
	return os.WriteFile(CachePath(c.dir, key), data, 0o644)
}

// Record creates or refreshes the entry for a freshly fetched tile and
// accounts its size. The on-disk flag stays false until the async write
// completes.
func (c *DiskCache) Record(key string, size int64) *Entry {
	e, ok := c.entries[key]
	if ok {
		c.total += size - e.Size
		e.Size = size
		e.LastAccess = time.Now()
		e.Failed = false
		return e
	}
	e = &Entry{
		Key:        key,
		Size:       size,
		LastAccess: time.Now(),
		Location:   CacheFileName(key),
	}
	c.entries[key] = e
	c.total += size
	metrics.CacheSizeBytes.Set(float64(c.total))
	return e
}

// MarkOnDisk flips the entry's on-disk flag after its write completed.
// Returns false when the entry no longer exists, meaning it was evicted
// while the write was still pending.
func (c *DiskCache) MarkOnDisk(key string) bool {
	e, ok := c.entries[key]
	if ok {
		e.OnDisk = true
	}
	return ok
}

// RemoveFile deletes the cache file for a key without an entry, so a
// write that landed after its entry's eviction does not leak disk space.
func (c *DiskCache) RemoveFile(key string) {
	path := CachePath(c.dir, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove orphaned tile file", "path", path, "error", err)
	}
}

// InvalidateDisk clears the on-disk flag after a failed cache read, so
// the retry goes to the network.
func (c *DiskCache) InvalidateDisk(key string) {
	if e, ok := c.entries[key]; ok {
		e.OnDisk = false
	}
}

// MarkFailed records a terminal fetch failure on the entry.
func (c *DiskCache) MarkFailed(key string) {
	if e, ok := c.entries[key]; ok {
		e.Failed = true
	}
}

// Total returns the current aggregate size in bytes.
func (c *DiskCache) Total() int64 {
	return c.total
}

// Len returns the number of live entries.
func (c *DiskCache) Len() int {
	return len(c.entries)
}

// EvictOverBudget deletes least-recently-accessed entries until the
// aggregate size fits the budget, never evicting the excluded key (the
// entry just added). Returns the number of entries evicted.
func (c *DiskCache) EvictOverBudget(exclude string) int {
	evicted := 0
	for c.total > c.budget {
		victim := c.oldest(exclude)
		if victim == nil {
			break
		}
		c.evict(victim)
		evicted++
	}
	if evicted > 0 {
		metrics.CacheSizeBytes.Set(float64(c.total))
	}
	return evicted
}

func (c *DiskCache) oldest(exclude string) *Entry {
	var victim *Entry
	for _, e := range c.entries {
		if e.Key == exclude {
			continue
		}
		if victim == nil || e.LastAccess.Before(victim.LastAccess) {
			victim = e
		}
	}
	return victim
}

func (c *DiskCache) evict(e *Entry) {
	delete(c.entries, e.Key)
	c.total -= e.Size
	metrics.CacheEvictions.Inc()

	path := filepath.Join(c.dir, e.Location)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove evicted tile file", "path", path, "error", err)
	}

	c.logger.Debug("evicted cache entry", "key", e.Key, "size", e.Size, "total", c.total)
}

// Entries snapshots the current records for index persistence.
func (c *DiskCache) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Restore seeds the table from a persisted index, rebuilding the
// running total and LRU ordering.
func (c *DiskCache) Restore(entries []Entry) {
	for i := range entries {
		e := entries[i]
		c.entries[e.Key] = &e
		c.total += e.Size
	}
	metrics.CacheSizeBytes.Set(float64(c.total))
}
