package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskCache is a process-wide, on-disk TTL cache keyed by
// (resolver-name, normalized request), per spec.md §4.10. Reads never
// block each other; writes to the same key are serialized through a
// per-instance mutex — spec.md §5's "concurrent reads unlocked, writes
// serialized per cache-key" resolver-cache note. No third-party on-disk
// cache library appears anywhere in the retrieval pack (see DESIGN.md), so
// this is a small, direct file-per-key implementation on the standard
// library.
type DiskCache struct {
	dir string
	ttl time.Duration
	mu  sync.Mutex
}

type cacheEntry struct {
	StoredAt time.Time `json:"stored_at"`
	Response *Response `json:"response"`
}

// NewDiskCache creates a cache rooted at dir with the given TTL. dir is
// created if it does not already exist.
func NewDiskCache(dir string, ttl time.Duration) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir, ttl: ttl}, nil
}

func (c *DiskCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get returns a cached Response for key if present and not expired.
func (c *DiskCache) Get(key string) (*Response, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.StoredAt) > c.ttl {
		return nil, false
	}
	return entry.Response, true
}

// Set stores resp under key, overwriting any prior entry.
func (c *DiskCache) Set(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{StoredAt: time.Now(), Response: resp}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.path(key), data, 0o644)
}
