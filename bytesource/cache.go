package bytesource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Cache stores whole container payloads keyed by container name, as a
// layer in front of an upstream Source. It is polymorphic over
// {lookup, populate}; InMemoryMap and OnDiskDir are the two variants.
type Cache interface {
	// Lookup returns the cached bytes for name, if present.
	Lookup(name string) (data []byte, ok bool, err error)

	// Populate records data under name. It must be atomic with respect to
	// concurrent Lookups: a reader must never observe a partially written
	// entry.
	Populate(name string, data []byte) error
}

// InMemoryMap is a Cache backed by a plain map, guarded by a mutex. Writes
// are atomic by construction (a single map assignment under lock).
type InMemoryMap struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemoryMap returns an empty InMemoryMap cache.
func NewInMemoryMap() *InMemoryMap {
	return &InMemoryMap{data: make(map[string][]byte)}
}

// Lookup implements Cache.
func (c *InMemoryMap) Lookup(name string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.data[name]
	return data, ok, nil
}

// Populate implements Cache.
func (c *InMemoryMap) Populate(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[name] = data
	return nil
}

// OnDiskDir is a Cache backed by files under a directory. The on-disk
// filename is derived from an xxhash of the container name rather than
// the name itself, since container names may contain path separators.
// Writes stage to a uniquely named temporary file and rename it into
// place, so a concurrent Lookup never observes a partially written entry.
// If the rename fails (some filesystems and container runtimes restrict
// cross-directory or cross-device renames), the data just written is
// still served: Populate remembers the staging path and Lookup reads it
// directly until a future Populate for the same name succeeds.
type OnDiskDir struct {
	dir string

	mu       sync.Mutex
	fallback map[string]string
}

// NewOnDiskDir returns a Cache rooted at dir. dir is created on first
// write if it does not already exist.
func NewOnDiskDir(dir string) *OnDiskDir {
	return &OnDiskDir{dir: dir, fallback: make(map[string]string)}
}

func (c *OnDiskDir) path(name string) string {
	h := xxhash.Sum64String(name)
	return filepath.Join(c.dir, fmt.Sprintf("%016x.cache", h))
}

// Lookup implements Cache.
func (c *OnDiskDir) Lookup(name string) ([]byte, bool, error) {
	c.mu.Lock()
	staging, hasFallback := c.fallback[name]
	c.mu.Unlock()
	if hasFallback {
		if data, err := os.ReadFile(staging); err == nil {
			return data, true, nil
		}
		klog.Warningf("bytesource: fallback staging file %s for %s is gone, falling back to the normal cache path", staging, name)
	}

	data, err := os.ReadFile(c.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("bytesource: reading cache entry for %s: %w", name, err)
	}
	return data, true, nil
}

// Populate implements Cache.
func (c *OnDiskDir) Populate(name string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("bytesource: creating cache dir %s: %w", c.dir, err)
	}
	staging := filepath.Join(c.dir, ".staging-"+uuid.NewString())
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return fmt.Errorf("bytesource: staging cache write for %s: %w", name, err)
	}

	if err := os.Rename(staging, c.path(name)); err != nil {
		klog.Warningf("bytesource: renaming staged cache file for %s failed (%v); serving it from %s until the next write", name, err, staging)
		c.mu.Lock()
		c.fallback[name] = staging
		c.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	delete(c.fallback, name)
	c.mu.Unlock()
	return nil
}
