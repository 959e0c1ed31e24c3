package bytesource

import (
	"bytes"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/pobbin/bundle/internal/metrics"
)

// Cached layers a Cache in front of an upstream Source: a Get first
// consults the cache by name; on a miss it reads the whole container from
// upstream, populates the cache, and serves the freshly fetched bytes.
// Cache-write failures are logged and the data is still served directly
// from what was just fetched.
type Cached struct {
	upstream Source
	cache    Cache
}

// NewCached returns a Source that checks cache before falling through to
// upstream.
func NewCached(upstream Source, cache Cache) *Cached {
	return &Cached{upstream: upstream, cache: cache}
}

// Get implements Source.
func (c *Cached) Get(name string) (ReadHandle, error) {
	if data, ok, err := c.cache.Lookup(name); err != nil {
		return nil, fmt.Errorf("bytesource: cache lookup for %s: %w", name, err)
	} else if ok {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return &inMemoryHandle{r: bytes.NewReader(data)}, nil
	}
	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()

	handle, err := c.upstream.Get(name)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(handle)
	if err != nil {
		return nil, fmt.Errorf("bytesource: reading %s from upstream: %w", name, err)
	}

	if err := c.cache.Populate(name, data); err != nil {
		klog.Warningf("bytesource: cache populate for %s failed, serving it directly: %v", name, err)
	}
	return &inMemoryHandle{r: bytes.NewReader(data)}, nil
}
