package bytesource

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goware/urlx"
	"github.com/klauspost/compress/gzhttp"

	"github.com/pobbin/bundle/internal/metrics"
	"github.com/pobbin/bundle/internal/rangecache"
)

var (
	// DefaultMaxConnsPerHost is the maximum number of connections per host
	// in the pool shared by every container fetched from one HTTP source.
	DefaultMaxConnsPerHost = 512

	// DefaultMaxIdleConnsPerHost is the maximum number of idle (keep-alive)
	// connections per host.
	DefaultMaxIdleConnsPerHost = 128

	// DefaultKeepAlive is the keep-alive period for connections to the
	// remote bundle host.
	DefaultKeepAlive = 90 * time.Second

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultRangeCacheBudget bounds the in-memory range cache kept per
	// container, in bytes.
	DefaultRangeCacheBudget int64 = 64 << 20
)

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		IdleConnTimeout:     time.Minute,
		MaxConnsPerHost:     DefaultMaxConnsPerHost,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		Proxy:               http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// newHTTPClient returns a Client safe for concurrent use by multiple
// goroutines, with gzip-transparent decompression of the transport
// responses that are gzip-encoded in flight (distinct from the bundle's
// own Ooz/Kraken-compressed payload, which travels as opaque bytes).
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: gzhttp.Transport(newHTTPTransport()),
	}
}

// HTTP serves containers living at baseURL+"/"+name over ranged GET
// requests. Each container's total size is discovered once (HEAD, falling
// back to a single-byte "bytes=0-0" Range GET) and memoized; subsequent reads are
// served through a bounded per-container range cache so two overlapping
// reads of the same container don't refetch bytes already seen.
type HTTP struct {
	baseURL string
	client  *http.Client

	mu     sync.Mutex
	caches map[string]*rangecache.RangeCache
}

// NewHTTP validates baseURL and returns an HTTP-backed Source.
func NewHTTP(baseURL string) (*HTTP, error) {
	if _, err := urlx.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bytesource: invalid base URL %q: %w", baseURL, err)
	}
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &HTTP{
		baseURL: baseURL,
		client:  newHTTPClient(),
		caches:  make(map[string]*rangecache.RangeCache),
	}, nil
}

// Get implements Source.
func (h *HTTP) Get(name string) (ReadHandle, error) {
	cache, err := h.cacheFor(name)
	if err != nil {
		return nil, err
	}
	return &httpHandle{ctx: context.Background(), cache: cache}, nil
}

// Close releases idle connections held by the underlying client.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTP) cacheFor(name string) (*rangecache.RangeCache, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.caches[name]; ok {
		return c, nil
	}

	url := h.baseURL + "/" + name
	size, err := h.contentSize(context.Background(), url)
	if err != nil {
		return nil, fmt.Errorf("bytesource: %s: %w", name, err)
	}
	if size == 0 {
		return nil, fmt.Errorf("bytesource: %s: empty or missing Content-Length", name)
	}

	fetcher := func(p []byte, off int64) (int, error) {
		return h.rangeRead(context.Background(), url, p, off)
	}
	c := rangecache.NewRangeCache(size, name, fetcher, DefaultRangeCacheBudget)
	h.caches[name] = c
	return c, nil
}

func retryExponentialBackoff(ctx context.Context, start time.Duration, maxRetries int, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(start):
			start *= 2
		}
	}
	return fmt.Errorf("failed after %d retries; last error: %w", maxRetries, err)
}

func (h *HTTP) rangeRead(ctx context.Context, url string, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Connection", "keep-alive")
	end := off + int64(len(p)) - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	var resp *http.Response
	err = retryExponentialBackoff(ctx, 100*time.Millisecond, 3, func() error {
		resp, err = h.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
			metrics.RemoteHTTPRequestsTotal.WithLabelValues(http.MethodGet, strconv.Itoa(resp.StatusCode)).Inc()
			resp.Body.Close()
			return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.RemoteHTTPRequestsTotal.WithLabelValues(http.MethodGet, strconv.Itoa(resp.StatusCode)).Inc()
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, p)
	if err != nil {
		return n, fmt.Errorf("reading range bytes=%d-%d from %s: %w", off, end, url, err)
	}
	return n, nil
}

// contentSize determines the size of the remote container using HEAD,
// falling back to a single-byte "bytes=0-0" Range GET for origins that
// reject HEAD.
func (h *HTTP) contentSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	if resp, err := h.client.Do(req); err == nil {
		metrics.RemoteHTTPRequestsTotal.WithLabelValues(http.MethodHead, strconv.Itoa(resp.StatusCode)).Inc()
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			return resp.ContentLength, nil
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	metrics.RemoteHTTPRequestsTotal.WithLabelValues(http.MethodGet, strconv.Itoa(resp.StatusCode)).Inc()
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return resp.ContentLength, nil
	}
	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("unexpected status %d during size check for %s", resp.StatusCode, url)
	}

	contentRange := resp.Header.Get("Content-Range")
	slash := -1
	for i := len(contentRange) - 1; i >= 0; i-- {
		if contentRange[i] == '/' {
			slash = i
			break
		}
	}
	if slash < 0 || slash == len(contentRange)-1 {
		return 0, fmt.Errorf("invalid Content-Range %q for %s", contentRange, url)
	}
	total, err := strconv.ParseInt(contentRange[slash+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing Content-Range %q for %s: %w", contentRange, url, err)
	}
	return total, nil
}

type httpHandle struct {
	ctx   context.Context
	cache *rangecache.RangeCache
	off   int64
}

func (h *httpHandle) Read(p []byte) (int, error) {
	size := h.cache.Size()
	if h.off >= size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if remaining := size - h.off; n > remaining {
		n = remaining
	}
	data, err := h.cache.GetRange(h.ctx, h.off, n)
	if err != nil {
		return 0, err
	}
	copy(p, data)
	h.off += int64(len(data))
	return len(data), nil
}

func (h *httpHandle) Discard(n int64) error {
	if n < 0 {
		return fmt.Errorf("bytesource: negative discard %d", n)
	}
	h.off += n
	if h.off > h.cache.Size() {
		return io.ErrUnexpectedEOF
	}
	return nil
}
