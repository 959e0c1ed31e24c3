package bytesource

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, h ReadHandle) []byte {
	t.Helper()
	data, err := io.ReadAll(h)
	require.NoError(t, err)
	return data
}

func TestInMemory_GetAndDiscard(t *testing.T) {
	src := NewInMemory(map[string][]byte{"a": []byte("hello world")})

	h, err := src.Get("a")
	require.NoError(t, err)
	require.NoError(t, h.Discard(6))
	require.Equal(t, []byte("world"), readAll(t, h))
}

func TestInMemory_NotFound(t *testing.T) {
	src := NewInMemory(map[string][]byte{})
	_, err := src.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemory_DiscardNegative(t *testing.T) {
	src := NewInMemory(map[string][]byte{"a": []byte("hello")})
	h, err := src.Get("a")
	require.NoError(t, err)
	require.Error(t, h.Discard(-1))
}

func TestLocal_GetAndDiscard(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container.bin"), []byte("0123456789"), 0o644))

	src := NewLocal(dir)
	h, err := src.Get("container.bin")
	require.NoError(t, err)
	require.NoError(t, h.Discard(3))
	require.Equal(t, []byte("3456789"), readAll(t, h))

	require.NoError(t, src.Close())
}

func TestLocal_CachesMapping(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("data"), 0o644))

	src := NewLocal(dir)
	h1, err := src.Get("a.bin")
	require.NoError(t, err)
	h2, err := src.Get("a.bin")
	require.NoError(t, err)

	require.Equal(t, []byte("data"), readAll(t, h1))
	require.Equal(t, []byte("data"), readAll(t, h2))
	require.NoError(t, src.Close())
}

func TestLocal_NotFound(t *testing.T) {
	src := NewLocal(t.TempDir())
	_, err := src.Get("nope.bin")
	require.ErrorIs(t, err, ErrNotFound)
}

type recordingCache struct {
	data        map[string][]byte
	lookups     int
	populations int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{data: make(map[string][]byte)}
}

func (c *recordingCache) Lookup(name string) ([]byte, bool, error) {
	c.lookups++
	data, ok := c.data[name]
	return data, ok, nil
}

func (c *recordingCache) Populate(name string, data []byte) error {
	c.populations++
	c.data[name] = data
	return nil
}

func TestCached_MissThenHit(t *testing.T) {
	upstream := NewInMemory(map[string][]byte{"a": []byte("payload")})
	cache := newRecordingCache()
	src := NewCached(upstream, cache)

	h, err := src.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), readAll(t, h))
	require.Equal(t, 1, cache.populations)

	h2, err := src.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), readAll(t, h2))
	require.Equal(t, 1, cache.populations, "second Get should be served from cache, not repopulate it")
}

func TestCached_UpstreamMissPropagates(t *testing.T) {
	upstream := NewInMemory(map[string][]byte{})
	src := NewCached(upstream, newRecordingCache())

	_, err := src.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryMap_LookupAndPopulate(t *testing.T) {
	cache := NewInMemoryMap()
	_, ok, err := cache.Lookup("a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Populate("a", []byte("x")))
	data, ok, err := cache.Lookup("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("x"), data)
}

func TestOnDiskDir_PopulateThenLookup(t *testing.T) {
	dir := t.TempDir()
	cache := NewOnDiskDir(dir)

	_, ok, err := cache.Lookup("a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Populate("a", []byte("payload")))
	data, ok, err := cache.Lookup("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(cache.path("a")), entries[0].Name())
}

func TestOnDiskDir_RenameFailureFallsBackToStaging(t *testing.T) {
	dir := t.TempDir()
	// Make the cache's destination path a directory, so the rename in
	// Populate fails and the staging-file fallback kicks in.
	cache := NewOnDiskDir(dir)
	destPath := cache.path("a")
	require.NoError(t, os.MkdirAll(destPath, 0o755))

	err := cache.Populate("a", []byte("payload"))
	require.NoError(t, err)

	data, ok, err := cache.Lookup("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), data)
}

func TestLocal_DiscardPastEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.bin"), []byte("abcdefgh"), 0o644))
	src := NewLocal(dir)
	h, err := src.Get("x.bin")
	require.NoError(t, err)

	require.Error(t, h.Discard(1000), "discarding past the end of the container is an error")
}
