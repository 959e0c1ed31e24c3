package bytesource

import (
	"bytes"
	"fmt"
)

// InMemory serves containers from a fixed map of name to bytes. It exists
// for tests and for small embedded fixtures; production deployments use
// Local or HTTP.
type InMemory struct {
	files map[string][]byte
}

// NewInMemory returns a Source backed by files, which is retained (not
// copied); callers must not mutate the slices afterward.
func NewInMemory(files map[string][]byte) *InMemory {
	return &InMemory{files: files}
}

// Get implements Source.
func (s *InMemory) Get(name string) (ReadHandle, error) {
	data, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &inMemoryHandle{r: bytes.NewReader(data)}, nil
}

type inMemoryHandle struct {
	r *bytes.Reader
}

func (h *inMemoryHandle) Read(p []byte) (int, error) {
	return h.r.Read(p)
}

func (h *inMemoryHandle) Discard(n int64) error {
	if n < 0 {
		return fmt.Errorf("bytesource: negative discard %d", n)
	}
	if _, err := h.r.Seek(n, 1); err != nil {
		return err
	}
	return nil
}
