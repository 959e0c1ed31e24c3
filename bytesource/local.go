package bytesource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Local serves containers from files under a local directory, memory
// mapping each file the first time it is requested and reusing the
// mapping for subsequent Get calls. Discard is a native seek (a bare
// cursor move; no data is read).
type Local struct {
	dir string

	mu     sync.Mutex
	opened map[string]*mmap.ReaderAt
}

// NewLocal returns a Source rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{dir: dir, opened: make(map[string]*mmap.ReaderAt)}
}

// Get implements Source.
func (l *Local) Get(name string) (ReadHandle, error) {
	r, err := l.open(name)
	if err != nil {
		return nil, err
	}
	return &localHandle{r: r}, nil
}

func (l *Local) open(name string) (*mmap.ReaderAt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.opened[name]; ok {
		return r, nil
	}
	path := filepath.Join(l.dir, filepath.FromSlash(name))
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}
	l.opened[name] = r
	adviseRandom(path)
	klog.V(5).Infof("bytesource: mapped %s (%d bytes)", path, r.Len())
	return r, nil
}

// adviseRandom hints to the kernel that path will be accessed at random
// offsets, as containers are, so it doesn't waste page cache on sequential
// readahead. Best-effort: a failure here never affects correctness.
func adviseRandom(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
		klog.V(5).Infof("bytesource: fadvise %s: %v", path, err)
	}
}

// Close unmaps every container opened through l.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for name, r := range l.opened {
		if err := r.Close(); err != nil && first == nil {
			first = fmt.Errorf("bytesource: unmap %s: %w", name, err)
		}
	}
	l.opened = make(map[string]*mmap.ReaderAt)
	return first
}

type localHandle struct {
	r   *mmap.ReaderAt
	off int64
}

func (h *localHandle) Read(p []byte) (int, error) {
	size := int64(h.r.Len())
	if h.off >= size {
		return 0, io.EOF
	}
	if remaining := size - h.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := h.r.ReadAt(p, h.off)
	h.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (h *localHandle) Discard(n int64) error {
	if n < 0 {
		return fmt.Errorf("bytesource: negative discard %d", n)
	}
	if h.off+n > int64(h.r.Len()) {
		return io.ErrUnexpectedEOF
	}
	h.off += n
	return nil
}
