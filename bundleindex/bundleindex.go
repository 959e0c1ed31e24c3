// Package bundleindex parses the master index bundle
// (Bundles2/_.index.bin): the list of known containers, the map from
// path hash to file location, and the lazily-decoded path-rep stream
// used to enumerate every logical path stored in the archive.
package bundleindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/pobbin/bundle/bytesource"
	"github.com/pobbin/bundle/container"
	"github.com/pobbin/bundle/hashing"
	"github.com/pobbin/bundle/oozcodec"
)

// sliceHandle adapts a plain byte slice to the Read+Discard interface the
// container codec expects, with Discard implemented as a native seek.
type sliceHandle struct {
	r *bytes.Reader
}

func newSliceHandle(b []byte) *sliceHandle {
	return &sliceHandle{r: bytes.NewReader(b)}
}

func (s *sliceHandle) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *sliceHandle) Discard(n int64) error {
	if n < 0 {
		return fmt.Errorf("bundleindex: negative discard %d", n)
	}
	_, err := s.r.Seek(n, io.SeekCurrent)
	return err
}

// indexContainerName is the well-known name of the master index, relative
// to a byte source rooted at the bundle directory.
const indexContainerName = "Bundles2/_.index.bin"

// ErrIndexMalformed is returned when the index payload's length-prefixed
// lists don't fit the declared counts.
var ErrIndexMalformed = errors.New("bundleindex: index malformed")

// containerEntry is one row of the index's containers table.
type containerEntry struct {
	Name         string
	UnpackedSize uint32
}

// fileRef locates one logical file's bytes inside a named container.
type fileRef struct {
	ContainerIndex uint32
	FileOffset     uint32
	FileSize       uint32
}

// pathRep describes one chunk of the path-rep command stream.
type pathRep struct {
	Hash                 uint64
	PayloadOffset        uint32
	PayloadSize          uint32
	PayloadRecursiveSize uint32
}

// Index is a parsed master index: ready for read_by_name lookups
// immediately, and able to lazily decompress and enumerate the full path
// list on first call to Files.
type Index struct {
	source   bytesource.Source
	codec    oozcodec.Decompressor
	strategy hashing.Strategy

	containers []containerEntry
	refs       map[uint64]fileRef
	reps       []pathRep

	payload        []byte
	residualOffset int

	innerOnce sync.Once
	inner     []byte
	innerErr  error
}

// Open decompresses and parses the master index from source.
func Open(source bytesource.Source, codec oozcodec.Decompressor, strategy hashing.Strategy) (*Index, error) {
	handle, err := source.Get(indexContainerName)
	if err != nil {
		return nil, fmt.Errorf("bundleindex: %w", err)
	}
	payload, err := container.Decompress(handle, codec, nil)
	if err != nil {
		return nil, fmt.Errorf("bundleindex: decompressing %s: %w", indexContainerName, err)
	}

	idx := &Index{source: source, codec: codec, strategy: strategy, payload: payload}
	if err := idx.parse(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) parse() error {
	data := idx.payload
	pos := 0

	readU32 := func() (uint32, error) {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("%w: truncated at offset %d", ErrIndexMalformed, pos)
		}
		v := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if pos+8 > len(data) {
			return 0, fmt.Errorf("%w: truncated at offset %d", ErrIndexMalformed, pos)
		}
		v := binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v, nil
	}

	nContainers, err := readU32()
	if err != nil {
		return err
	}
	idx.containers = make([]containerEntry, nContainers)
	for i := range idx.containers {
		nameLen, err := readU32()
		if err != nil {
			return err
		}
		if pos+int(nameLen) > len(data) {
			return fmt.Errorf("%w: container name truncated at offset %d", ErrIndexMalformed, pos)
		}
		name := string(data[pos : pos+int(nameLen)])
		pos += int(nameLen)
		unpackedSize, err := readU32()
		if err != nil {
			return err
		}
		idx.containers[i] = containerEntry{Name: name, UnpackedSize: unpackedSize}
	}

	nFiles, err := readU32()
	if err != nil {
		return err
	}
	idx.refs = make(map[uint64]fileRef, nFiles)
	for i := uint32(0); i < nFiles; i++ {
		hash, err := readU64()
		if err != nil {
			return err
		}
		containerIndex, err := readU32()
		if err != nil {
			return err
		}
		fileOffset, err := readU32()
		if err != nil {
			return err
		}
		fileSize, err := readU32()
		if err != nil {
			return err
		}
		if int(containerIndex) >= len(idx.containers) {
			return fmt.Errorf("%w: file record %d references container %d, have %d containers", ErrIndexMalformed, i, containerIndex, len(idx.containers))
		}
		idx.refs[hash] = fileRef{ContainerIndex: containerIndex, FileOffset: fileOffset, FileSize: fileSize}
	}

	nPathReps, err := readU32()
	if err != nil {
		return err
	}
	idx.reps = make([]pathRep, nPathReps)
	for i := range idx.reps {
		hash, err := readU64()
		if err != nil {
			return err
		}
		payloadOffset, err := readU32()
		if err != nil {
			return err
		}
		payloadSize, err := readU32()
		if err != nil {
			return err
		}
		payloadRecursiveSize, err := readU32()
		if err != nil {
			return err
		}
		idx.reps[i] = pathRep{
			Hash:                 hash,
			PayloadOffset:        payloadOffset,
			PayloadSize:          payloadSize,
			PayloadRecursiveSize: payloadRecursiveSize,
		}
	}

	idx.residualOffset = pos
	return nil
}

// ReadByName hashes name under the index's configured strategy, resolves
// it to a container byte range, and returns the decompressed bytes. A
// false second return (with a nil error) means the name has no entry in
// the index.
func (idx *Index) ReadByName(name string) ([]byte, bool, error) {
	hash := hashing.Hash(idx.strategy, name)
	ref, ok := idx.refs[hash]
	if !ok {
		return nil, false, nil
	}

	entry := idx.containers[ref.ContainerIndex]
	containerName := fmt.Sprintf("Bundles2/%s.bundle.bin", entry.Name)
	handle, err := idx.source.Get(containerName)
	if err != nil {
		return nil, false, fmt.Errorf("bundleindex: %s: %w", containerName, err)
	}

	rng := &container.Range{Off: int64(ref.FileOffset), Len: int64(ref.FileSize)}
	data, err := container.Decompress(handle, idx.codec, rng)
	if err != nil {
		return nil, false, fmt.Errorf("bundleindex: decompressing %s from %s: %w", name, containerName, err)
	}
	return data, true, nil
}

// decompressInner decompresses the trailing path-rep payload the first
// time it is needed and memoizes the result.
func (idx *Index) decompressInner() ([]byte, error) {
	idx.innerOnce.Do(func() {
		r := newSliceHandle(idx.payload[idx.residualOffset:])
		idx.inner, idx.innerErr = container.Decompress(r, idx.codec, nil)
	})
	return idx.inner, idx.innerErr
}

// Files returns a lazy, single-pass sequence of every logical path
// recorded by the index's path-rep blocks. Paths are yielded in stored
// order, neither sorted nor de-duplicated; a path-rep producer that
// emitted duplicates has them surface as-is.
func (idx *Index) Files() (iter.Seq[string], error) {
	data, err := idx.decompressInner()
	if err != nil {
		return nil, err
	}
	reps := idx.reps
	return func(yield func(string) bool) {
		for _, rep := range reps {
			if !iterateRep(data, rep, yield) {
				return
			}
		}
	}, nil
}

// iterateRep runs the base/emit command-stream state machine over one
// path-rep's payload slice, calling yield for each emitted path. It
// returns false if yield asked to stop.
func iterateRep(data []byte, rep pathRep, yield func(string) bool) bool {
	start := int(rep.PayloadOffset)
	end := start + int(rep.PayloadSize)
	if start < 0 || end > len(data) || start > end {
		return true
	}
	slice := data[start:end]

	// Each rep starts in the emit phase; the first cmd==0 toggle flips
	// it into base accumulation.
	basePhase := false
	var bases []string

	for len(slice) >= 4 {
		cmd := binary.LittleEndian.Uint32(slice[:4])
		slice = slice[4:]

		if cmd == 0 {
			basePhase = !basePhase
			if basePhase {
				bases = bases[:0]
			}
			continue
		}

		nul := strings.IndexByte(string(slice), 0)
		if nul < 0 {
			return true
		}
		s := string(slice[:nul])
		slice = slice[nul+1:]

		if i := int(cmd - 1); i < len(bases) {
			s = bases[i] + s
		}

		if basePhase {
			bases = append(bases, s)
		} else {
			if !yield(s) {
				return false
			}
		}
	}
	return true
}
