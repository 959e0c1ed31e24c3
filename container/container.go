// Package container implements the chunked, independently-compressed
// container format bundle files are stored in: a fixed 60-byte header, a
// table of per-chunk compressed sizes, then the compressed payload itself.
// Decompress serves an arbitrary byte range by decompressing only the
// chunks that cover it.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pobbin/bundle/internal/metrics"
	"github.com/pobbin/bundle/oozcodec"
)

// headerSize is the fixed prefix every container begins with, before the
// per-chunk size table.
const headerSize = 60

// ErrShortHeader is returned when fewer than headerSize bytes, or fewer
// than chunk_count*4 chunk-size bytes, are available from the source.
var ErrShortHeader = errors.New("container: short header")

// ErrHeaderInconsistent is returned when the declared chunk sizes don't
// add up to the declared compressed size.
var ErrHeaderInconsistent = errors.New("container: header inconsistent")

// ErrRangeOutOfBounds is returned when the requested range exceeds the
// container's uncompressed size.
var ErrRangeOutOfBounds = errors.New("container: range out of bounds")

// CodecFailureError wraps a negative status from the underlying
// decompressor, identifying which chunk failed.
type CodecFailureError struct {
	Chunk int
	Err   error
}

func (e *CodecFailureError) Error() string {
	return fmt.Sprintf("container: chunk %d: %v", e.Chunk, e.Err)
}

func (e *CodecFailureError) Unwrap() error { return e.Err }

// Header is the fixed 60-byte prefix of a container, plus the chunk-size
// table that immediately follows it.
type Header struct {
	UncompressedSize   uint32
	TotalPayloadSize   uint32
	FirstFileEncode    uint32
	UncompressedSize64 uint64
	CompressedSize64   uint64
	ChunkCount         uint32
	ChunkUnpackedSize  uint32

	ChunkSizes []uint32
}

// reader is the minimal surface Decompress needs from a byte source
// handle: sequential Read plus a forward-only Discard.
type reader interface {
	io.Reader
	Discard(n int64) error
}

// ReadHeader parses the fixed header and chunk-size table from the start
// of src.
func ReadHeader(src reader) (Header, error) {
	var h Header
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(src, buf); err != nil {
		return h, fmt.Errorf("%w: %v", ErrShortHeader, err)
	}

	h.UncompressedSize = binary.LittleEndian.Uint32(buf[0:4])
	h.TotalPayloadSize = binary.LittleEndian.Uint32(buf[4:8])
	// buf[8:12] reserved
	h.FirstFileEncode = binary.LittleEndian.Uint32(buf[12:16])
	// buf[16:20] reserved
	h.UncompressedSize64 = binary.LittleEndian.Uint64(buf[20:28])
	h.CompressedSize64 = binary.LittleEndian.Uint64(buf[28:36])
	h.ChunkCount = binary.LittleEndian.Uint32(buf[36:40])
	h.ChunkUnpackedSize = binary.LittleEndian.Uint32(buf[40:44])
	// buf[44:60] reserved

	sizesBuf := make([]byte, 4*int(h.ChunkCount))
	if _, err := io.ReadFull(src, sizesBuf); err != nil {
		return h, fmt.Errorf("%w: chunk size table: %v", ErrShortHeader, err)
	}
	h.ChunkSizes = make([]uint32, h.ChunkCount)
	var sum uint64
	for i := range h.ChunkSizes {
		v := binary.LittleEndian.Uint32(sizesBuf[i*4 : i*4+4])
		h.ChunkSizes[i] = v
		sum += uint64(v)
	}
	if sum != h.CompressedSize64 {
		return h, fmt.Errorf("%w: chunk sizes sum to %d, header declares compressed_size64=%d", ErrHeaderInconsistent, sum, h.CompressedSize64)
	}
	return h, nil
}

// Range is a half-open byte range [Off, Off+Len) within a container's
// uncompressed content.
type Range struct {
	Off int64
	Len int64
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Decompress decompresses src (positioned at the start of a container)
// and returns the bytes in rng. A nil rng means the whole container.
// Only the chunks covering rng are decompressed; preceding compressed
// bytes are skipped with Discard.
func Decompress(src reader, codec oozcodec.Decompressor, rng *Range) ([]byte, error) {
	out, err := decompress(src, codec, rng)
	if err != nil {
		metrics.DecompressRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.DecompressRequestsTotal.WithLabelValues("ok").Inc()
	metrics.DecompressedBytesTotal.Add(float64(len(out)))
	return out, nil
}

func decompress(src reader, codec oozcodec.Decompressor, rng *Range) ([]byte, error) {
	h, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}

	uncompressedSize := int64(h.UncompressedSize64)
	r := Range{Off: 0, Len: uncompressedSize}
	if rng != nil {
		r = *rng
	}
	if r.Off < 0 || r.Len < 0 || r.Off+r.Len > uncompressedSize {
		return nil, fmt.Errorf("%w: [%d, %d) exceeds uncompressed size %d", ErrRangeOutOfBounds, r.Off, r.Off+r.Len, uncompressedSize)
	}
	if r.Len == 0 {
		return []byte{}, nil
	}

	chunkSize := int64(h.ChunkUnpackedSize)
	first := r.Off / chunkSize
	last := ceilDiv(r.Off+r.Len, chunkSize)

	var skip int64
	for i := int64(0); i < first; i++ {
		skip += int64(h.ChunkSizes[i])
	}
	if skip > 0 {
		if err := src.Discard(skip); err != nil {
			return nil, fmt.Errorf("container: discarding %d preceding compressed bytes: %w", skip, err)
		}
	}

	var produced int64
	for i := first; i < last; i++ {
		produced += thisChunkUnpacked(i, chunkSize, uncompressedSize)
	}
	out := make([]byte, produced)

	var outOff int64
	for i := first; i < last; i++ {
		packedSize := h.ChunkSizes[i]
		packed := make([]byte, packedSize)
		if _, err := io.ReadFull(src, packed); err != nil {
			return nil, fmt.Errorf("container: reading compressed chunk %d (%d bytes): %w", i, packedSize, err)
		}

		thisUnpacked := thisChunkUnpacked(i, chunkSize, uncompressedSize)
		decoded, err := codec.Decompress(packed, int(thisUnpacked))
		if err != nil {
			return nil, &CodecFailureError{Chunk: int(i), Err: err}
		}
		if int64(len(decoded)) != thisUnpacked {
			return nil, &CodecFailureError{Chunk: int(i), Err: fmt.Errorf("produced %d bytes, want %d", len(decoded), thisUnpacked)}
		}
		copy(out[outOff:], decoded)
		outOff += thisUnpacked
	}

	shift := r.Off - first*chunkSize
	if shift > 0 || r.Len < produced {
		copy(out, out[shift:shift+r.Len])
		out = out[:r.Len]
	}
	return out, nil
}

func thisChunkUnpacked(i, chunkUnpackedSize, uncompressedSize int64) int64 {
	remaining := uncompressedSize - i*chunkUnpackedSize
	if remaining < chunkUnpackedSize {
		return remaining
	}
	return chunkUnpackedSize
}
