package oozcodec

import "fmt"

// Store is a null codec: it copies its input through unchanged. It
// satisfies the Decompressor contract (including the scratch
// over-allocation) and is useful for building deterministic test fixtures
// for the container and index-bundle framing, independent of the real Ooz
// primitive.
type Store struct{}

// Decompress implements Decompressor.
func (Store) Decompress(packed []byte, unpackedSize int) ([]byte, error) {
	if len(packed) != unpackedSize {
		return nil, fmt.Errorf("oozcodec: store codec requires len(packed)==unpackedSize, got %d want %d", len(packed), unpackedSize)
	}
	dst := NewScratchBuffer(unpackedSize)
	copy(dst, packed)
	return dst, nil
}
