// Package oozcodec adapts the proprietary Ooz/Kraken decompressor to a
// small Go interface. The decompressor itself is an opaque, externally
// linked primitive: this package only knows its calling contract, not its
// internals.
package oozcodec

import "fmt"

// scratchPad is the number of extra bytes a decompression output buffer
// must have, beyond the declared unpacked size, because the underlying
// primitive is rumored to scribble past the end of its declared output.
// Every buffer handed to Decompress is over-allocated by this much.
const scratchPad = 64

// Decompressor decompresses a single compressed chunk of known packed size
// into a buffer sized for a known unpacked size.
type Decompressor interface {
	// Decompress decompresses packed into a buffer of exactly
	// unpackedSize usable bytes and returns that buffer. Implementations
	// must over-allocate unpackedSize+64 bytes of real storage behind the
	// returned slice; callers must not rely on bytes past unpackedSize.
	Decompress(packed []byte, unpackedSize int) ([]byte, error)
}

// Error reports a decompression failure together with the primitive's
// numeric status code.
type Error struct {
	Code int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("oozcodec: decompression failed with code %d", e.Code)
}

// NewScratchBuffer allocates a buffer with unpackedSize usable bytes and
// scratchPad extra bytes of real (not just reserved) capacity, as required
// by the underlying primitive's contract.
func NewScratchBuffer(unpackedSize int) []byte {
	buf := make([]byte, unpackedSize, unpackedSize+scratchPad)
	return buf[:unpackedSize]
}
