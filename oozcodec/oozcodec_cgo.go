//go:build cgo

package oozcodec

/*
#cgo LDFLAGS: -looz
#include <stdint.h>
#include <stddef.h>

extern int32_t Ooz_Decompress(const uint8_t *src_buf, uint32_t src_len, uint8_t *dst, size_t dst_size);
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Native wraps the externally linked Ooz/Kraken decompressor. The caller
// must link against a build of libooz that exports Ooz_Decompress with the
// C signature declared above; this package does not vendor or build that
// library itself.
type Native struct{}

// NewNative returns a Decompressor backed by the linked libooz primitive.
func NewNative() Native { return Native{} }

// Decompress implements Decompressor.
func (Native) Decompress(packed []byte, unpackedSize int) ([]byte, error) {
	dst := NewScratchBuffer(unpackedSize)
	if unpackedSize == 0 {
		return dst, nil
	}

	var srcPtr *C.uint8_t
	if len(packed) > 0 {
		srcPtr = (*C.uint8_t)(unsafe.Pointer(&packed[0]))
	}
	dstPtr := (*C.uint8_t)(unsafe.Pointer(&dst[0]))

	n := int32(C.Ooz_Decompress(srcPtr, C.uint32_t(len(packed)), dstPtr, C.size_t(cap(dst))))
	if n < 0 {
		return nil, &Error{Code: n}
	}
	if int(n) != unpackedSize {
		return nil, fmt.Errorf("oozcodec: expected %d decompressed bytes, got %d", unpackedSize, n)
	}
	return dst, nil
}
