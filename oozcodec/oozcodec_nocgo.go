//go:build !cgo

package oozcodec

import "errors"

// Native is unavailable without cgo; build with cgo enabled and libooz on
// the link path to decompress real bundle containers.
type Native struct{}

// NewNative returns a Decompressor stub that always fails: the Ooz
// primitive is a C library and requires cgo to link against.
func NewNative() Native { return Native{} }

// Decompress implements Decompressor.
func (Native) Decompress([]byte, int) ([]byte, error) {
	return nil, errors.New("oozcodec: built without cgo, libooz is unavailable")
}
