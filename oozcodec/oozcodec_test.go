package oozcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrips(t *testing.T) {
	in := []byte("some packed-looking bytes")
	out, err := Store{}.Decompress(in, len(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestStore_RejectsSizeMismatch(t *testing.T) {
	_, err := Store{}.Decompress([]byte("abc"), 10)
	require.Error(t, err)
}

func TestNewScratchBuffer_HasOverallocatedCapacity(t *testing.T) {
	buf := NewScratchBuffer(16)
	require.Len(t, buf, 16)
	require.GreaterOrEqual(t, cap(buf), 16+scratchPad)
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: -3}
	require.Contains(t, err.Error(), "-3")
}
