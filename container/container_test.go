package container

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pobbin/bundle/bytesource"
	"github.com/pobbin/bundle/oozcodec"
)

// buildContainer assembles a container whose chunks are stored
// uncompressed (oozcodec.Store requires packed length == unpacked
// length), with chunkUnpackedSize-sized chunks over payload, the last
// chunk truncated to whatever remains.
func buildContainer(t *testing.T, payload []byte, chunkUnpackedSize int) []byte {
	t.Helper()

	var chunkSizes []uint32
	for off := 0; off < len(payload); off += chunkUnpackedSize {
		end := off + chunkUnpackedSize
		if end > len(payload) {
			end = len(payload)
		}
		chunkSizes = append(chunkSizes, uint32(end-off))
	}

	var compressedSize uint64
	for _, s := range chunkSizes {
		compressedSize += uint64(s)
	}

	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(compressedSize))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(len(payload)))
	binary.LittleEndian.PutUint64(buf[28:36], compressedSize)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(len(chunkSizes)))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(chunkUnpackedSize))

	for _, s := range chunkSizes {
		var sizeBuf [4]byte
		binary.LittleEndian.PutUint32(sizeBuf[:], s)
		buf = append(buf, sizeBuf[:]...)
	}
	buf = append(buf, payload...)
	return buf
}

func sequentialPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 256)
	}
	return p
}

func openFixture(t *testing.T, payload []byte, chunkUnpackedSize int) bytesource.ReadHandle {
	t.Helper()
	raw := buildContainer(t, payload, chunkUnpackedSize)
	src := bytesource.NewInMemory(map[string][]byte{"c": raw})
	h, err := src.Get("c")
	require.NoError(t, err)
	return h
}

// TestDecompress_RangeWithinChunk mirrors the S1 scenario from the
// bundle-layout fixtures: a 300-byte container chunked at 128 bytes per
// chunk, reading the range [130, 140).
func TestDecompress_RangeWithinChunk(t *testing.T) {
	payload := sequentialPayload(300)
	h := openFixture(t, payload, 128)

	got, err := Decompress(h, oozcodec.Store{}, &Range{Off: 130, Len: 10})
	require.NoError(t, err)
	require.Equal(t, payload[130:140], got)
}

func TestDecompress_FullRange(t *testing.T) {
	payload := sequentialPayload(300)
	h := openFixture(t, payload, 128)

	got, err := Decompress(h, oozcodec.Store{}, nil)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestDecompress_ChunkBoundaryInvariance checks property 2: the same
// range produces identical bytes whether read in one request that
// straddles a chunk boundary, or as two half-reads on fresh handles.
func TestDecompress_ChunkBoundaryInvariance(t *testing.T) {
	payload := sequentialPayload(300)

	whole, err := Decompress(openFixture(t, payload, 128), oozcodec.Store{}, &Range{Off: 100, Len: 60})
	require.NoError(t, err)

	firstHalf, err := Decompress(openFixture(t, payload, 128), oozcodec.Store{}, &Range{Off: 100, Len: 28})
	require.NoError(t, err)
	secondHalf, err := Decompress(openFixture(t, payload, 128), oozcodec.Store{}, &Range{Off: 128, Len: 32})
	require.NoError(t, err)

	require.Equal(t, whole, append(firstHalf, secondHalf...))
}

func TestDecompress_RangeOutOfBounds(t *testing.T) {
	payload := sequentialPayload(300)
	h := openFixture(t, payload, 128)

	_, err := Decompress(h, oozcodec.Store{}, &Range{Off: 250, Len: 100})
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
}

func TestDecompress_HeaderInconsistent(t *testing.T) {
	payload := sequentialPayload(300)
	raw := buildContainer(t, payload, 128)
	// Corrupt the first chunk-size entry.
	binary.LittleEndian.PutUint32(raw[headerSize:headerSize+4], 1)

	src := bytesource.NewInMemory(map[string][]byte{"c": raw})
	h, err := src.Get("c")
	require.NoError(t, err)

	_, err = Decompress(h, oozcodec.Store{}, nil)
	require.ErrorIs(t, err, ErrHeaderInconsistent)
}
