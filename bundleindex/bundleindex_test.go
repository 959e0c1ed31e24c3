package bundleindex

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pobbin/bundle/bytesource"
	"github.com/pobbin/bundle/hashing"
	"github.com/pobbin/bundle/oozcodec"
)

// wrapContainer builds a one-chunk container (stored uncompressed, since
// oozcodec.Store requires packed length == unpacked length) around
// payload.
func wrapContainer(payload []byte) []byte {
	buf := make([]byte, 60)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(len(payload)))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(len(payload)))
	binary.LittleEndian.PutUint32(buf[36:40], 1)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(payload)))

	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	buf = append(buf, sizeBuf[:]...)
	buf = append(buf, payload...)
	return buf
}

func putU32(b *[]byte, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	*b = append(*b, tmp[:]...)
}

func putU64(b *[]byte, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	*b = append(*b, tmp[:]...)
}

// pathRepCommand encodes one (cmd, string) pair of the path-rep command
// stream; cmd == 0 carries no string.
func pathRepCommand(cmd uint32, s string) []byte {
	var b []byte
	putU32(&b, cmd)
	if cmd != 0 {
		b = append(b, []byte(s)...)
		b = append(b, 0)
	}
	return b
}

func buildFixture(t *testing.T, fileHash uint64) []byte {
	t.Helper()

	// Path-rep command stream: leading cmd=0 toggles out of the initial
	// emit phase into base accumulation, then [cmd=1 "foo/", cmd=0,
	// cmd=1 "a", cmd=1 "b", cmd=0] yields "foo/a", "foo/b" (spec.md §8 S3).
	var repStream []byte
	repStream = append(repStream, pathRepCommand(0, "")...)
	repStream = append(repStream, pathRepCommand(1, "foo/")...)
	repStream = append(repStream, pathRepCommand(0, "")...)
	repStream = append(repStream, pathRepCommand(1, "a")...)
	repStream = append(repStream, pathRepCommand(1, "b")...)
	repStream = append(repStream, pathRepCommand(0, "")...)

	innerContainer := wrapContainer(repStream)

	var rawPayload []byte
	// containers: 1 entry, name "X", unpacked_size 1000
	putU32(&rawPayload, 1)
	putU32(&rawPayload, 1)
	rawPayload = append(rawPayload, 'X')
	putU32(&rawPayload, 1000)

	// files: 1 entry {hash, container_index=0, file_offset=500, file_size=200}
	putU32(&rawPayload, 1)
	putU64(&rawPayload, fileHash)
	putU32(&rawPayload, 0)
	putU32(&rawPayload, 500)
	putU32(&rawPayload, 200)

	// path reps: 1 entry covering the whole repStream
	putU32(&rawPayload, 1)
	putU64(&rawPayload, 0)
	putU32(&rawPayload, 0)
	putU32(&rawPayload, uint32(len(repStream)))
	putU32(&rawPayload, 0)

	rawPayload = append(rawPayload, innerContainer...)

	return wrapContainer(rawPayload)
}

func sequentialPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 256)
	}
	return p
}

func TestOpen_ReadByNameAndFiles(t *testing.T) {
	const name = "data/some/logical/name"
	hash := hashing.Hash(hashing.Murmur2_64A, name)

	outerIndex := buildFixture(t, hash)
	containerX := wrapContainer(sequentialPayload(1000))

	src := bytesource.NewInMemory(map[string][]byte{
		"Bundles2/_.index.bin":  outerIndex,
		"Bundles2/X.bundle.bin": containerX,
	})

	idx, err := Open(src, oozcodec.Store{}, hashing.Murmur2_64A)
	require.NoError(t, err)

	data, ok, err := idx.ReadByName(name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sequentialPayload(1000)[500:700], data)

	_, ok, err = idx.ReadByName("no/such/name")
	require.NoError(t, err)
	require.False(t, ok)

	filesIter, err := idx.Files()
	require.NoError(t, err)
	var got []string
	for p := range filesIter {
		got = append(got, p)
	}
	require.Equal(t, []string{"foo/a", "foo/b"}, got)
}
