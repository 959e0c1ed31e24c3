// Package dat implements the tabular DAT row format: a count-prefixed
// block of fixed-width rows followed by a magic boundary and a
// variable-data region of UTF-16LE strings referenced by row offsets.
// Row width is not stored in the file; it is derived from the observed
// layout, since the archive has many versions with differing row widths.
package dat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf16"
)

// ErrNotEnoughData is returned by a typed field accessor whose offset (or
// the field width at that offset) runs past the row or the file.
var ErrNotEnoughData = errors.New("dat: not enough data")

// ErrOutOfRange is returned by Get/row access for an out-of-bounds row
// index.
var ErrOutOfRange = errors.New("dat: row index out of range")

// ErrNoBoundary is returned when the 8-byte 0xBB boundary marker that
// separates fixed rows from the variable-data region cannot be found.
var ErrNoBoundary = errors.New("dat: boundary marker not found")

// ErrDecodeUTF16 is returned by UTF16String's strict conversion when the
// string contains an unpaired UTF-16 surrogate.
var ErrDecodeUTF16 = errors.New("dat: invalid utf-16 surrogate pair")

var boundaryMagic = [8]byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}

// File is a parsed DAT payload. It borrows data for the lifetime of the
// File; callers that need a value to outlive the buffer must copy it out
// explicitly (strings returned by StringRef borrow the same way).
type File struct {
	data     []byte
	rowCount int
	rowSize  int
	boundary int
}

// Open parses data as a DAT file: a u32 row count, that many fixed-width
// rows, the 8-byte 0xBB boundary, then the variable-data region. data is
// retained, not copied.
func Open(data []byte) (*File, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: file shorter than the row-count prefix", ErrNotEnoughData)
	}
	rowCount := int(binary.LittleEndian.Uint32(data[0:4]))

	boundary := findBoundary(data)
	if boundary < 0 {
		return nil, ErrNoBoundary
	}

	rowSize := 0
	if rowCount > 0 {
		if (boundary-4)%rowCount != 0 {
			return nil, fmt.Errorf("%w: %d bytes of row data does not divide evenly into %d rows", ErrNotEnoughData, boundary-4, rowCount)
		}
		rowSize = (boundary - 4) / rowCount
	}

	return &File{data: data, rowCount: rowCount, rowSize: rowSize, boundary: boundary}, nil
}

func findBoundary(data []byte) int {
	for i := 4; i+8 <= len(data); i++ {
		if [8]byte(data[i:i+8]) == boundaryMagic {
			return i
		}
	}
	return -1
}

// RowCount returns the number of fixed-width rows.
func (f *File) RowCount() int { return f.rowCount }

// RowSize returns the derived width, in bytes, of one row.
func (f *File) RowSize() int { return f.rowSize }

// Get returns row i.
func (f *File) Get(i int) (Row, error) {
	if i < 0 || i >= f.rowCount {
		return Row{}, fmt.Errorf("%w: %d (have %d rows)", ErrOutOfRange, i, f.rowCount)
	}
	start := 4 + i*f.rowSize
	return Row{file: f, bytes: f.data[start : start+f.rowSize]}, nil
}

// Iter returns a lazy sequence over every row, in row order.
func (f *File) Iter() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for i := 0; i < f.rowCount; i++ {
			row, err := f.Get(i)
			if err != nil {
				return
			}
			if !yield(row) {
				return
			}
		}
	}
}

// Row is one fixed-width record, borrowed from its File's backing buffer.
type Row struct {
	file  *File
	bytes []byte
}

// U32 reads a little-endian uint32 at offset, bounds-checked against the
// row's width.
func (r Row) U32(offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(r.bytes) {
		return 0, fmt.Errorf("%w: u32 at offset %d", ErrNotEnoughData, offset)
	}
	return binary.LittleEndian.Uint32(r.bytes[offset : offset+4]), nil
}

// U64 reads a little-endian uint64 at offset, bounds-checked against the
// row's width.
func (r Row) U64(offset int) (uint64, error) {
	if offset < 0 || offset+8 > len(r.bytes) {
		return 0, fmt.Errorf("%w: u64 at offset %d", ErrNotEnoughData, offset)
	}
	return binary.LittleEndian.Uint64(r.bytes[offset : offset+8]), nil
}

// U8 reads a single byte at offset, bounds-checked against the row's
// width.
func (r Row) U8(offset int) (byte, error) {
	if offset < 0 || offset >= len(r.bytes) {
		return 0, fmt.Errorf("%w: u8 at offset %d", ErrNotEnoughData, offset)
	}
	return r.bytes[offset], nil
}

// StringRef reads a u64 offset at offset, then borrows the UTF-16LE
// string it points to in the variable-data region. Offsets are relative
// to the boundary itself (the magic bytes are part of the addressed
// region, not skipped over). The terminator is a zero u16; if absent
// before the end of the file, the remainder of the file is the value
// (tolerant, per the archive's own looseness here).
func (r Row) StringRef(offset int) (UTF16String, error) {
	varOffset, err := r.U64(offset)
	if err != nil {
		return UTF16String{}, err
	}
	start := r.file.boundary + int(varOffset)
	if start < 0 || start > len(r.file.data) {
		return UTF16String{}, fmt.Errorf("%w: string_ref target %d out of range", ErrNotEnoughData, start)
	}

	region := r.file.data[start:]
	end := len(region)
	for i := 0; i+1 < len(region); i += 2 {
		if region[i] == 0 && region[i+1] == 0 {
			end = i
			break
		}
	}
	return UTF16String{raw: region[:end]}, nil
}

// UTF16String is a borrowed, little-endian-encoded UTF-16 string slice
// from a DAT file's variable-data region.
type UTF16String struct {
	raw []byte
}

// Len returns the number of UTF-16 code units.
func (s UTF16String) Len() int { return len(s.raw) / 2 }

func (s UTF16String) units() []uint16 {
	units := make([]uint16, len(s.raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(s.raw[i*2 : i*2+2])
	}
	return units
}

// StartsWith reports whether s begins with the given ASCII string,
// comparing UTF-16 code units directly without decoding.
func (s UTF16String) StartsWith(ascii string) bool {
	if len(ascii)*2 > len(s.raw) {
		return false
	}
	for i := 0; i < len(ascii); i++ {
		if s.raw[i*2+1] != 0 || s.raw[i*2] != ascii[i] {
			return false
		}
	}
	return true
}

// EndsWith reports whether s ends with the given ASCII string, comparing
// UTF-16 code units directly without decoding.
func (s UTF16String) EndsWith(ascii string) bool {
	n := len(ascii)
	if n*2 > len(s.raw) {
		return false
	}
	start := len(s.raw) - n*2
	for i := 0; i < n; i++ {
		if s.raw[start+i*2+1] != 0 || s.raw[start+i*2] != ascii[i] {
			return false
		}
	}
	return true
}

// Contains reports whether s contains the given BMP rune.
func (s UTF16String) Contains(ch rune) bool {
	if ch < 0 || ch > 0xFFFF || (ch >= 0xD800 && ch <= 0xDFFF) {
		return false
	}
	target := uint16(ch)
	for _, u := range s.units() {
		if u == target {
			return true
		}
	}
	return false
}

// Lossy decodes s to UTF-8, substituting U+FFFD for invalid surrogates.
func (s UTF16String) Lossy() string {
	return string(utf16.Decode(s.units()))
}

// Strict decodes s to UTF-8, reporting ErrDecodeUTF16 for any unpaired
// surrogate instead of substituting U+FFFD.
func (s UTF16String) Strict() (string, error) {
	units := s.units()
	var sb strings.Builder
	sb.Grow(len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u < 0xD800 || u > 0xDFFF:
			sb.WriteRune(rune(u))
		case u <= 0xDBFF:
			if i+1 >= len(units) {
				return "", ErrDecodeUTF16
			}
			lo := units[i+1]
			if lo < 0xDC00 || lo > 0xDFFF {
				return "", ErrDecodeUTF16
			}
			sb.WriteRune(((rune(u) - 0xD800) << 10 | (rune(lo) - 0xDC00)) + 0x10000)
			i++
		default:
			return "", ErrDecodeUTF16
		}
	}
	return sb.String(), nil
}
