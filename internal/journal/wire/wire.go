// Package wire decodes the binary layouts returned by the host journal
// services and encodes the retrieval selection they accept.
//
// Binary integers are big-endian. Text fields are EBCDIC padded with blanks.
// Displacements inside an entry are relative to the start of that entry;
// decoded headers carry absolute buffer offsets instead.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
)

var (
	// ErrShortBuffer is returned when a layout extends past the returned data.
	ErrShortBuffer = errors.New("wire: buffer too short")

	// ErrMalformed is returned when a field holds an impossible value.
	ErrMalformed = errors.New("wire: malformed data")
)

func need(buf []byte, off, n int, what string) error {
	if off < 0 || n < 0 || off+n > len(buf) {
		return fmt.Errorf("%w: %s needs %d bytes at %d, have %d", ErrShortBuffer, what, n, off, len(buf))
	}
	return nil
}

func u16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off:])
}

func u32(b []byte, off int) int {
	return int(binary.BigEndian.Uint32(b[off:]))
}

func u64(b []byte, off int) uint64 {
	return binary.BigEndian.Uint64(b[off:])
}

func text(b []byte, off, n int) string {
	return ccsid.Text(b[off : off+n])
}

// zoned parses unsigned EBCDIC zoned digits, such as the length prefix of
// entry-specific data.
func zoned(b []byte) (int, error) {
	v := 0
	for _, c := range b {
		d := int(c & 0x0F)
		if d > 9 {
			return 0, fmt.Errorf("%w: zoned digit %#x", ErrMalformed, c)
		}
		v = v*10 + d
	}
	return v, nil
}

// PutInt32 returns v as a 4-byte big-endian integer.
func PutInt32(v int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}
