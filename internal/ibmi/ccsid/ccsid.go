// Package ccsid maps IBM i coded character set identifiers to text encodings.
package ccsid

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// CCSID is a host coded character set identifier.
type CCSID int

// Well-known identifiers.
const (
	// Binary marks data that must not be translated.
	Binary CCSID = 65535

	// EBCDIC37 is US/Canada EBCDIC, the host's default for object names.
	EBCDIC37   CCSID = 37
	EBCDIC1047 CCSID = 1047
	EBCDIC1140 CCSID = 1140
	Latin1     CCSID = 819
	Windows    CCSID = 1252
	UTF8       CCSID = 1208
	UTF16      CCSID = 1200
	UCS2       CCSID = 13488
)

// ErrUnsupported is returned for identifiers without a known encoding.
var ErrUnsupported = errors.New("ccsid: unsupported code page")

// Blank is the EBCDIC space character used to pad host text fields.
const Blank = 0x40

var encodings = map[CCSID]encoding.Encoding{
	EBCDIC37:   charmap.CodePage037,
	EBCDIC1047: charmap.CodePage1047,
	EBCDIC1140: charmap.CodePage1140,
	Latin1:     charmap.ISO8859_1,
	Windows:    charmap.Windows1252,
	UTF8:       unicode.UTF8,
	UTF16:      unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	UCS2:       unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// Supported returns true if id can be decoded. Binary is supported and
// decodes to the raw bytes.
func (id CCSID) Supported() bool {
	if id == Binary {
		return true
	}
	_, ok := encodings[id]
	return ok
}

// Encoding returns the text encoding for id.
func (id CCSID) Encoding() (encoding.Encoding, error) {
	enc, ok := encodings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, id)
	}
	return enc, nil
}

// Decode converts host bytes in code page id to a string. Binary data is
// returned unchanged.
func Decode(id CCSID, b []byte) (string, error) {
	if id == Binary {
		return string(b), nil
	}
	enc, err := id.Encoding()
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("ccsid %d: decode: %w", id, err)
	}
	return string(out), nil
}

// Encode converts s to host bytes in code page id.
func Encode(id CCSID, s string) ([]byte, error) {
	if id == Binary {
		return []byte(s), nil
	}
	enc, err := id.Encoding()
	if err != nil {
		return nil, err
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("ccsid %d: encode %q: %w", id, s, err)
	}
	return out, nil
}

// Text decodes a fixed-width EBCDIC field, trimming trailing blanks and
// NUL padding.
func Text(b []byte) string {
	out, err := charmap.CodePage037.NewDecoder().Bytes(bytes.TrimRight(b, "\x00"))
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), " ")
}

// PutText encodes s as EBCDIC into dst, padding with blanks. It fails if s
// does not fit or cannot be represented.
func PutText(dst []byte, s string) error {
	b, err := Encode(EBCDIC37, s)
	if err != nil {
		return err
	}
	if len(b) > len(dst) {
		return fmt.Errorf("ccsid: %q does not fit in %d bytes", s, len(dst))
	}
	n := copy(dst, b)
	for i := n; i < len(dst); i++ {
		dst[i] = Blank
	}
	return nil
}

// Pad returns s encoded as EBCDIC and padded with blanks to n bytes.
func Pad(s string, n int) ([]byte, error) {
	dst := make([]byte, n)
	if err := PutText(dst, s); err != nil {
		return nil, err
	}
	return dst, nil
}
