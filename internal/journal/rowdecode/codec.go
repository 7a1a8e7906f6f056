package rowdecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
)

// Layouts of ISO date and time fields in a record image.
const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15.04.05"
	timestampLayout = "2006-01-02-15.04.05"
)

// width returns the number of record bytes of a column with the given
// bytes per character factor.
func (t ColumnType) width(bytesPerChar int) int {
	switch t.Kind {
	case KindChar:
		return t.Length * bytesPerChar
	case KindVarChar:
		return 2 + t.Length*bytesPerChar
	case KindGraphic:
		return t.Length * 2
	case KindVarGraphic:
		return 2 + t.Length*2
	case KindBinary:
		return t.Length
	case KindVarBinary:
		return 2 + t.Length
	case KindDecimal:
		return t.Length/2 + 1
	case KindNumeric:
		return t.Length
	case KindSmallInt:
		return 2
	case KindInteger, KindReal:
		return 4
	case KindBigInt, KindDouble:
		return 8
	case KindDate:
		return len(dateLayout)
	case KindTime:
		return len(timeLayout)
	case KindTimestamp:
		if t.Scale == 0 {
			return len(timestampLayout)
		}
		return len(timestampLayout) + 1 + t.Scale
	case KindBoolean:
		return 1
	default:
		return 0
	}
}

// decode converts the record bytes of one column to a Go value. Text kinds
// yield string, binary kinds []byte, decimals pgtype.Numeric, integers their
// sized int types, floats float32 or float64, temporal kinds time.Time and
// booleans bool.
func (c *Column) decode(b []byte) (any, error) {
	switch c.Type.Kind {
	case KindChar, KindGraphic:
		return c.text(b)
	case KindVarChar, KindVarGraphic:
		data, err := c.varying(b)
		if err != nil {
			return nil, err
		}
		return c.text(data)
	case KindBinary:
		return bytes.Clone(b), nil
	case KindVarBinary:
		data, err := c.varying(b)
		if err != nil {
			return nil, err
		}
		return bytes.Clone(data), nil
	case KindDecimal:
		return decodePacked(b, c.Type.Scale)
	case KindNumeric:
		return decodeZoned(b, c.Type.Scale)
	case KindSmallInt:
		return int16(binary.BigEndian.Uint16(b)), nil
	case KindInteger:
		return int32(binary.BigEndian.Uint32(b)), nil
	case KindBigInt:
		return int64(binary.BigEndian.Uint64(b)), nil
	case KindReal:
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case KindDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case KindDate:
		return c.temporal(b, dateLayout)
	case KindTime:
		return c.temporal(b, timeLayout)
	case KindTimestamp:
		layout := timestampLayout
		if c.Type.Scale > 0 {
			layout += "." + strings.Repeat("0", c.Type.Scale)
		}
		return c.temporal(b, layout)
	case KindBoolean:
		return b[0] != 0 && b[0] != 0xF0, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedType, c.Type.Kind)
	}
}

// varying returns the data of a length-prefixed field. The prefix counts
// characters for text kinds and bytes otherwise.
func (c *Column) varying(b []byte) ([]byte, error) {
	n := int(binary.BigEndian.Uint16(b))
	size := 1
	switch c.Type.Kind {
	case KindVarChar:
		size = c.BytesPerChar
	case KindVarGraphic:
		size = 2
	}
	if n > c.Type.Length || 2+n*size > len(b) {
		return nil, fmt.Errorf("length prefix %d exceeds declared length %d", n, c.Type.Length)
	}
	return b[2 : 2+n*size], nil
}

func (c *Column) text(b []byte) (string, error) {
	if c.CCSID == ccsid.Binary {
		return string(b), nil
	}
	return ccsid.Decode(c.CCSID, b)
}

// temporal parses a date or time field. Date and time fields are always
// single byte EBCDIC digits and separators regardless of the column CCSID.
func (c *Column) temporal(b []byte, layout string) (time.Time, error) {
	loc := c.location
	if loc == nil {
		loc = time.UTC
	}
	s := ccsid.Text(b)
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return t, nil
}

// decodePacked decodes a packed decimal: two digits per byte with the sign
// in the last nibble.
func decodePacked(b []byte, scale int) (pgtype.Numeric, error) {
	digits := make([]byte, 0, len(b)*2)
	for i, v := range b {
		hi, lo := v>>4, v&0x0F
		if hi > 9 {
			return pgtype.Numeric{}, fmt.Errorf("packed decimal: invalid digit %#x", v)
		}
		digits = append(digits, '0'+hi)
		if i == len(b)-1 {
			return numeric(digits, negativeSign(lo), scale)
		}
		if lo > 9 {
			return pgtype.Numeric{}, fmt.Errorf("packed decimal: invalid digit %#x", v)
		}
		digits = append(digits, '0'+lo)
	}
	return pgtype.Numeric{}, fmt.Errorf("packed decimal: empty field")
}

// decodeZoned decodes a zoned decimal: one digit per byte with the sign in
// the zone of the last byte.
func decodeZoned(b []byte, scale int) (pgtype.Numeric, error) {
	if len(b) == 0 {
		return pgtype.Numeric{}, fmt.Errorf("zoned decimal: empty field")
	}
	digits := make([]byte, len(b))
	for i, v := range b {
		d := v & 0x0F
		if d > 9 {
			return pgtype.Numeric{}, fmt.Errorf("zoned decimal: invalid digit %#x", v)
		}
		digits[i] = '0' + d
	}
	return numeric(digits, negativeSign(b[len(b)-1]>>4), scale)
}

// negativeSign returns true for the negative sign nibbles B and D.
func negativeSign(nibble byte) bool {
	return nibble == 0x0B || nibble == 0x0D
}

func numeric(digits []byte, negative bool, scale int) (pgtype.Numeric, error) {
	n, ok := new(big.Int).SetString(string(digits), 10)
	if !ok {
		return pgtype.Numeric{}, fmt.Errorf("decimal: invalid digits %q", digits)
	}
	if negative {
		n.Neg(n)
	}
	return pgtype.Numeric{Int: n, Exp: int32(-scale), Valid: true}, nil
}
