package rowdecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrLayout matches errors of tables whose layout cannot be built from the
// catalog.
var ErrLayout = errors.New("rowdecode: table layout cannot be decoded")

// ErrUnsupportedType is returned for SQL types without a codec.
var ErrUnsupportedType = errors.New("rowdecode: unsupported column type")

// Kind is the binary codec of a column.
type Kind int

const (
	KindChar Kind = iota
	KindVarChar
	KindGraphic
	KindVarGraphic
	KindBinary
	KindVarBinary
	// KindDecimal is packed decimal.
	KindDecimal
	// KindNumeric is zoned decimal.
	KindNumeric
	KindSmallInt
	KindInteger
	KindBigInt
	KindReal
	KindDouble
	KindDate
	KindTime
	KindTimestamp
	KindBoolean
)

var kindNames = map[Kind]string{
	KindChar:       "char",
	KindVarChar:    "varchar",
	KindGraphic:    "graphic",
	KindVarGraphic: "vargraphic",
	KindBinary:     "binary",
	KindVarBinary:  "varbinary",
	KindDecimal:    "decimal",
	KindNumeric:    "numeric",
	KindSmallInt:   "smallint",
	KindInteger:    "integer",
	KindBigInt:     "bigint",
	KindReal:       "real",
	KindDouble:     "double",
	KindDate:       "date",
	KindTime:       "time",
	KindTimestamp:  "timestamp",
	KindBoolean:    "boolean",
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Text returns true if the kind holds translated character data.
func (k Kind) Text() bool {
	switch k {
	case KindChar, KindVarChar, KindGraphic, KindVarGraphic:
		return true
	default:
		return false
	}
}

// Varying returns true if the kind carries a 2 byte length prefix.
func (k Kind) Varying() bool {
	switch k {
	case KindVarChar, KindVarGraphic, KindVarBinary:
		return true
	default:
		return false
	}
}

// ColumnType is a parsed SQL column type.
type ColumnType struct {
	Kind Kind

	// Length is the length in characters or bytes, or the precision of
	// decimal types.
	Length int

	// Scale is the scale of decimal types, or the fractional second digits
	// of timestamps.
	Scale int
}

func (t ColumnType) String() string {
	switch t.Kind {
	case KindDecimal, KindNumeric:
		return fmt.Sprintf("%s(%d,%d)", t.Kind, t.Length, t.Scale)
	case KindTimestamp:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Scale)
	case KindChar, KindVarChar, KindGraphic, KindVarGraphic, KindBinary, KindVarBinary:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Length)
	default:
		return t.Kind.String()
	}
}

// Default lengths when the catalog or type string gives none.
const (
	defaultLength         = 1
	defaultPrecision      = 5
	defaultTimestampScale = 6
	maxDecimalPrecision   = 63
	maxTimestampScale     = 12
)

// ParseColumnType parses a catalog SQL type such as "DECIMAL(9,2)" or
// "CHAR(10) FOR BIT DATA". A length or scale in the type string overrides
// the one passed in.
func ParseColumnType(sqlType string, length, scale int) (ColumnType, error) {
	s := strings.ToUpper(strings.Join(strings.Fields(sqlType), " "))

	forBitData := false
	if rest, ok := strings.CutSuffix(s, " FOR BIT DATA"); ok {
		s = rest
		forBitData = true
	}

	base := s
	explicit := false
	if open := strings.IndexByte(s, '('); open >= 0 {
		closing := strings.IndexByte(s, ')')
		if closing < open {
			return ColumnType{}, fmt.Errorf("%w: %q", ErrUnsupportedType, sqlType)
		}
		args := strings.Split(s[open+1:closing], ",")
		base = strings.TrimSpace(s[:open] + s[closing+1:])

		v, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return ColumnType{}, fmt.Errorf("%w: %q", ErrUnsupportedType, sqlType)
		}
		length = v
		explicit = true
		if len(args) > 1 {
			v, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return ColumnType{}, fmt.Errorf("%w: %q", ErrUnsupportedType, sqlType)
			}
			scale = v
		}
	}

	t := ColumnType{Length: length, Scale: scale}

	switch base {
	case "CHAR", "CHARACTER":
		t.Kind = KindChar
		if forBitData {
			t.Kind = KindBinary
		}
	case "VARCHAR", "CHAR VARYING", "CHARACTER VARYING":
		t.Kind = KindVarChar
		if forBitData {
			t.Kind = KindVarBinary
		}
	case "GRAPHIC", "NCHAR":
		t.Kind = KindGraphic
	case "VARGRAPHIC", "GRAPHIC VARYING", "NVARCHAR":
		t.Kind = KindVarGraphic
	case "BINARY":
		t.Kind = KindBinary
	case "VARBINARY", "BINARY VARYING":
		t.Kind = KindVarBinary
	case "DECIMAL", "DEC":
		t.Kind = KindDecimal
	case "NUMERIC":
		t.Kind = KindNumeric
	case "SMALLINT":
		t.Kind = KindSmallInt
	case "INTEGER", "INT":
		t.Kind = KindInteger
	case "BIGINT":
		t.Kind = KindBigInt
	case "REAL":
		t.Kind = KindReal
	case "FLOAT":
		// FLOAT(p) carries a binary precision; the catalog length is a byte width.
		t.Kind = KindDouble
		if (explicit && length <= 24) || (!explicit && length == 4) {
			t.Kind = KindReal
		}
	case "DOUBLE", "DOUBLE PRECISION":
		t.Kind = KindDouble
	case "DATE":
		t.Kind = KindDate
	case "TIME":
		t.Kind = KindTime
	case "TIMESTAMP", "TIMESTMP":
		t.Kind = KindTimestamp
	case "BOOLEAN":
		t.Kind = KindBoolean
	default:
		return ColumnType{}, fmt.Errorf("%w: %q", ErrUnsupportedType, sqlType)
	}

	return t.normalize(sqlType, explicit)
}

// normalize applies default lengths and checks limits. explicit is true if
// the type string carried its own length.
func (t ColumnType) normalize(sqlType string, explicit bool) (ColumnType, error) {
	switch t.Kind {
	case KindChar, KindVarChar, KindGraphic, KindVarGraphic, KindBinary, KindVarBinary:
		if t.Length <= 0 {
			t.Length = defaultLength
		}
		t.Scale = 0
	case KindDecimal, KindNumeric:
		if t.Length <= 0 {
			t.Length = defaultPrecision
		}
		if t.Length > maxDecimalPrecision || t.Scale < 0 || t.Scale > t.Length {
			return ColumnType{}, fmt.Errorf("%w: %q: precision %d scale %d", ErrUnsupportedType, sqlType, t.Length, t.Scale)
		}
	case KindTimestamp:
		switch {
		case explicit:
			// TIMESTAMP(p) names the fractional digits.
			t.Scale = t.Length
		case t.Length == 0 && t.Scale == 0:
			t.Scale = defaultTimestampScale
		}
		if t.Scale < 0 || t.Scale > maxTimestampScale {
			return ColumnType{}, fmt.Errorf("%w: %q: fractional digits %d", ErrUnsupportedType, sqlType, t.Scale)
		}
		t.Length = 0
	default:
		t.Length = 0
		t.Scale = 0
	}
	return t, nil
}
