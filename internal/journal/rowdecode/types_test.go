package rowdecode_test

import (
	"errors"
	"testing"

	. "github.com/janovincze/philotes-ibmi/internal/journal/rowdecode"
)

func TestParseColumnType(t *testing.T) {
	tests := []struct {
		sqlType string
		length  int
		scale   int
		want    ColumnType
	}{
		{"CHAR", 10, 0, ColumnType{Kind: KindChar, Length: 10}},
		{"CHARACTER", 0, 0, ColumnType{Kind: KindChar, Length: 1}},
		{"char(12)", 0, 0, ColumnType{Kind: KindChar, Length: 12}},
		{"CHAR(8) FOR BIT DATA", 0, 0, ColumnType{Kind: KindBinary, Length: 8}},
		{"CHAR FOR BIT DATA", 0, 0, ColumnType{Kind: KindBinary, Length: 1}},
		{"VARCHAR", 40, 0, ColumnType{Kind: KindVarChar, Length: 40}},
		{"CHARACTER VARYING(5)", 0, 0, ColumnType{Kind: KindVarChar, Length: 5}},
		{"VARCHAR(16) FOR BIT DATA", 0, 0, ColumnType{Kind: KindVarBinary, Length: 16}},
		{"GRAPHIC", 4, 0, ColumnType{Kind: KindGraphic, Length: 4}},
		{"VARGRAPHIC", 30, 0, ColumnType{Kind: KindVarGraphic, Length: 30}},
		{"BINARY", 16, 0, ColumnType{Kind: KindBinary, Length: 16}},
		{"VARBINARY", 32, 0, ColumnType{Kind: KindVarBinary, Length: 32}},
		{"DECIMAL", 9, 2, ColumnType{Kind: KindDecimal, Length: 9, Scale: 2}},
		{"DECIMAL", 0, 0, ColumnType{Kind: KindDecimal, Length: 5}},
		{"DEC(11, 3)", 0, 0, ColumnType{Kind: KindDecimal, Length: 11, Scale: 3}},
		{"NUMERIC", 7, 0, ColumnType{Kind: KindNumeric, Length: 7}},
		{"SMALLINT", 2, 0, ColumnType{Kind: KindSmallInt}},
		{"INTEGER", 4, 0, ColumnType{Kind: KindInteger}},
		{"INT", 0, 0, ColumnType{Kind: KindInteger}},
		{"BIGINT", 8, 0, ColumnType{Kind: KindBigInt}},
		{"REAL", 4, 0, ColumnType{Kind: KindReal}},
		{"FLOAT", 8, 0, ColumnType{Kind: KindDouble}},
		{"FLOAT", 4, 0, ColumnType{Kind: KindReal}},
		{"FLOAT(20)", 0, 0, ColumnType{Kind: KindReal}},
		{"FLOAT(53)", 0, 0, ColumnType{Kind: KindDouble}},
		{"DOUBLE PRECISION", 0, 0, ColumnType{Kind: KindDouble}},
		{"DATE", 4, 0, ColumnType{Kind: KindDate}},
		{"TIME", 3, 0, ColumnType{Kind: KindTime}},
		{"TIMESTAMP", 0, 0, ColumnType{Kind: KindTimestamp, Scale: 6}},
		{"TIMESTAMP", 10, 3, ColumnType{Kind: KindTimestamp, Scale: 3}},
		{"TIMESTAMP(0)", 0, 0, ColumnType{Kind: KindTimestamp}},
		{"TIMESTMP", 0, 12, ColumnType{Kind: KindTimestamp, Scale: 12}},
		{"BOOLEAN", 1, 0, ColumnType{Kind: KindBoolean}},
	}

	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			got, err := ParseColumnType(tt.sqlType, tt.length, tt.scale)
			if err != nil {
				t.Fatalf("ParseColumnType() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseColumnType() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("it rejects unknown types", func(t *testing.T) {
		for _, s := range []string{"BLOB", "XML", "DATALINK", "CHAR(x)", "ROWID"} {
			if _, err := ParseColumnType(s, 1, 0); !errors.Is(err, ErrUnsupportedType) {
				t.Errorf("ParseColumnType(%q) error = %v, want ErrUnsupportedType", s, err)
			}
		}
	})

	t.Run("it rejects out of range decimals", func(t *testing.T) {
		if _, err := ParseColumnType("DECIMAL", 64, 0); !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("error = %v, want ErrUnsupportedType", err)
		}
		if _, err := ParseColumnType("DECIMAL", 5, 6); !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("error = %v, want ErrUnsupportedType", err)
		}
	})
}

func TestKind(t *testing.T) {
	if !KindVarGraphic.Text() || KindVarBinary.Text() {
		t.Error("Text() misclassifies kinds")
	}
	if !KindVarBinary.Varying() || KindChar.Varying() {
		t.Error("Varying() misclassifies kinds")
	}
	if got := Kind(99).String(); got != "unknown" {
		t.Errorf("String() = %q, want unknown", got)
	}
}
