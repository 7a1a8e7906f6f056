package rowdecode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/catalog"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
)

// TableKey identifies a table.
type TableKey struct {
	Database string
	Schema   string
	Table    string
}

func (k TableKey) String() string {
	return k.Schema + "." + k.Table
}

func newTableKey(database, schema, table string) TableKey {
	return TableKey{
		Database: strings.ToUpper(database),
		Schema:   strings.ToUpper(schema),
		Table:    strings.ToUpper(table),
	}
}

// Column is one column of a record image.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool

	// Identity is true for generated identity columns.
	Identity bool

	// CCSID is the code page of text columns.
	CCSID ccsid.CCSID

	// BytesPerChar is the storage width of one character of text columns.
	BytesPerChar int

	// Offset and Width locate the column in the record image.
	Offset int
	Width  int

	location *time.Location
}

// TableInfo is the decoding layout of a table's record image.
type TableInfo struct {
	Key         TableKey
	Columns     []Column
	PrimaryKeys []string

	// RowLength is the length of a full record image.
	RowLength int
}

// Column returns the named column.
func (t *TableInfo) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in record order.
func (t *TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// buildTableInfo reads the catalog and lays out the record image.
func (d *Decoder) buildTableInfo(ctx context.Context, key TableKey) (*TableInfo, error) {
	cols, err := d.catalog.Columns(ctx, key.Schema, key.Table)
	if err != nil {
		return nil, err
	}
	keys, err := d.catalog.PrimaryKeys(ctx, key.Schema, key.Table)
	if err != nil {
		return nil, err
	}

	info := &TableInfo{
		Key:         key,
		Columns:     make([]Column, 0, len(cols)),
		PrimaryKeys: keys,
	}

	for _, cc := range cols {
		col, err := d.column(ctx, cc)
		if err != nil {
			return nil, &layoutError{table: key, column: cc.Name, err: err}
		}
		col.Offset = info.RowLength
		info.RowLength += col.Width
		info.Columns = append(info.Columns, col)
	}

	return info, nil
}

func (d *Decoder) column(ctx context.Context, cc catalog.Column) (Column, error) {
	t, err := ParseColumnType(cc.DataType, cc.Length, cc.Scale)
	if err != nil {
		return Column{}, err
	}

	col := Column{
		Name:         cc.Name,
		Type:         t,
		Nullable:     cc.Nullable,
		Identity:     cc.Identity,
		BytesPerChar: 1,
		location:     d.config.Location,
	}

	if t.Kind.Text() {
		id := ccsid.CCSID(cc.CCSID)
		switch {
		case id == 0:
			id = d.config.DefaultCCSID
		case id == ccsid.Binary && t.Kind == KindChar:
			col.Type.Kind = KindBinary
		case id == ccsid.Binary && t.Kind == KindVarChar:
			col.Type.Kind = KindVarBinary
		}
		if !id.Supported() {
			return Column{}, fmt.Errorf("%w: %d", ccsid.ErrUnsupported, id)
		}
		col.CCSID = id

		if t.Kind == KindChar || t.Kind == KindVarChar {
			w, err := d.catalog.BytesPerChar(ctx, int(id))
			if err != nil {
				return Column{}, err
			}
			col.BytesPerChar = max(w, 1)
		}
	}

	col.Width = col.Type.width(col.BytesPerChar)
	return col, nil
}

// layoutError is a table whose record image cannot be decoded. Unlike
// catalog read failures it is cached until the table is invalidated.
type layoutError struct {
	table  TableKey
	column string
	err    error
}

func (e *layoutError) Error() string {
	return fmt.Sprintf("table %s column %s: %v", e.table, e.column, e.err)
}

func (e *layoutError) Unwrap() error {
	return e.err
}

func (e *layoutError) Is(target error) bool {
	return target == ErrLayout
}
