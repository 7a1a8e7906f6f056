// Package catalog reads table metadata from the host's SQL catalog.
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrTableNotFound is returned when the catalog has no such table.
	ErrTableNotFound = errors.New("catalog: table not found")

	// ErrNoColumns is returned when a table has no columns in the catalog.
	ErrNoColumns = errors.New("catalog: table has no columns")
)

// Column describes one column of a table, in record order.
type Column struct {
	// Name is the SQL column name.
	Name string

	// SystemName is the short system column name.
	SystemName string

	// Position is the 1-based ordinal position in the record.
	Position int

	// DataType is the SQL type, such as "DECIMAL" or "CHAR".
	DataType string

	// Length is the length in characters or bytes, or the precision of
	// numeric types.
	Length int

	// Scale is the numeric scale, or the fractional digits of timestamps.
	Scale int

	// CCSID is the column's coded character set identifier, 0 for
	// non-character columns.
	CCSID int

	Nullable bool
	Identity bool
}

// Catalog looks up table metadata.
type Catalog interface {
	// Columns returns the columns of a table in record order.
	Columns(ctx context.Context, schema, table string) ([]Column, error)

	// PrimaryKeys returns the primary key column names of a table, in key
	// order. Tables without a primary key return nil.
	PrimaryKeys(ctx context.Context, schema, table string) ([]string, error)

	// LongName returns the SQL name of the table with the given system name.
	LongName(ctx context.Context, schema, systemName string) (string, error)

	// SystemName returns the system name of the table with the given SQL name.
	SystemName(ctx context.Context, schema, longName string) (string, error)

	// BytesPerChar returns the storage width of one character in the given
	// coded character set.
	BytesPerChar(ctx context.Context, ccsid int) (int, error)
}
