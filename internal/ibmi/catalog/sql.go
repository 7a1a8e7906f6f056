package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// SQLCatalog implements Catalog over the QSYS2 catalog views.
type SQLCatalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLCatalog creates a catalog reading from db.
func NewSQLCatalog(db *sql.DB, logger *slog.Logger) *SQLCatalog {
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLCatalog{
		db:     db,
		logger: logger.With("component", "ibmi-catalog"),
	}
}

// Columns returns the columns of a table in record order.
func (c *SQLCatalog) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	query := `
		SELECT COLUMN_NAME, SYSTEM_COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE,
			LENGTH, COALESCE(NUMERIC_SCALE, 0), COALESCE(CCSID, 0),
			IS_NULLABLE, IS_IDENTITY
		FROM QSYS2.SYSCOLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	rows, err := c.db.QueryContext(ctx, query, strings.ToUpper(schema), strings.ToUpper(table))
	if err != nil {
		return nil, fmt.Errorf("query columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable, identity string
		if err := rows.Scan(
			&col.Name,
			&col.SystemName,
			&col.Position,
			&col.DataType,
			&col.Length,
			&col.Scale,
			&col.CCSID,
			&nullable,
			&identity,
		); err != nil {
			return nil, fmt.Errorf("scan column of %s.%s: %w", schema, table, err)
		}
		col.Name = strings.TrimSpace(col.Name)
		col.SystemName = strings.TrimSpace(col.SystemName)
		col.DataType = strings.TrimSpace(col.DataType)
		col.Nullable = yes(nullable)
		col.Identity = yes(identity)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %s.%s: %w", schema, table, err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoColumns, schema, table)
	}
	return columns, nil
}

// PrimaryKeys returns the primary key column names of a table.
func (c *SQLCatalog) PrimaryKeys(ctx context.Context, schema, table string) ([]string, error) {
	query := `
		SELECT k.COLUMN_NAME
		FROM QSYS2.SYSCST s
		JOIN QSYS2.SYSKEYCST k
			ON k.CONSTRAINT_SCHEMA = s.CONSTRAINT_SCHEMA
			AND k.CONSTRAINT_NAME = s.CONSTRAINT_NAME
		WHERE s.TABLE_SCHEMA = ? AND s.TABLE_NAME = ?
			AND s.CONSTRAINT_TYPE = 'PRIMARY KEY'
		ORDER BY k.ORDINAL_POSITION
	`

	rows, err := c.db.QueryContext(ctx, query, strings.ToUpper(schema), strings.ToUpper(table))
	if err != nil {
		return nil, fmt.Errorf("query primary keys of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan primary key of %s.%s: %w", schema, table, err)
		}
		keys = append(keys, strings.TrimSpace(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary keys of %s.%s: %w", schema, table, err)
	}
	return keys, nil
}

// LongName returns the SQL name of the table with the given system name.
func (c *SQLCatalog) LongName(ctx context.Context, schema, systemName string) (string, error) {
	query := `
		SELECT TABLE_NAME FROM QSYS2.SYSTABLES
		WHERE SYSTEM_TABLE_SCHEMA = ? AND SYSTEM_TABLE_NAME = ?
	`
	return c.name(ctx, query, schema, systemName)
}

// SystemName returns the system name of the table with the given SQL name.
func (c *SQLCatalog) SystemName(ctx context.Context, schema, longName string) (string, error) {
	query := `
		SELECT SYSTEM_TABLE_NAME FROM QSYS2.SYSTABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`
	return c.name(ctx, query, schema, longName)
}

func (c *SQLCatalog) name(ctx context.Context, query, schema, table string) (string, error) {
	var name string
	err := c.db.QueryRowContext(ctx, query, strings.ToUpper(schema), strings.ToUpper(table)).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s.%s", ErrTableNotFound, schema, table)
		}
		return "", fmt.Errorf("look up table name %s.%s: %w", schema, table, err)
	}
	return strings.TrimSpace(name), nil
}

// BytesPerChar derives the character width of a CCSID from the catalog's
// octet and character lengths, falling back to well-known widths for
// CCSIDs no column uses.
func (c *SQLCatalog) BytesPerChar(ctx context.Context, ccsid int) (int, error) {
	query := `
		SELECT COALESCE(MAX(CHARACTER_OCTET_LENGTH / CHARACTER_MAXIMUM_LENGTH), 0)
		FROM QSYS2.SYSCOLUMNS
		WHERE CCSID = ? AND CHARACTER_MAXIMUM_LENGTH > 0
	`

	var n int
	if err := c.db.QueryRowContext(ctx, query, ccsid).Scan(&n); err != nil {
		return 0, fmt.Errorf("query bytes per character of ccsid %d: %w", ccsid, err)
	}
	if n > 0 {
		return n, nil
	}

	c.logger.Debug("no catalog columns use ccsid, using known width", "ccsid", ccsid)
	return KnownBytesPerChar(ccsid), nil
}

// KnownBytesPerChar returns the character width of well-known CCSIDs and 1
// for everything else.
func KnownBytesPerChar(ccsid int) int {
	switch ccsid {
	case 1200, 13488:
		return 2
	default:
		return 1
	}
}

func yes(s string) bool {
	s = strings.TrimSpace(strings.ToUpper(s))
	return s == "Y" || s == "YES"
}

// Ensure SQLCatalog implements Catalog interface.
var _ Catalog = (*SQLCatalog)(nil)
