// Package rowdecode converts journal record images into column values using
// table layouts read from the host catalog.
package rowdecode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/catalog"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// Config holds row decoder configuration.
type Config struct {
	// Name labels metrics and logs, usually the journal name.
	Name string

	// Database is the relational database name that qualifies table keys.
	Database string

	// DefaultCCSID decodes text columns whose catalog CCSID is 0.
	DefaultCCSID ccsid.CCSID

	// Location interprets date, time and timestamp fields.
	Location *time.Location
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCCSID: ccsid.EBCDIC37,
		Location:     time.UTC,
	}
}

// Row is a decoded record image.
type Row struct {
	Table *TableInfo

	// Values holds one value per column in record order. Null columns are
	// nil.
	Values []any
}

// Get returns the value of the named column.
func (r *Row) Get(name string) (any, bool) {
	for i, c := range r.Table.Columns {
		if c.Name == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the values keyed by column name.
func (r *Row) Map() map[string]any {
	m := make(map[string]any, len(r.Values))
	for i, c := range r.Table.Columns {
		m[c.Name] = r.Values[i]
	}
	return m
}

// Decoder decodes record images. It caches one layout per table and is safe
// for concurrent use.
type Decoder struct {
	catalog catalog.Catalog
	config  Config
	logger  *slog.Logger

	mu     sync.Mutex
	tables map[TableKey]tableEntry
}

type tableEntry struct {
	info *TableInfo
	err  error
}

// New creates a new row decoder.
func New(cat catalog.Catalog, cfg Config, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCCSID == 0 {
		cfg.DefaultCCSID = ccsid.EBCDIC37
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Decoder{
		catalog: cat,
		config:  cfg,
		logger:  logger.With("component", "row-decoder", "journal", cfg.Name),
		tables:  make(map[TableKey]tableEntry),
	}
}

// TableInfo returns the cached layout of a table, reading the catalog on
// first use. A table whose layout cannot be decoded keeps failing until it
// is invalidated.
func (d *Decoder) TableInfo(ctx context.Context, schema, table string) (*TableInfo, error) {
	key := newTableKey(d.config.Database, schema, table)

	d.mu.Lock()
	e, ok := d.tables[key]
	d.mu.Unlock()
	if ok {
		return e.info, e.err
	}

	info, err := d.buildTableInfo(ctx, key)
	if err != nil {
		var lerr *layoutError
		if !errors.As(err, &lerr) {
			return nil, err
		}
		d.logger.Error("table layout cannot be decoded", "table", key.String(), "error", err)
		err = &journal.Error{Kind: journal.KindDecodeError, Op: "build table layout", Err: err}
	}

	d.mu.Lock()
	d.tables[key] = tableEntry{info: info, err: err}
	d.mu.Unlock()

	if err == nil {
		d.logger.Debug("table layout cached",
			"table", key.String(),
			"columns", info.ColumnNames(),
			"row_length", info.RowLength,
		)
	}
	return info, err
}

// Invalidate drops the cached layout of a table so that the next decode
// reads the catalog again.
func (d *Decoder) Invalidate(schema, table string) {
	key := newTableKey(d.config.Database, schema, table)

	d.mu.Lock()
	delete(d.tables, key)
	d.mu.Unlock()

	d.logger.Debug("table layout invalidated", "table", key.String())
}

// InvalidateAll drops every cached layout.
func (d *Decoder) InvalidateAll() {
	d.mu.Lock()
	clear(d.tables)
	d.mu.Unlock()
}

// Cached returns the number of cached layouts.
func (d *Decoder) Cached() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables)
}

// ResolveTable returns the SQL schema and table name of the object an entry
// was journaled against.
func (d *Decoder) ResolveTable(ctx context.Context, h wire.EntryHeader) (string, string, error) {
	name, err := d.catalog.LongName(ctx, h.Library, h.File)
	if err != nil {
		return "", "", fmt.Errorf("resolve table %s/%s: %w", h.Library, h.File, err)
	}
	return h.Library, name, nil
}

// Decode decodes the record image of a journal entry.
func (d *Decoder) Decode(ctx context.Context, h wire.EntryHeader, data []byte, nulls wire.NullIndicators) (*Row, error) {
	schema, table, err := d.ResolveTable(ctx, h)
	if err != nil {
		return nil, err
	}

	info, err := d.TableInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	if h.MinimizedESD() {
		return nil, d.decodeError(h, info, errors.New("entry-specific data is minimized"))
	}

	row, err := DecodeRow(info, data, nulls)
	if err != nil {
		return nil, d.decodeError(h, info, err)
	}
	return row, nil
}

func (d *Decoder) decodeError(h wire.EntryHeader, info *TableInfo, err error) error {
	metrics.RowDecodeErrorsTotal.WithLabelValues(d.config.Name, info.Key.String()).Inc()
	return &journal.Error{
		Kind:     journal.KindDecodeError,
		Op:       "decode row",
		Position: h.Position(),
		Err:      fmt.Errorf("table %s: %w", info.Key, err),
	}
}

// DecodeRow decodes a record image with the given layout. Columns whose null
// indicator is set decode to nil without reading their bytes.
func DecodeRow(info *TableInfo, data []byte, nulls wire.NullIndicators) (*Row, error) {
	if data == nil {
		return nil, errors.New("entry has no record image")
	}
	if len(data) < info.RowLength {
		return nil, fmt.Errorf("record image is %d bytes, layout needs %d", len(data), info.RowLength)
	}
	if nulls != nil && nulls.Len() < len(info.Columns) {
		return nil, fmt.Errorf("null indicators cover %d of %d columns", nulls.Len(), len(info.Columns))
	}

	row := &Row{Table: info, Values: make([]any, len(info.Columns))}
	for i := range info.Columns {
		c := &info.Columns[i]
		if nulls.IsNull(i) {
			if !c.Nullable {
				return nil, fmt.Errorf("column %s is not nullable but its null indicator is set", c.Name)
			}
			continue
		}

		v, err := c.decode(data[c.Offset : c.Offset+c.Width])
		if err != nil {
			return nil, fmt.Errorf("column %s (%s): %w", c.Name, c.Type, err)
		}
		row.Values[i] = v
	}
	return row, nil
}
