package catalog

import (
	"context"
	"strings"
	"sync"
)

// NameCache memoizes the name and character width lookups of a Catalog.
// Column and key lookups are passed through; the row decoder caches those
// per table.
type NameCache struct {
	Catalog

	mu       sync.Mutex
	long     map[nameKey]string
	system   map[nameKey]string
	charsets map[int]int
}

type nameKey struct {
	schema, table string
}

func key(schema, table string) nameKey {
	return nameKey{strings.ToUpper(schema), strings.ToUpper(table)}
}

// NewNameCache wraps c with name memoization.
func NewNameCache(c Catalog) *NameCache {
	return &NameCache{
		Catalog:  c,
		long:     make(map[nameKey]string),
		system:   make(map[nameKey]string),
		charsets: make(map[int]int),
	}
}

// LongName returns the SQL name of a table, cached after the first lookup.
func (n *NameCache) LongName(ctx context.Context, schema, systemName string) (string, error) {
	k := key(schema, systemName)

	n.mu.Lock()
	name, ok := n.long[k]
	n.mu.Unlock()
	if ok {
		return name, nil
	}

	name, err := n.Catalog.LongName(ctx, schema, systemName)
	if err != nil {
		return "", err
	}

	n.mu.Lock()
	n.long[k] = name
	n.system[key(schema, name)] = k.table
	n.mu.Unlock()
	return name, nil
}

// SystemName returns the system name of a table, cached after the first
// lookup.
func (n *NameCache) SystemName(ctx context.Context, schema, longName string) (string, error) {
	k := key(schema, longName)

	n.mu.Lock()
	name, ok := n.system[k]
	n.mu.Unlock()
	if ok {
		return name, nil
	}

	name, err := n.Catalog.SystemName(ctx, schema, longName)
	if err != nil {
		return "", err
	}

	n.mu.Lock()
	n.system[k] = name
	n.long[key(schema, name)] = k.table
	n.mu.Unlock()
	return name, nil
}

// BytesPerChar returns the character width of a CCSID, cached after the
// first lookup.
func (n *NameCache) BytesPerChar(ctx context.Context, ccsid int) (int, error) {
	n.mu.Lock()
	w, ok := n.charsets[ccsid]
	n.mu.Unlock()
	if ok {
		return w, nil
	}

	w, err := n.Catalog.BytesPerChar(ctx, ccsid)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	n.charsets[ccsid] = w
	n.mu.Unlock()
	return w, nil
}

// Forget drops the cached names of a table, for example after a rename.
func (n *NameCache) Forget(schema, table string) {
	k := key(schema, table)

	n.mu.Lock()
	defer n.mu.Unlock()

	if long, ok := n.long[k]; ok {
		delete(n.system, key(schema, long))
		delete(n.long, k)
	}
	if sys, ok := n.system[k]; ok {
		delete(n.long, key(schema, sys))
		delete(n.system, k)
	}
}

// Ensure NameCache implements Catalog interface.
var _ Catalog = (*NameCache)(nil)
