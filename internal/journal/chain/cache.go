package chain

import (
	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// Cache holds the details of detached receivers. A detached receiver never
// changes, so its details can be reused across listings. The attached
// receiver is never cached.
//
// A Cache is owned by a single pagination engine and is not safe for
// concurrent use.
type Cache struct {
	entries map[journal.Receiver]journal.DetailedReceiver
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[journal.Receiver]journal.DetailedReceiver),
	}
}

// Get returns the cached details for r.
func (c *Cache) Get(r journal.Receiver) (journal.DetailedReceiver, bool) {
	d, ok := c.entries[r]
	return d, ok
}

// Put stores d if its status allows it. It returns false if d was rejected.
func (c *Cache) Put(d journal.DetailedReceiver) bool {
	if !d.Info.Status.Cacheable() {
		return false
	}
	c.entries[d.Receiver()] = d
	return true
}

// Reconcile drops every receiver that is missing from the latest listing, or
// whose status in the listing is no longer cacheable. It returns the number
// of evicted entries.
func (c *Cache) Reconcile(listing []journal.ReceiverInfo) int {
	keep := make(map[journal.Receiver]journal.ReceiverStatus, len(listing))
	for _, info := range listing {
		keep[info.Receiver] = info.Status
	}

	evicted := 0
	for r, d := range c.entries {
		status, ok := keep[r]
		if !ok || !status.Cacheable() || status != d.Info.Status {
			delete(c.entries, r)
			evicted++
		}
	}
	return evicted
}

// Clear removes all entries.
func (c *Cache) Clear() {
	clear(c.entries)
}

// Len returns the number of cached receivers.
func (c *Cache) Len() int {
	return len(c.entries)
}
