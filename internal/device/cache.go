package device

import "sync/atomic"

// cacheEntry pairs a snapshot with the poll ticket that produced it.
// Entries are immutable once stored.
type cacheEntry struct {
	ticket uint64
	state  State
}

// StateCache is the single read/write slot holding a device's latest snapshot.
//
// Read never blocks and never fails. Writers swap the whole entry, so a
// concurrent reader sees either the old snapshot or the new one, never a mix.
type StateCache struct {
	slot atomic.Pointer[cacheEntry]
}

// NewStateCache returns a cache holding DefaultState.
func NewStateCache() *StateCache {
	c := &StateCache{}
	c.slot.Store(&cacheEntry{state: DefaultState()})
	return c
}

// Read returns the current snapshot.
func (c *StateCache) Read() State {
	return c.slot.Load().state
}

// Write replaces the snapshot unconditionally, keeping the last applied ticket.
func (c *StateCache) Write(s State) {
	for {
		cur := c.slot.Load()
		if c.slot.CompareAndSwap(cur, &cacheEntry{ticket: cur.ticket, state: s}) {
			return
		}
	}
}

// Apply stores s if ticket is newer than every ticket applied so far.
// It reports whether s was stored; an older poll response that finishes
// after a newer one is discarded.
func (c *StateCache) Apply(ticket uint64, s State) bool {
	next := &cacheEntry{ticket: ticket, state: s}
	for {
		cur := c.slot.Load()
		if ticket <= cur.ticket {
			return false
		}
		if c.slot.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Ticket returns the ticket of the last applied poll, 0 if none.
func (c *StateCache) Ticket() uint64 {
	return c.slot.Load().ticket
}
