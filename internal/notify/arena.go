// ABOUTME: Arena of advise registrations keyed by opaque tokens
// ABOUTME: Releasing is look-up-and-remove; a token can only be released once

package notify

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// advisable is a notification source: the store table or an open store.
type advisable interface {
	Unadvise(conn mapi.Connection) error
}

// releasable is an advise sink that can be told to ignore further events.
type releasable interface {
	release()
}

// Registration describes one bound source.
type Registration struct {
	Token uuid.UUID
	// StoreID is empty for the store table registration.
	StoreID mapi.EntryID
	Conn    mapi.Connection
}

// IsTable reports whether the registration observes the store table.
func (r Registration) IsTable() bool { return r.StoreID == nil }

type entry struct {
	Registration
	source advisable
	sink   releasable
	seq    uint64
}

type arena struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	seq     uint64
}

func newArena() *arena {
	return &arena{entries: make(map[uuid.UUID]*entry)}
}

func (a *arena) add(storeID mapi.EntryID, conn mapi.Connection, source advisable, sink releasable, token uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	a.entries[token] = &entry{
		Registration: Registration{Token: token, StoreID: storeID.Clone(), Conn: conn},
		source:       source,
		sink:         sink,
		seq:          a.seq,
	}
}

func (a *arena) take(token uuid.UUID) (*entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[token]
	if ok {
		delete(a.entries, token)
	}
	return e, ok
}

func (a *arena) has(token uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[token]
	return ok
}

// tokens lists store registrations first, then the table, each in bind order.
func (a *arena) tokens() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	all := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].IsTable() != all[j].IsTable() {
			return !all[i].IsTable()
		}
		return all[i].seq < all[j].seq
	})
	out := make([]uuid.UUID, len(all))
	for i, e := range all {
		out[i] = e.Token
	}
	return out
}

func (a *arena) snapshot() []Registration {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Registration, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Registration)
	}
	sort.Slice(out, func(i, j int) bool {
		return a.entries[out[i].Token].seq < a.entries[out[j].Token].seq
	})
	return out
}

func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
