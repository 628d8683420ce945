// ABOUTME: Pending visitor table keyed by visit tokens
// ABOUTME: An enumeration registers its visitor for the duration of the call

package client

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// Visitor receives one enumerated entity. Returning false stops the walk.
// The visitor may call back into the client.
type Visitor func(ctx context.Context, id mapi.EntryID) bool

type visitors struct {
	mu      sync.Mutex
	pending map[string]Visitor
}

func newVisitors() *visitors {
	return &visitors{pending: make(map[string]Visitor)}
}

func (v *visitors) add(fn Visitor) string {
	token := uuid.New().String()
	v.mu.Lock()
	v.pending[token] = fn
	v.mu.Unlock()
	return token
}

func (v *visitors) get(token string) (Visitor, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn, ok := v.pending[token]
	return fn, ok
}

func (v *visitors) remove(token string) {
	v.mu.Lock()
	delete(v.pending, token)
	v.mu.Unlock()
}

func (v *visitors) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}
