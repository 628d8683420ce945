// ABOUTME: Typed change notifications surfaced to the host
// ABOUTME: Identifiers are hex strings so receivers never hold native handles

package notify

import (
	"fmt"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// EventType is the kind of change.
type EventType int

const (
	Inserted EventType = iota + 1
	Updated
	Deleted
)

func (t EventType) String() string {
	switch t {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one change to a contact or calendar item. Delivery is at least
// once with no ordering relative to the write that caused it.
type Event struct {
	Type    EventType
	EntryID string
	Kind    mapi.EntityKind
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %s", e.Type, e.Kind, e.EntryID)
}
