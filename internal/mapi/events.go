// ABOUTME: Notification events raised by stores and the store table
// ABOUTME: Sinks receive these on a backend-owned dispatch goroutine

package mapi

// Connection is the token returned by Advise and taken back by Unadvise.
type Connection uint64

// EventMask selects which object events a store sink receives.
type EventMask uint32

// Object event types.
const (
	EventObjectCreated  EventMask = 0x00000004
	EventObjectDeleted  EventMask = 0x00000008
	EventObjectModified EventMask = 0x00000010
	EventObjectMoved    EventMask = 0x00000020
	EventObjectCopied   EventMask = 0x00000040

	EventObjectAll = EventObjectCreated | EventObjectDeleted | EventObjectModified |
		EventObjectMoved | EventObjectCopied
)

func (m EventMask) String() string {
	switch m {
	case EventObjectCreated:
		return "created"
	case EventObjectDeleted:
		return "deleted"
	case EventObjectModified:
		return "modified"
	case EventObjectMoved:
		return "moved"
	case EventObjectCopied:
		return "copied"
	default:
		return "mask"
	}
}

// ObjectType distinguishes folders from messages in object events.
type ObjectType int

const (
	ObjectMessage ObjectType = iota + 1
	ObjectFolder
	ObjectStore
)

// ObjectEvent reports a change to one object of a store.
type ObjectEvent struct {
	Type       EventMask
	ObjectType ObjectType
	EntryID    EntryID
	ParentID   EntryID

	// OldID and OldParentID are set for moves, copies and renames.
	OldID       EntryID
	OldParentID EntryID

	// MessageClass is filled in when the backend still knows it, which
	// matters for deletions where the object can no longer be opened.
	MessageClass string
}

// TableEventType is the kind of change a table reports.
type TableEventType int

// Table event types.
const (
	TableChanged      TableEventType = 1
	TableError        TableEventType = 2
	TableRowAdded     TableEventType = 3
	TableRowDeleted   TableEventType = 4
	TableRowModified  TableEventType = 5
	TableSortDone     TableEventType = 6
	TableRestrictDone TableEventType = 7
	TableSetColDone   TableEventType = 8
	TableReload       TableEventType = 9
)

func (t TableEventType) String() string {
	switch t {
	case TableChanged:
		return "TABLE_CHANGED"
	case TableError:
		return "TABLE_ERROR"
	case TableRowAdded:
		return "TABLE_ROW_ADDED"
	case TableRowDeleted:
		return "TABLE_ROW_DELETED"
	case TableRowModified:
		return "TABLE_ROW_MODIFIED"
	case TableSortDone:
		return "TABLE_SORT_DONE"
	case TableRestrictDone:
		return "TABLE_RESTRICT_DONE"
	case TableSetColDone:
		return "TABLE_SETCOL_DONE"
	case TableReload:
		return "TABLE_RELOAD"
	default:
		return "TABLE_UNKNOWN"
	}
}

// TableEvent reports a change to a table.
type TableEvent struct {
	Type TableEventType
	Row  *StoreRow
}

// TableSink receives table events.
type TableSink interface {
	OnTableEvent(ev TableEvent)
}

// ObjectSink receives object events.
type ObjectSink interface {
	OnObjectEvent(ev ObjectEvent)
}

// TableSinkFunc adapts a function to TableSink.
type TableSinkFunc func(ev TableEvent)

// OnTableEvent calls f(ev).
func (f TableSinkFunc) OnTableEvent(ev TableEvent) { f(ev) }

// ObjectSinkFunc adapts a function to ObjectSink.
type ObjectSinkFunc func(ev ObjectEvent)

// OnObjectEvent calls f(ev).
func (f ObjectSinkFunc) OnObjectEvent(ev ObjectEvent) { f(ev) }
