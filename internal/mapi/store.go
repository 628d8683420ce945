// ABOUTME: Interfaces for the native store: provider, session, stores, folders, messages
// ABOUTME: Backends implement these; the broker depends on nothing else

package mapi

import (
	"context"
	"strings"
)

// LogonFlags are passed through to the provider on logon.
type LogonFlags uint32

// Logon flags understood by the backends.
const (
	LogonExtended   LogonFlags = 0x00000020
	LogonNoMail     LogonFlags = 0x00008000
	LogonUseDefault LogonFlags = 0x00000001
)

// Provider opens sessions against a store installation.
type Provider interface {
	Logon(ctx context.Context, profile string, flags LogonFlags) (Session, error)
}

// Session is the single live handle to the store.
type Session interface {
	// StoreTable returns the table listing every store of the profile.
	StoreTable() StoreTable

	// OpenStore opens the store with the given identifier.
	OpenStore(ctx context.Context, id EntryID) (Store, error)

	// OpenFolder opens any folder in any open store.
	OpenFolder(ctx context.Context, id EntryID) (Folder, error)

	// OpenMessage opens a contact or calendar item.
	OpenMessage(ctx context.Context, id EntryID) (Message, error)

	// DeleteMessage removes a message permanently.
	DeleteMessage(ctx context.Context, id EntryID) error

	// CompareEntryIDs reports whether a and b name the same logical object.
	CompareEntryIDs(a, b EntryID) (bool, error)

	// Logoff ends the session. Every advise connection must be released first.
	Logoff(ctx context.Context) error
}

// StoreRow is one row of the store table.
type StoreRow struct {
	EntryID     EntryID
	DisplayName string
	Default     bool
}

// StoreTable lists the stores of a profile and reports structural changes.
type StoreTable interface {
	Rows(ctx context.Context) ([]StoreRow, error)
	Advise(sink TableSink) (Connection, error)
	Unadvise(conn Connection) error
}

// FolderKind selects a default folder of a store.
type FolderKind int

const (
	FolderContacts FolderKind = iota
	FolderCalendar
	FolderTrash
)

// Store is an open message store.
type Store interface {
	EntryID() EntryID
	DisplayName() string

	// RootFolder opens the top of the folder hierarchy.
	RootFolder(ctx context.Context) (Folder, error)

	// DefaultFolderID returns the identifier of a well known folder.
	DefaultFolderID(ctx context.Context, kind FolderKind) (EntryID, error)

	// Advise registers sink for the object events selected by mask.
	Advise(mask EventMask, sink ObjectSink) (Connection, error)
	Unadvise(conn Connection) error
}

// Row is one row of a folder contents table.
type Row struct {
	EntryID      EntryID
	MessageClass string
	Props        []PropValue
}

// Folder is a container of messages and child folders.
type Folder interface {
	EntryID() EntryID
	DisplayName() string
	ContainerClass() string

	// Contents lists the messages directly in the folder with the requested columns.
	Contents(ctx context.Context, columns []PropTag) ([]Row, error)

	// Hierarchy lists the identifiers of the direct child folders.
	Hierarchy(ctx context.Context) ([]EntryID, error)

	// CreateMessage creates an empty message of the given class in the folder.
	CreateMessage(ctx context.Context, messageClass string) (Message, error)
}

// Attachment is a file attached to a message.
type Attachment struct {
	Filename     string
	ContactPhoto bool
	Data         []byte
}

// Message is a contact or calendar item.
type Message interface {
	EntryID() EntryID
	MessageClass() string

	// GetProps reads the requested properties. A property that cannot be read
	// comes back with Err set; the call itself only fails when the message is gone.
	GetProps(ctx context.Context, tags []PropTag) ([]PropValue, error)
	SetProps(ctx context.Context, values []PropValue) error
	DeleteProps(ctx context.Context, tags []PropTag) error
	Attachments(ctx context.Context) ([]Attachment, error)
}

// EntityKind classifies the entities surfaced to the host.
type EntityKind string

const (
	KindUnknown  EntityKind = ""
	KindContact  EntityKind = "contact"
	KindCalendar EntityKind = "calendar"
)

// KindOfClass maps a message class to an entity kind.
func KindOfClass(messageClass string) EntityKind {
	switch {
	case hasClassPrefix(messageClass, ClassContact):
		return KindContact
	case hasClassPrefix(messageClass, ClassAppointment):
		return KindCalendar
	default:
		return KindUnknown
	}
}

// KindOfContainer maps a folder container class to the kind of entity it holds.
func KindOfContainer(containerClass string) EntityKind {
	switch {
	case hasClassPrefix(containerClass, ContainerContacts):
		return KindContact
	case hasClassPrefix(containerClass, ContainerCalendar):
		return KindCalendar
	default:
		return KindUnknown
	}
}

// hasClassPrefix matches "IPM.Contact" and "IPM.Contact.Custom" but not "IPM.ContactX".
func hasClassPrefix(class, prefix string) bool {
	if len(class) < len(prefix) || !strings.EqualFold(class[:len(prefix)], prefix) {
		return false
	}
	return len(class) == len(prefix) || class[len(prefix)] == '.'
}
