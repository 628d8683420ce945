// Package mapi models the native mail/calendar store the broker talks to.
//
// # Overview
//
// The broker never touches a store library directly. Everything it needs is
// expressed through the small set of interfaces in this package:
//
//   - Provider: logs on and hands out a Session
//   - Session: the single live handle to the store, owned by session.Guard
//   - StoreTable: the list of stores (one row per account/profile store)
//   - Store: an open store with a root folder, a trash folder and advise support
//   - Folder: a container with a contents table and a hierarchy table
//   - Message: a contact or calendar item with typed properties
//
// The development backend lives in mapi/sqlitestore.
//
// # Entry Identifiers
//
// EntryID is an opaque byte string. It crosses every process boundary as an
// upper-case hex string:
//
//	id.String()            // "00A1B2..."
//	mapi.ParseEntryID(s)   // accepts upper or lower case
//
// Two identifiers may name the same logical entity (an item keeps its
// identity across a move but gets a new identifier). Only
// Session.CompareEntryIDs decides equality.
//
// # Property Tags
//
// PropTag packs a property id and a property type the same way the store does:
//
//	tag := mapi.NewPropTag(0x3001, mapi.PtypString) // PR_DISPLAY_NAME
//	tag.ID()   // 0x3001
//	tag.Type() // 0x001F
//
// PropTagContactPhoto is a pseudo property. Reading it returns the bytes of
// the contact photo attachment rather than a literal property.
//
// # Notifications
//
// Stores and the store table report changes to sinks registered with Advise.
// Advise returns a Connection token that Unadvise takes back. Sinks are called
// on a dispatch goroutine owned by the backend, never on the caller's
// goroutine.
package mapi
