// ABOUTME: Sentinel errors shared by the store model, the broker and its backends
// ABOUTME: Use errors.Is to check; backends wrap these with call-specific detail

package mapi

import "errors"

var (
	// ErrNotFound is returned when an identifier does not resolve to an object.
	ErrNotFound = errors.New("mapi: not found")

	// ErrInvalidEntryID is returned when an identifier cannot be decoded.
	ErrInvalidEntryID = errors.New("mapi: invalid entry id")

	// ErrAccessDenied is returned when the store refuses an operation.
	ErrAccessDenied = errors.New("mapi: access denied")

	// ErrNotSupported is returned for property types or objects the store cannot handle.
	ErrNotSupported = errors.New("mapi: not supported")

	// ErrLoggedOff is returned when a session is used after Logoff.
	ErrLoggedOff = errors.New("mapi: session logged off")

	// ErrUnknownConnection is returned by Unadvise for a token it never issued.
	ErrUnknownConnection = errors.New("mapi: unknown advise connection")
)
