// ABOUTME: Opaque entry identifiers and their hex transport form
// ABOUTME: Identifiers always cross process boundaries as upper-case hex strings

package mapi

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EntryID is an opaque identifier for a store, folder or message.
type EntryID []byte

// String returns the upper-case hex form used on every boundary.
func (id EntryID) String() string {
	return strings.ToUpper(hex.EncodeToString(id))
}

// IsZero reports whether the identifier is empty.
func (id EntryID) IsZero() bool {
	return len(id) == 0
}

// Clone returns a copy that does not share memory with id.
func (id EntryID) Clone() EntryID {
	if id == nil {
		return nil
	}
	out := make(EntryID, len(id))
	copy(out, id)
	return out
}

// ParseEntryID decodes the hex form of an identifier.
func ParseEntryID(s string) (EntryID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidEntryID)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntryID, err)
	}
	return EntryID(b), nil
}
