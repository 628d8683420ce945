// ABOUTME: Request and response messages of the broker and callback services
// ABOUTME: Entry identifiers travel as upper-case hex strings

package wire

// PingResponse identifies the process answering a Ping.
type PingResponse struct {
	PID     int    `cbor:"pid"`
	Bitness int    `cbor:"bitness,omitempty"`
	Version string `cbor:"version,omitempty"`
}

// StopRequest asks the broker server to shut down.
type StopRequest struct {
	Reason string `cbor:"reason,omitempty"`
}

// EnumerateRequest starts a walk. Each matching row is sent back through the
// callback service with the same visit token.
type EnumerateRequest struct {
	Query      string `cbor:"query,omitempty"`
	VisitToken string `cbor:"visit_token"`
}

// EnumerateResponse summarizes a finished walk.
type EnumerateResponse struct {
	Visited int  `cbor:"visited"`
	Stopped bool `cbor:"stopped"`
	Skipped int  `cbor:"skipped,omitempty"`
}

// GetPropsRequest reads a batch of properties.
type GetPropsRequest struct {
	EntryID string   `cbor:"entry_id"`
	Tags    []uint32 `cbor:"tags"`
	Flags   uint32   `cbor:"flags,omitempty"`
}

// GetPropsResponse is a packed property batch.
type GetPropsResponse struct {
	Values  []byte   `cbor:"values"`
	Lengths []uint32 `cbor:"lengths"`
	Types   []byte   `cbor:"types"`
}

// SetPropStringRequest writes one string property.
type SetPropStringRequest struct {
	EntryID string `cbor:"entry_id"`
	Tag     uint32 `cbor:"tag"`
	Value   string `cbor:"value"`
}

// DeletePropRequest removes one property.
type DeletePropRequest struct {
	EntryID string `cbor:"entry_id"`
	Tag     uint32 `cbor:"tag"`
}

// CreateEntityRequest creates a blank entity. An empty kind means contact.
type CreateEntityRequest struct {
	Kind string `cbor:"kind,omitempty"`
}

// EntityResponse carries the identifier of a created entity.
type EntityResponse struct {
	EntryID string `cbor:"entry_id"`
}

// EntryIDRequest names one entity.
type EntryIDRequest struct {
	EntryID string `cbor:"entry_id"`
}

// CompareRequest asks whether two identifiers name the same entity.
type CompareRequest struct {
	A string `cbor:"a"`
	B string `cbor:"b"`
}

// CompareResponse answers a CompareRequest.
type CompareResponse struct {
	Equal bool `cbor:"equal"`
}

// VisitRequest hands one enumerated row to the caller.
type VisitRequest struct {
	VisitToken string `cbor:"visit_token"`
	EntryID    string `cbor:"entry_id"`
}

// VisitResponse tells the walk whether to go on.
type VisitResponse struct {
	Continue bool `cbor:"continue"`
}

// NotifyRequest reports a change to one entity.
type NotifyRequest struct {
	EntryID string `cbor:"entry_id"`
	Kind    string `cbor:"kind"`
}
