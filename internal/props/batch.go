// ABOUTME: Property value sets as three parallel buffers: values, lengths, type tags
// ABOUTME: Pack sizes the value buffer up front; Unpack re-slices it by walking lengths

package props

import (
	"errors"
	"fmt"
)

// Type is the one-byte tag that says how an entry's bytes are to be read.
type Type byte

// Entry types on the wire.
const (
	TypeAbsent  Type = 0x00
	TypeInt32   Type = 'l'
	TypeString8 Type = 's'
	TypeUnicode Type = 'u'
	TypeBytes   Type = 'b'
	TypeBool    Type = 'B'
	TypeTime    Type = 't'
)

func (t Type) String() string {
	switch t {
	case TypeAbsent:
		return "absent"
	case TypeInt32:
		return "int32"
	case TypeString8:
		return "string8"
	case TypeUnicode:
		return "unicode"
	case TypeBytes:
		return "bytes"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	default:
		return fmt.Sprintf("type(0x%02X)", byte(t))
	}
}

// ErrMalformed is returned by Unpack for inconsistent buffers.
var ErrMalformed = errors.New("props: malformed batch")

// Entry is one property value of a batch.
type Entry struct {
	Type Type
	Data []byte
}

// Absent reports whether the property was missing or unreadable.
func (e Entry) Absent() bool { return e.Type == TypeAbsent }

// Batch is a packed property value set. Entry i occupies Lengths[i] bytes of
// Values, starting where entry i-1 ended, and is read according to Types[i].
type Batch struct {
	Values  []byte
	Lengths []uint32
	Types   []byte
}

// Len returns the number of entries.
func (b Batch) Len() int { return len(b.Types) }

// Pack lays entries out back to back.
func Pack(entries []Entry) Batch {
	total := 0
	for _, e := range entries {
		if e.Type != TypeAbsent {
			total += len(e.Data)
		}
	}

	b := Batch{
		Values:  make([]byte, 0, total),
		Lengths: make([]uint32, len(entries)),
		Types:   make([]byte, len(entries)),
	}
	for i, e := range entries {
		b.Types[i] = byte(e.Type)
		if e.Type == TypeAbsent {
			continue
		}
		b.Lengths[i] = uint32(len(e.Data))
		b.Values = append(b.Values, e.Data...)
	}
	return b
}

// Unpack splits a batch back into entries. Entry data aliases b.Values.
func Unpack(b Batch) ([]Entry, error) {
	if len(b.Lengths) != len(b.Types) {
		return nil, fmt.Errorf("%w: %d lengths for %d types", ErrMalformed, len(b.Lengths), len(b.Types))
	}

	var sum uint64
	for _, n := range b.Lengths {
		sum += uint64(n)
	}
	if sum != uint64(len(b.Values)) {
		return nil, fmt.Errorf("%w: lengths sum to %d but %d value bytes", ErrMalformed, sum, len(b.Values))
	}

	entries := make([]Entry, len(b.Types))
	offset := 0
	for i, raw := range b.Types {
		t := Type(raw)
		n := int(b.Lengths[i])
		if err := checkLength(t, n); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformed, i, err)
		}
		entries[i] = Entry{Type: t}
		if t != TypeAbsent {
			entries[i].Data = b.Values[offset : offset+n : offset+n]
		}
		offset += n
	}
	return entries, nil
}

func checkLength(t Type, n int) error {
	switch t {
	case TypeAbsent:
		if n != 0 {
			return fmt.Errorf("absent entry with %d bytes", n)
		}
	case TypeInt32:
		if n != 4 {
			return fmt.Errorf("int32 entry with %d bytes", n)
		}
	case TypeBool:
		if n != 1 {
			return fmt.Errorf("bool entry with %d bytes", n)
		}
	case TypeUnicode:
		if n%2 != 0 {
			return fmt.Errorf("unicode entry with odd length %d", n)
		}
	case TypeTime:
		if n != len(TimeLayout) {
			return fmt.Errorf("time entry with %d bytes", n)
		}
	case TypeString8, TypeBytes:
	default:
		return fmt.Errorf("unknown type tag 0x%02X", byte(t))
	}
	return nil
}
