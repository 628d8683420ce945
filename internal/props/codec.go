// ABOUTME: Converts single property values to and from wire entries
// ABOUTME: Narrow strings are Windows-1252, wide strings UTF-16LE, binary goes as hex

package props

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// TimeLayout is the timestamp format of TypeTime entries, always UTC.
const TimeLayout = "2006-01-02 15:04:05"

var (
	narrow = charmap.Windows1252
	wide   = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// Encode turns a property value into an entry. Missing values and types the
// protocol cannot carry become absent entries. flags&mapi.FlagUnicode selects
// wide strings for PtypString.
func Encode(v mapi.PropValue, flags uint32) Entry {
	if v.Missing() {
		return Entry{Type: TypeAbsent}
	}
	e, err := encodeValue(v, flags)
	if err != nil {
		return Entry{Type: TypeAbsent}
	}
	return e
}

func encodeValue(v mapi.PropValue, flags uint32) (Entry, error) {
	switch x := v.Value.(type) {
	case int32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(x))
		return Entry{Type: TypeInt32, Data: buf}, nil
	case bool:
		if x {
			return Entry{Type: TypeBool, Data: []byte{1}}, nil
		}
		return Entry{Type: TypeBool, Data: []byte{0}}, nil
	case time.Time:
		return Entry{Type: TypeTime, Data: []byte(x.UTC().Format(TimeLayout))}, nil
	case []byte:
		return Entry{Type: TypeString8, Data: []byte(strings.ToUpper(hex.EncodeToString(x)))}, nil
	case string:
		if v.Tag.Type() == mapi.PtypString && flags&mapi.FlagUnicode != 0 {
			return EncodeUnicode(x)
		}
		return EncodeString8(x)
	default:
		return Entry{}, fmt.Errorf("props: cannot encode %T", v.Value)
	}
}

// EncodeString8 encodes s as Windows-1252. Characters outside the code page
// become '?'.
func EncodeString8(s string) (Entry, error) {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		c, ok := narrow.EncodeRune(r)
		if !ok {
			c = '?'
		}
		b = append(b, c)
	}
	return Entry{Type: TypeString8, Data: b}, nil
}

// EncodeUnicode encodes s as UTF-16LE without a byte order mark.
func EncodeUnicode(s string) (Entry, error) {
	b, err := wide.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return Entry{}, fmt.Errorf("props: encoding wide string: %w", err)
	}
	return Entry{Type: TypeUnicode, Data: b}, nil
}

// Decode turns an entry back into a Go value: int32, string, []byte, bool,
// time.Time, or nil for an absent entry.
func Decode(e Entry) (any, error) {
	switch e.Type {
	case TypeAbsent:
		return nil, nil
	case TypeInt32:
		if len(e.Data) != 4 {
			return nil, fmt.Errorf("%w: int32 entry with %d bytes", ErrMalformed, len(e.Data))
		}
		return int32(binary.LittleEndian.Uint32(e.Data)), nil
	case TypeBool:
		if len(e.Data) != 1 {
			return nil, fmt.Errorf("%w: bool entry with %d bytes", ErrMalformed, len(e.Data))
		}
		return e.Data[0] != 0, nil
	case TypeString8:
		b, err := narrow.NewDecoder().Bytes(e.Data)
		if err != nil {
			return nil, fmt.Errorf("props: decoding narrow string: %w", err)
		}
		return string(b), nil
	case TypeUnicode:
		b, err := wide.NewDecoder().Bytes(e.Data)
		if err != nil {
			return nil, fmt.Errorf("props: decoding wide string: %w", err)
		}
		return string(b), nil
	case TypeBytes:
		return append([]byte(nil), e.Data...), nil
	case TypeTime:
		t, err := time.ParseInLocation(TimeLayout, string(e.Data), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: unknown type tag 0x%02X", ErrMalformed, byte(e.Type))
	}
}

// DecodeBatch unpacks b and decodes every entry.
func DecodeBatch(b Batch) ([]any, error) {
	entries, err := Unpack(b)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		v, err := Decode(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
