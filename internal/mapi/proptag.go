// ABOUTME: Property tags, property types and the typed property value
// ABOUTME: Tags pack a 16-bit id and a 16-bit type like the native store does

package mapi

import (
	"fmt"
	"time"
)

// Property data types.
const (
	PtypInteger16  = 0x0002
	PtypInteger32  = 0x0003
	PtypFloating64 = 0x0005
	PtypBoolean    = 0x000B
	PtypInteger64  = 0x0014
	PtypString8    = 0x001E
	PtypString     = 0x001F
	PtypTime       = 0x0040
	PtypBinary     = 0x0102
)

// FlagUnicode asks for wide strings when reading PtypString properties.
const FlagUnicode uint32 = 0x80000000

// PropTag identifies a property: id in the high 16 bits, type in the low 16 bits.
type PropTag uint32

// NewPropTag builds a tag from an id and a type.
func NewPropTag(id, typ uint16) PropTag {
	return PropTag(uint32(id)<<16 | uint32(typ))
}

// ID returns the property id.
func (t PropTag) ID() uint16 { return uint16(t >> 16) }

// Type returns the property type.
func (t PropTag) Type() uint16 { return uint16(t) }

// WithType returns the same property id with a different type.
func (t PropTag) WithType(typ uint16) PropTag { return NewPropTag(t.ID(), typ) }

func (t PropTag) String() string {
	return fmt.Sprintf("0x%08X", uint32(t))
}

// Well known tags.
var (
	PropTagEntryID        = NewPropTag(0x0FFF, PtypBinary)
	PropTagMessageClass   = NewPropTag(0x001A, PtypString)
	PropTagSubject        = NewPropTag(0x0037, PtypString)
	PropTagDisplayName    = NewPropTag(0x3001, PtypString)
	PropTagEmailAddress   = NewPropTag(0x3003, PtypString)
	PropTagHasAttach      = NewPropTag(0x0E1B, PtypBoolean)
	PropTagCreationTime   = NewPropTag(0x3007, PtypTime)
	PropTagLastModified   = NewPropTag(0x3008, PtypTime)
	PropTagContainerClass = NewPropTag(0x3613, PtypString)
	PropTagGivenName      = NewPropTag(0x3A06, PtypString)
	PropTagSurname        = NewPropTag(0x3A11, PtypString)
	PropTagCompanyName    = NewPropTag(0x3A16, PtypString)
	PropTagBusinessPhone  = NewPropTag(0x3A08, PtypString)
	PropTagMobilePhone    = NewPropTag(0x3A1C, PtypString)
	PropTagImportance     = NewPropTag(0x0017, PtypInteger32)

	// PropTagContactPhoto is not stored on the message. Reading it yields the
	// contact photo attachment when the message has one.
	PropTagContactPhoto = PropTag(0x7FFF000B)
)

// Message classes for the entities the broker surfaces.
const (
	ClassContact     = "IPM.Contact"
	ClassAppointment = "IPM.Appointment"
)

// Container classes for folders.
const (
	ContainerContacts = "IPF.Contact"
	ContainerCalendar = "IPF.Appointment"
	ContainerNote     = "IPF.Note"
)

// PropValue is one property read from or written to a message.
// Value holds int32, bool, string, []byte or time.Time depending on the
// tag type. Err is set instead when the property is missing or unreadable.
type PropValue struct {
	Tag   PropTag
	Value any
	Err   error
}

// StringValue returns a PropValue holding a string for tag.
func StringValue(tag PropTag, s string) PropValue {
	return PropValue{Tag: tag, Value: s}
}

// Missing reports whether the value could not be read.
func (v PropValue) Missing() bool {
	return v.Err != nil || v.Value == nil
}

// CheckValue verifies that v carries a Go value matching its tag type.
func CheckValue(v PropValue) error {
	var ok bool
	switch v.Tag.Type() {
	case PtypInteger32:
		_, ok = v.Value.(int32)
	case PtypBoolean:
		_, ok = v.Value.(bool)
	case PtypString, PtypString8:
		_, ok = v.Value.(string)
	case PtypBinary:
		_, ok = v.Value.([]byte)
	case PtypTime:
		_, ok = v.Value.(time.Time)
	default:
		return fmt.Errorf("%w: property type 0x%04X", ErrNotSupported, v.Tag.Type())
	}
	if !ok {
		return fmt.Errorf("%w: value %T does not match tag %s", ErrNotSupported, v.Value, v.Tag)
	}
	return nil
}
