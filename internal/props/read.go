// ABOUTME: Reads a property batch from a message, including the contact photo
// ABOUTME: Unreadable properties become absent entries; only a vanished message fails the call

package props

import (
	"context"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// Read fetches tags from msg and packs them in request order.
// mapi.PropTagContactPhoto yields the contact photo attachment as TypeBytes
// when the message has attachments and one of them is flagged as the photo.
func Read(ctx context.Context, msg mapi.Message, tags []mapi.PropTag, flags uint32) (Batch, error) {
	request := make([]mapi.PropTag, len(tags))
	for i, tag := range tags {
		if tag == mapi.PropTagContactPhoto {
			request[i] = mapi.PropTagHasAttach
			continue
		}
		request[i] = tag
	}

	values, err := msg.GetProps(ctx, request)
	if err != nil {
		return Batch{}, err
	}

	entries := make([]Entry, len(tags))
	for i, tag := range tags {
		if i >= len(values) {
			entries[i] = Entry{Type: TypeAbsent}
			continue
		}
		if tag == mapi.PropTagContactPhoto {
			entries[i] = readPhoto(ctx, msg, values[i])
			continue
		}
		entries[i] = Encode(values[i], flags)
	}
	return Pack(entries), nil
}

func readPhoto(ctx context.Context, msg mapi.Message, hasAttach mapi.PropValue) Entry {
	if present, _ := hasAttach.Value.(bool); hasAttach.Err != nil || !present {
		return Entry{Type: TypeAbsent}
	}
	atts, err := msg.Attachments(ctx)
	if err != nil {
		return Entry{Type: TypeAbsent}
	}
	for _, a := range atts {
		if a.ContactPhoto {
			return Entry{Type: TypeBytes, Data: a.Data}
		}
	}
	return Entry{Type: TypeAbsent}
}
