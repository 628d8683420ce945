// ABOUTME: Turns raw store object events into inserted, updated and deleted notifications
// ABOUTME: Identity questions are answered by the store, never by comparing bytes

package notify

import (
	"context"
	"fmt"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// Classify maps one object event to zero or more notifications.
//
//   - created and copied become Inserted
//   - modified becomes Updated, followed by Deleted for the old identifier
//     when the event carries one the store does not consider equal
//   - deleted becomes Deleted; a deletion that no longer carries a message
//     class is reported with KindUnknown
//   - moved becomes Deleted only when the new parent is the trash folder,
//     which is looked up again for every event
//
// Events for folders, stores and messages that are neither contacts nor
// calendar items produce nothing. When an error is returned the events
// gathered so far are still valid.
func Classify(ctx context.Context, sess mapi.Session, st mapi.Store, ev mapi.ObjectEvent) ([]Event, error) {
	if ev.ObjectType != mapi.ObjectMessage || len(ev.EntryID) == 0 {
		return nil, nil
	}

	id := ev.EntryID.String()
	if ev.Type == mapi.EventObjectDeleted && ev.MessageClass == "" {
		return []Event{{Type: Deleted, EntryID: id, Kind: mapi.KindUnknown}}, nil
	}

	kind, err := kindOf(ctx, sess, ev)
	if err != nil {
		return nil, err
	}
	if kind == mapi.KindUnknown {
		return nil, nil
	}

	switch ev.Type {
	case mapi.EventObjectCreated, mapi.EventObjectCopied:
		return []Event{{Type: Inserted, EntryID: id, Kind: kind}}, nil

	case mapi.EventObjectModified:
		events := []Event{{Type: Updated, EntryID: id, Kind: kind}}
		if len(ev.OldID) == 0 {
			return events, nil
		}
		same, err := sess.CompareEntryIDs(ev.OldID, ev.EntryID)
		if err != nil {
			return events, fmt.Errorf("comparing old identifier: %w", err)
		}
		if !same {
			events = append(events, Event{Type: Deleted, EntryID: ev.OldID.String(), Kind: kind})
		}
		return events, nil

	case mapi.EventObjectDeleted:
		return []Event{{Type: Deleted, EntryID: id, Kind: kind}}, nil

	case mapi.EventObjectMoved:
		if len(ev.ParentID) == 0 {
			return nil, nil
		}
		trash, err := st.DefaultFolderID(ctx, mapi.FolderTrash)
		if err != nil {
			return nil, fmt.Errorf("reading trash folder: %w", err)
		}
		inTrash, err := sess.CompareEntryIDs(ev.ParentID, trash)
		if err != nil {
			return nil, fmt.Errorf("comparing with trash folder: %w", err)
		}
		if inTrash {
			return []Event{{Type: Deleted, EntryID: id, Kind: kind}}, nil
		}
		return nil, nil
	}
	return nil, nil
}

// kindOf prefers the class carried by the event. Otherwise the message is
// opened.
func kindOf(ctx context.Context, sess mapi.Session, ev mapi.ObjectEvent) (mapi.EntityKind, error) {
	if ev.MessageClass != "" {
		return mapi.KindOfClass(ev.MessageClass), nil
	}
	msg, err := sess.OpenMessage(ctx, ev.EntryID)
	if err != nil {
		return mapi.KindUnknown, fmt.Errorf("opening %s: %w", ev.EntryID, err)
	}
	return mapi.KindOfClass(msg.MessageClass()), nil
}
