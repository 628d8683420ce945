// ABOUTME: mapi.Store and mapi.Folder over the SQLite schema
// ABOUTME: Contents and hierarchy tables are read fully before returning

package sqlitestore

import (
	"context"
	"fmt"

	"github.com/2389/mapi-bridge/internal/mapi"
)

type store struct {
	session    *Session
	id         mapi.EntryID
	name       string
	rootID     mapi.EntryID
	contactsID mapi.EntryID
	calendarID mapi.EntryID
	trashID    mapi.EntryID
}

var _ mapi.Store = (*store)(nil)

func (s *store) EntryID() mapi.EntryID { return s.id }
func (s *store) DisplayName() string   { return s.name }

func (s *store) RootFolder(ctx context.Context) (mapi.Folder, error) {
	if err := s.session.check(); err != nil {
		return nil, err
	}
	return s.session.loadFolder(ctx, s.rootID)
}

func (s *store) DefaultFolderID(ctx context.Context, kind mapi.FolderKind) (mapi.EntryID, error) {
	if err := s.session.check(); err != nil {
		return nil, err
	}
	switch kind {
	case mapi.FolderContacts:
		return s.contactsID.Clone(), nil
	case mapi.FolderCalendar:
		return s.calendarID.Clone(), nil
	case mapi.FolderTrash:
		// Read through so a trash folder replaced after the store was opened is seen.
		var trash []byte
		err := s.session.provider.db.QueryRowContext(ctx,
			`SELECT trash_id FROM stores WHERE id = ?`, []byte(s.id)).Scan(&trash)
		if err != nil {
			return nil, fmt.Errorf("%w: trash folder of %s: %v", mapi.ErrNotFound, s.id, err)
		}
		return trash, nil
	default:
		return nil, fmt.Errorf("%w: folder kind %d", mapi.ErrNotSupported, kind)
	}
}

func (s *store) Advise(mask mapi.EventMask, sink mapi.ObjectSink) (mapi.Connection, error) {
	if err := s.session.check(); err != nil {
		return 0, err
	}
	return s.session.provider.adviseObject(s.session, s.id, mask, sink)
}

func (s *store) Unadvise(conn mapi.Connection) error {
	return s.session.provider.unadvise(conn)
}

type folder struct {
	session        *Session
	id             mapi.EntryID
	storeID        mapi.EntryID
	name           string
	containerClass string
}

var _ mapi.Folder = (*folder)(nil)

func (f *folder) EntryID() mapi.EntryID  { return f.id }
func (f *folder) DisplayName() string    { return f.name }
func (f *folder) ContainerClass() string { return f.containerClass }

func (f *folder) Contents(ctx context.Context, columns []mapi.PropTag) ([]mapi.Row, error) {
	if err := f.session.check(); err != nil {
		return nil, err
	}
	rows, err := f.session.provider.db.QueryContext(ctx,
		`SELECT id, message_class FROM messages WHERE folder_id = ? ORDER BY position`, []byte(f.id))
	if err != nil {
		return nil, fmt.Errorf("listing contents: %w", err)
	}
	var out []mapi.Row
	for rows.Next() {
		var id []byte
		var r mapi.Row
		if err := rows.Scan(&id, &r.MessageClass); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning contents row: %w", err)
		}
		r.EntryID = id
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(columns) == 0 {
		return out, nil
	}
	for i := range out {
		m := &message{session: f.session, id: out[i].EntryID, storeID: f.storeID, folderID: f.id, class: out[i].MessageClass}
		props, err := m.readProps(ctx, columns)
		if err != nil {
			return nil, err
		}
		out[i].Props = props
	}
	return out, nil
}

func (f *folder) Hierarchy(ctx context.Context) ([]mapi.EntryID, error) {
	if err := f.session.check(); err != nil {
		return nil, err
	}
	rows, err := f.session.provider.db.QueryContext(ctx,
		`SELECT id FROM folders WHERE parent_id = ? ORDER BY position`, []byte(f.id))
	if err != nil {
		return nil, fmt.Errorf("listing hierarchy: %w", err)
	}
	defer rows.Close()

	var out []mapi.EntryID
	for rows.Next() {
		var id []byte
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning hierarchy row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (f *folder) CreateMessage(ctx context.Context, messageClass string) (mapi.Message, error) {
	if err := f.session.check(); err != nil {
		return nil, err
	}
	id := newEntryID(kindMessage)
	_, err := f.session.provider.db.ExecContext(ctx,
		`INSERT INTO messages (id, store_id, folder_id, message_class, position)
		 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM messages))`,
		[]byte(id), []byte(f.storeID), []byte(f.id), messageClass)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	f.session.provider.postObject(f.storeID, mapi.ObjectEvent{
		Type:         mapi.EventObjectCreated,
		ObjectType:   mapi.ObjectMessage,
		EntryID:      id.Clone(),
		ParentID:     f.id.Clone(),
		MessageClass: messageClass,
	})
	return &message{session: f.session, id: id, storeID: f.storeID, folderID: f.id, class: messageClass}, nil
}
