// ABOUTME: mapi.Session and mapi.StoreTable over the SQLite schema
// ABOUTME: Resolves identifiers, follows move aliases and tracks logoff

package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// Identifier prefixes. An identifier is one prefix byte followed by a uuid.
const (
	kindStore   byte = 'S'
	kindFolder  byte = 'F'
	kindMessage byte = 'M'
)

func newEntryID(kind byte) mapi.EntryID {
	u := uuid.New()
	return append(mapi.EntryID{kind}, u[:]...)
}

// Session is a logged-on view of the provider.
type Session struct {
	provider *Provider

	mu        sync.Mutex
	loggedOff bool
}

var _ mapi.Session = (*Session)(nil)

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedOff {
		return mapi.ErrLoggedOff
	}
	return nil
}

// StoreTable returns the store list.
func (s *Session) StoreTable() mapi.StoreTable {
	return &storeTable{session: s}
}

// OpenStore opens a store by identifier.
func (s *Session) OpenStore(ctx context.Context, id mapi.EntryID) (mapi.Store, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	st := &store{session: s}
	var sid, root, contacts, calendar, trash []byte
	err := s.provider.db.QueryRowContext(ctx,
		`SELECT id, display_name, root_id, contacts_id, calendar_id, trash_id FROM stores WHERE id = ?`,
		[]byte(id),
	).Scan(&sid, &st.name, &root, &contacts, &calendar, &trash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store %s", mapi.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	st.id, st.rootID, st.contactsID, st.calendarID, st.trashID = sid, root, contacts, calendar, trash
	return st, nil
}

// OpenFolder opens a folder by identifier.
func (s *Session) OpenFolder(ctx context.Context, id mapi.EntryID) (mapi.Folder, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.loadFolder(ctx, id)
}

func (s *Session) loadFolder(ctx context.Context, id mapi.EntryID) (*folder, error) {
	f := &folder{session: s}
	var fid, storeID []byte
	err := s.provider.db.QueryRowContext(ctx,
		`SELECT id, store_id, display_name, container_class FROM folders WHERE id = ?`,
		[]byte(id),
	).Scan(&fid, &storeID, &f.name, &f.containerClass)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: folder %s", mapi.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("opening folder: %w", err)
	}
	f.id, f.storeID = fid, storeID
	return f, nil
}

// OpenMessage opens a message by identifier. Identifiers retired by a move
// resolve to the moved message.
func (s *Session) OpenMessage(ctx context.Context, id mapi.EntryID) (mapi.Message, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.loadMessage(ctx, id)
}

func (s *Session) loadMessage(ctx context.Context, id mapi.EntryID) (*message, error) {
	resolved, err := s.provider.resolveAlias(ctx, id)
	if err != nil {
		return nil, err
	}
	m := &message{session: s}
	var mid, storeID, folderID []byte
	err = s.provider.db.QueryRowContext(ctx,
		`SELECT id, store_id, folder_id, message_class FROM messages WHERE id = ?`,
		[]byte(resolved),
	).Scan(&mid, &storeID, &folderID, &m.class)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", mapi.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("opening message: %w", err)
	}
	m.id, m.storeID, m.folderID = mid, storeID, folderID
	return m, nil
}

// DeleteMessage removes a message with its properties and attachments.
func (s *Session) DeleteMessage(ctx context.Context, id mapi.EntryID) error {
	if err := s.check(); err != nil {
		return err
	}
	m, err := s.loadMessage(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.provider.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, []byte(m.id)); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if _, err := s.provider.db.ExecContext(ctx, `DELETE FROM aliases WHERE target = ?`, []byte(m.id)); err != nil {
		return fmt.Errorf("deleting aliases: %w", err)
	}
	s.provider.postObject(m.storeID, mapi.ObjectEvent{
		Type:         mapi.EventObjectDeleted,
		ObjectType:   mapi.ObjectMessage,
		EntryID:      m.id.Clone(),
		ParentID:     m.folderID.Clone(),
		MessageClass: m.class,
	})
	return nil
}

// CompareEntryIDs follows move aliases on both sides before comparing.
func (s *Session) CompareEntryIDs(a, b mapi.EntryID) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	if len(a) == 0 || len(b) == 0 {
		return false, mapi.ErrInvalidEntryID
	}
	ctx := context.Background()
	ra, err := s.provider.resolveAlias(ctx, a)
	if err != nil {
		return false, err
	}
	rb, err := s.provider.resolveAlias(ctx, b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ra, rb), nil
}

// Logoff ends the session. Connections the caller forgot to release are
// dropped and logged.
func (s *Session) Logoff(ctx context.Context) error {
	s.mu.Lock()
	if s.loggedOff {
		s.mu.Unlock()
		return nil
	}
	s.loggedOff = true
	s.mu.Unlock()

	if n := s.provider.dropSession(s); n > 0 {
		s.provider.logger.Warn("logoff with advise connections still registered", "count", n)
	}
	return nil
}

// resolveAlias follows the alias chain left behind by moves.
func (p *Provider) resolveAlias(ctx context.Context, id mapi.EntryID) (mapi.EntryID, error) {
	current := id
	for i := 0; i < 32; i++ {
		var target []byte
		err := p.db.QueryRowContext(ctx, `SELECT target FROM aliases WHERE alias = ?`, []byte(current)).Scan(&target)
		if errors.Is(err, sql.ErrNoRows) {
			return current, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resolving alias: %w", err)
		}
		current = target
	}
	return nil, fmt.Errorf("%w: alias chain too long for %s", mapi.ErrNotFound, id)
}

type storeTable struct {
	session *Session
}

func (t *storeTable) Rows(ctx context.Context) ([]mapi.StoreRow, error) {
	if err := t.session.check(); err != nil {
		return nil, err
	}
	rows, err := t.session.provider.db.QueryContext(ctx,
		`SELECT id, display_name, is_default FROM stores ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	defer rows.Close()

	var out []mapi.StoreRow
	for rows.Next() {
		var r mapi.StoreRow
		var id []byte
		var def int
		if err := rows.Scan(&id, &r.DisplayName, &def); err != nil {
			return nil, fmt.Errorf("scanning store row: %w", err)
		}
		r.EntryID = id
		r.Default = def != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *storeTable) Advise(sink mapi.TableSink) (mapi.Connection, error) {
	if err := t.session.check(); err != nil {
		return 0, err
	}
	return t.session.provider.adviseTable(t.session, sink)
}

func (t *storeTable) Unadvise(conn mapi.Connection) error {
	return t.session.provider.unadvise(conn)
}
