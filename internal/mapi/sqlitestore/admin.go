// ABOUTME: Administrative operations used to build and mutate development stores
// ABOUTME: Each operation raises the same events the native store would

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// Names of the folders every new store starts with.
const (
	RootFolderName     = "Top of Information Store"
	ContactsFolderName = "Contacts"
	CalendarFolderName = "Calendar"
	TrashFolderName    = "Deleted Items"
)

// CreateStore adds a store with a root folder and the contacts, calendar and
// trash default folders. Store table sinks see TableRowAdded.
func (p *Provider) CreateStore(ctx context.Context, name string, isDefault bool) (mapi.EntryID, error) {
	storeID := newEntryID(kindStore)
	rootID := newEntryID(kindFolder)
	contactsID := newEntryID(kindFolder)
	calendarID := newEntryID(kindFolder)
	trashID := newEntryID(kindFolder)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if isDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE stores SET is_default = 0`); err != nil {
			return nil, fmt.Errorf("clearing default store: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO stores (id, display_name, is_default, root_id, contacts_id, calendar_id, trash_id, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM stores))`,
		[]byte(storeID), name, boolInt(isDefault), []byte(rootID), []byte(contactsID), []byte(calendarID), []byte(trashID))
	if err != nil {
		return nil, fmt.Errorf("inserting store: %w", err)
	}

	folders := []struct {
		id     mapi.EntryID
		parent mapi.EntryID
		name   string
		class  string
	}{
		{rootID, nil, RootFolderName, ""},
		{contactsID, rootID, ContactsFolderName, mapi.ContainerContacts},
		{calendarID, rootID, CalendarFolderName, mapi.ContainerCalendar},
		{trashID, rootID, TrashFolderName, mapi.ContainerNote},
	}
	for _, f := range folders {
		if err := insertFolder(ctx, tx, f.id, storeID, f.parent, f.name, f.class); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing store: %w", err)
	}

	p.logger.Info("store created", "store", storeID.String(), "name", name)
	p.postTable(mapi.TableEvent{
		Type: mapi.TableRowAdded,
		Row:  &mapi.StoreRow{EntryID: storeID.Clone(), DisplayName: name, Default: isDefault},
	})
	return storeID, nil
}

// RemoveStore deletes a store and everything in it. Store table sinks see
// TableRowDeleted.
func (p *Provider) RemoveStore(ctx context.Context, storeID mapi.EntryID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM stores WHERE id = ?`, []byte(storeID))
	if err != nil {
		return fmt.Errorf("deleting store: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: store %s", mapi.ErrNotFound, storeID)
	}
	p.logger.Info("store removed", "store", storeID.String())
	p.postTable(mapi.TableEvent{Type: mapi.TableRowDeleted, Row: &mapi.StoreRow{EntryID: storeID.Clone()}})
	return nil
}

// ReloadStoreTable makes store table sinks see TableReload.
func (p *Provider) ReloadStoreTable() {
	p.postTable(mapi.TableEvent{Type: mapi.TableReload})
}

// CreateFolder adds a child folder under parentID.
func (p *Provider) CreateFolder(ctx context.Context, parentID mapi.EntryID, name, containerClass string) (mapi.EntryID, error) {
	storeID, err := p.folderStore(ctx, parentID)
	if err != nil {
		return nil, err
	}
	id := newEntryID(kindFolder)
	if err := insertFolder(ctx, p.db, id, storeID, parentID, name, containerClass); err != nil {
		return nil, err
	}
	p.postObject(storeID, mapi.ObjectEvent{
		Type:       mapi.EventObjectCreated,
		ObjectType: mapi.ObjectFolder,
		EntryID:    id.Clone(),
		ParentID:   parentID.Clone(),
	})
	return id, nil
}

// SetTrashFolder points the trash default folder of a store at folderID.
func (p *Provider) SetTrashFolder(ctx context.Context, storeID, folderID mapi.EntryID) error {
	res, err := p.db.ExecContext(ctx, `UPDATE stores SET trash_id = ? WHERE id = ?`, []byte(folderID), []byte(storeID))
	if err != nil {
		return fmt.Errorf("setting trash folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: store %s", mapi.ErrNotFound, storeID)
	}
	return nil
}

// MoveMessage moves a message into destID. The message gets a new
// identifier; the old one stays resolvable as an alias.
func (p *Provider) MoveMessage(ctx context.Context, id, destID mapi.EntryID) (mapi.EntryID, error) {
	src, err := p.messageRow(ctx, id)
	if err != nil {
		return nil, err
	}
	destStore, err := p.folderStore(ctx, destID)
	if err != nil {
		return nil, err
	}
	if string(destStore) != string(src.storeID) {
		return nil, fmt.Errorf("%w: move across stores", mapi.ErrNotSupported)
	}

	newID := newEntryID(kindMessage)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := renameMessage(ctx, tx, src.id, newID, destID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing move: %w", err)
	}

	p.postObject(src.storeID, mapi.ObjectEvent{
		Type:         mapi.EventObjectMoved,
		ObjectType:   mapi.ObjectMessage,
		EntryID:      newID.Clone(),
		ParentID:     destID.Clone(),
		OldID:        src.id.Clone(),
		OldParentID:  src.folderID.Clone(),
		MessageClass: src.class,
	})
	return newID, nil
}

// RenewEntryID gives a message a new identifier in place, the way some
// stores do when an item is saved from a different profile. Sinks see a
// modified event carrying the old identifier.
func (p *Provider) RenewEntryID(ctx context.Context, id mapi.EntryID) (mapi.EntryID, error) {
	src, err := p.messageRow(ctx, id)
	if err != nil {
		return nil, err
	}
	newID := newEntryID(kindMessage)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := renameMessage(ctx, tx, src.id, newID, src.folderID); err != nil {
		return nil, err
	}
	// Unlike a move, the old identifier is retired outright.
	if _, err := tx.ExecContext(ctx, `DELETE FROM aliases WHERE alias = ?`, []byte(src.id)); err != nil {
		return nil, fmt.Errorf("retiring identifier: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing identifier change: %w", err)
	}

	p.postObject(src.storeID, mapi.ObjectEvent{
		Type:         mapi.EventObjectModified,
		ObjectType:   mapi.ObjectMessage,
		EntryID:      newID.Clone(),
		ParentID:     src.folderID.Clone(),
		OldID:        src.id.Clone(),
		OldParentID:  src.folderID.Clone(),
		MessageClass: src.class,
	})
	return newID, nil
}

// CopyMessage copies a message with its properties and attachments into destID.
func (p *Provider) CopyMessage(ctx context.Context, id, destID mapi.EntryID) (mapi.EntryID, error) {
	src, err := p.messageRow(ctx, id)
	if err != nil {
		return nil, err
	}
	destStore, err := p.folderStore(ctx, destID)
	if err != nil {
		return nil, err
	}

	newID := newEntryID(kindMessage)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO messages (id, store_id, folder_id, message_class, position)
		  VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM messages))`,
			[]any{[]byte(newID), []byte(destStore), []byte(destID), src.class}},
		{`INSERT INTO props (message_id, prop_id, prop_type, value)
		  SELECT ?, prop_id, prop_type, value FROM props WHERE message_id = ?`,
			[]any{[]byte(newID), []byte(src.id)}},
		{`INSERT INTO attachments (message_id, filename, contact_photo, data)
		  SELECT ?, filename, contact_photo, data FROM attachments WHERE message_id = ? ORDER BY id`,
			[]any{[]byte(newID), []byte(src.id)}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return nil, fmt.Errorf("copying message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing copy: %w", err)
	}

	p.postObject(destStore, mapi.ObjectEvent{
		Type:         mapi.EventObjectCopied,
		ObjectType:   mapi.ObjectMessage,
		EntryID:      newID.Clone(),
		ParentID:     destID.Clone(),
		OldID:        src.id.Clone(),
		OldParentID:  src.folderID.Clone(),
		MessageClass: src.class,
	})
	return newID, nil
}

// AddAttachment attaches a file to a message.
func (p *Provider) AddAttachment(ctx context.Context, id mapi.EntryID, att mapi.Attachment) error {
	src, err := p.messageRow(ctx, id)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO attachments (message_id, filename, contact_photo, data) VALUES (?, ?, ?, ?)`,
		[]byte(src.id), att.Filename, boolInt(att.ContactPhoto), att.Data)
	if err != nil {
		return fmt.Errorf("adding attachment: %w", err)
	}
	p.postObject(src.storeID, mapi.ObjectEvent{
		Type:         mapi.EventObjectModified,
		ObjectType:   mapi.ObjectMessage,
		EntryID:      src.id.Clone(),
		ParentID:     src.folderID.Clone(),
		MessageClass: src.class,
	})
	return nil
}

type messageInfo struct {
	id       mapi.EntryID
	storeID  mapi.EntryID
	folderID mapi.EntryID
	class    string
}

func (p *Provider) messageRow(ctx context.Context, id mapi.EntryID) (messageInfo, error) {
	resolved, err := p.resolveAlias(ctx, id)
	if err != nil {
		return messageInfo{}, err
	}
	var info messageInfo
	var mid, storeID, folderID []byte
	err = p.db.QueryRowContext(ctx,
		`SELECT id, store_id, folder_id, message_class FROM messages WHERE id = ?`, []byte(resolved),
	).Scan(&mid, &storeID, &folderID, &info.class)
	if errors.Is(err, sql.ErrNoRows) {
		return messageInfo{}, fmt.Errorf("%w: message %s", mapi.ErrNotFound, id)
	}
	if err != nil {
		return messageInfo{}, fmt.Errorf("reading message: %w", err)
	}
	info.id, info.storeID, info.folderID = mid, storeID, folderID
	return info, nil
}

func (p *Provider) folderStore(ctx context.Context, folderID mapi.EntryID) (mapi.EntryID, error) {
	var storeID []byte
	err := p.db.QueryRowContext(ctx, `SELECT store_id FROM folders WHERE id = ?`, []byte(folderID)).Scan(&storeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: folder %s", mapi.ErrNotFound, folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}
	return storeID, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertFolder(ctx context.Context, db execer, id, storeID, parentID mapi.EntryID, name, containerClass string) error {
	var parent any
	if parentID != nil {
		parent = []byte(parentID)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO folders (id, store_id, parent_id, display_name, container_class, position)
		 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM folders))`,
		[]byte(id), []byte(storeID), parent, name, containerClass)
	if err != nil {
		return fmt.Errorf("inserting folder %q: %w", name, err)
	}
	return nil
}

// renameMessage re-keys a message and leaves an alias from the old identifier.
// Child rows are re-pointed by hand since the foreign keys do not cascade updates.
func renameMessage(ctx context.Context, tx *sql.Tx, oldID, newID, folderID mapi.EntryID) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO messages (id, store_id, folder_id, message_class, position)
		  SELECT ?, store_id, ?, message_class, position FROM messages WHERE id = ?`,
			[]any{[]byte(newID), []byte(folderID), []byte(oldID)}},
		{`UPDATE props SET message_id = ? WHERE message_id = ?`, []any{[]byte(newID), []byte(oldID)}},
		{`UPDATE attachments SET message_id = ? WHERE message_id = ?`, []any{[]byte(newID), []byte(oldID)}},
		{`DELETE FROM messages WHERE id = ?`, []any{[]byte(oldID)}},
		{`UPDATE aliases SET target = ? WHERE target = ?`, []any{[]byte(newID), []byte(oldID)}},
		{`INSERT OR REPLACE INTO aliases (alias, target) VALUES (?, ?)`, []any{[]byte(oldID), []byte(newID)}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("re-keying message: %w", err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
