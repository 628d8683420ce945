// ABOUTME: mapi.Message over the SQLite schema
// ABOUTME: Property values are stored with their type and converted on the way out

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/mapi-bridge/internal/mapi"
)

type message struct {
	session  *Session
	id       mapi.EntryID
	storeID  mapi.EntryID
	folderID mapi.EntryID
	class    string
}

var _ mapi.Message = (*message)(nil)

func (m *message) EntryID() mapi.EntryID { return m.id }
func (m *message) MessageClass() string  { return m.class }

type storedProp struct {
	typ   uint16
	value any
}

func (m *message) exists(ctx context.Context) error {
	var one int
	err := m.session.provider.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE id = ?`, []byte(m.id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: message %s", mapi.ErrNotFound, m.id)
	}
	return err
}

func (m *message) GetProps(ctx context.Context, tags []mapi.PropTag) ([]mapi.PropValue, error) {
	if err := m.session.check(); err != nil {
		return nil, err
	}
	if err := m.exists(ctx); err != nil {
		return nil, err
	}
	return m.readProps(ctx, tags)
}

func (m *message) readProps(ctx context.Context, tags []mapi.PropTag) ([]mapi.PropValue, error) {
	stored, err := m.loadProps(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]mapi.PropValue, len(tags))
	for i, tag := range tags {
		out[i] = mapi.PropValue{Tag: tag}
		switch tag.ID() {
		case mapi.PropTagEntryID.ID():
			out[i].Value = []byte(m.id.Clone())
			continue
		case mapi.PropTagMessageClass.ID():
			if isStringType(tag.Type()) {
				out[i].Value = m.class
				continue
			}
		case mapi.PropTagHasAttach.ID():
			if tag.Type() == mapi.PtypBoolean {
				n, err := m.attachmentCount(ctx)
				if err != nil {
					return nil, err
				}
				out[i].Value = n > 0
				continue
			}
		}

		sp, ok := stored[tag.ID()]
		if !ok {
			out[i].Err = fmt.Errorf("%w: property %s", mapi.ErrNotFound, tag)
			continue
		}
		if !compatibleTypes(sp.typ, tag.Type()) {
			out[i].Err = fmt.Errorf("%w: property %s stored as type 0x%04X", mapi.ErrNotSupported, tag, sp.typ)
			continue
		}
		v, err := decodeValue(tag.Type(), sp.value)
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Value = v
	}
	return out, nil
}

func (m *message) loadProps(ctx context.Context) (map[uint16]storedProp, error) {
	rows, err := m.session.provider.db.QueryContext(ctx,
		`SELECT prop_id, prop_type, value FROM props WHERE message_id = ?`, []byte(m.id))
	if err != nil {
		return nil, fmt.Errorf("reading properties: %w", err)
	}
	defer rows.Close()

	stored := make(map[uint16]storedProp)
	for rows.Next() {
		var id, typ int64
		var value any
		if err := rows.Scan(&id, &typ, &value); err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		// Drivers may reuse the buffer behind a []byte scanned into any.
		if b, ok := value.([]byte); ok {
			value = append([]byte(nil), b...)
		}
		stored[uint16(id)] = storedProp{typ: uint16(typ), value: value}
	}
	return stored, rows.Err()
}

func (m *message) attachmentCount(ctx context.Context) (int, error) {
	var n int
	err := m.session.provider.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attachments WHERE message_id = ?`, []byte(m.id)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting attachments: %w", err)
	}
	return n, nil
}

func (m *message) SetProps(ctx context.Context, values []mapi.PropValue) error {
	if err := m.session.check(); err != nil {
		return err
	}
	for _, v := range values {
		if v.Tag.ID() == mapi.PropTagEntryID.ID() || v.Tag.ID() == mapi.PropTagHasAttach.ID() {
			return fmt.Errorf("%w: property %s is computed", mapi.ErrAccessDenied, v.Tag)
		}
		if err := mapi.CheckValue(v); err != nil {
			return err
		}
	}

	tx, err := m.session.provider.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE messages SET message_class = message_class WHERE id = ?`, []byte(m.id))
	if err != nil {
		return fmt.Errorf("touching message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: message %s", mapi.ErrNotFound, m.id)
	}

	class := m.class
	for _, v := range values {
		if v.Tag.ID() == mapi.PropTagMessageClass.ID() {
			class = v.Value.(string)
			if _, err := tx.ExecContext(ctx, `UPDATE messages SET message_class = ? WHERE id = ?`, class, []byte(m.id)); err != nil {
				return fmt.Errorf("setting message class: %w", err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO props (message_id, prop_id, prop_type, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT(message_id, prop_id) DO UPDATE SET prop_type = excluded.prop_type, value = excluded.value`,
			[]byte(m.id), int64(v.Tag.ID()), int64(v.Tag.Type()), encodeValue(v.Value))
		if err != nil {
			return fmt.Errorf("setting property %s: %w", v.Tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing properties: %w", err)
	}
	m.class = class
	m.postModified()
	return nil
}

func (m *message) DeleteProps(ctx context.Context, tags []mapi.PropTag) error {
	if err := m.session.check(); err != nil {
		return err
	}
	if err := m.exists(ctx); err != nil {
		return err
	}
	for _, tag := range tags {
		_, err := m.session.provider.db.ExecContext(ctx,
			`DELETE FROM props WHERE message_id = ? AND prop_id = ?`, []byte(m.id), int64(tag.ID()))
		if err != nil {
			return fmt.Errorf("deleting property %s: %w", tag, err)
		}
	}
	m.postModified()
	return nil
}

func (m *message) Attachments(ctx context.Context) ([]mapi.Attachment, error) {
	if err := m.session.check(); err != nil {
		return nil, err
	}
	rows, err := m.session.provider.db.QueryContext(ctx,
		`SELECT filename, contact_photo, data FROM attachments WHERE message_id = ? ORDER BY id`, []byte(m.id))
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var out []mapi.Attachment
	for rows.Next() {
		var a mapi.Attachment
		var photo int
		var data []byte
		if err := rows.Scan(&a.Filename, &photo, &data); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		a.ContactPhoto = photo != 0
		a.Data = data
		out = append(out, a)
	}
	return out, rows.Err()
}

func (m *message) postModified() {
	m.session.provider.postObject(m.storeID, mapi.ObjectEvent{
		Type:         mapi.EventObjectModified,
		ObjectType:   mapi.ObjectMessage,
		EntryID:      m.id.Clone(),
		ParentID:     m.folderID.Clone(),
		MessageClass: m.class,
	})
}

func isStringType(t uint16) bool {
	return t == mapi.PtypString || t == mapi.PtypString8
}

// compatibleTypes lets narrow and wide string tags read each other's values.
func compatibleTypes(stored, requested uint16) bool {
	if stored == requested {
		return true
	}
	return isStringType(stored) && isStringType(requested)
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}

func decodeValue(typ uint16, raw any) (any, error) {
	switch typ {
	case mapi.PtypInteger32:
		if n, ok := raw.(int64); ok {
			return int32(n), nil
		}
	case mapi.PtypBoolean:
		if n, ok := raw.(int64); ok {
			return n != 0, nil
		}
	case mapi.PtypString, mapi.PtypString8:
		switch s := raw.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case mapi.PtypBinary:
		switch b := raw.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case mapi.PtypTime:
		var s string
		switch x := raw.(type) {
		case string:
			s = x
		case []byte:
			s = string(x)
		case time.Time:
			return x.UTC(), nil
		}
		if s != "" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("%w: stored time %q: %v", mapi.ErrNotSupported, s, err)
			}
			return t.UTC(), nil
		}
	default:
		return nil, fmt.Errorf("%w: property type 0x%04X", mapi.ErrNotSupported, typ)
	}
	return nil, fmt.Errorf("%w: stored value %T for type 0x%04X", mapi.ErrNotSupported, raw, typ)
}
