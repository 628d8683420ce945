// ABOUTME: Tests for event classification and the advise rebinding state machine
// ABOUTME: Runs against the SQLite backend so events arrive on a real dispatch goroutine

package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/mapi/sqlitestore"
	"github.com/2389/mapi-bridge/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	provider *sqlitestore.Provider
	guard    *session.Guard
	sess     mapi.Session
	storeID  mapi.EntryID
	store    mapi.Store
	contacts mapi.Folder
	trashID  mapi.EntryID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	p, err := sqlitestore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	storeID, err := p.CreateStore(ctx, "Mailbox", true)
	require.NoError(t, err)

	g := session.NewGuard(p, nil)
	sess, err := g.Logon(ctx, "test", 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		g.Logoff(ctx)
		p.Close()
	})

	st, err := sess.OpenStore(ctx, storeID)
	require.NoError(t, err)
	contactsID, err := st.DefaultFolderID(ctx, mapi.FolderContacts)
	require.NoError(t, err)
	contacts, err := sess.OpenFolder(ctx, contactsID)
	require.NoError(t, err)
	trashID, err := st.DefaultFolderID(ctx, mapi.FolderTrash)
	require.NoError(t, err)

	return &fixture{provider: p, guard: g, sess: sess, storeID: storeID, store: st, contacts: contacts, trashID: trashID}
}

func (f *fixture) newContact(t *testing.T) mapi.EntryID {
	t.Helper()
	m, err := f.contacts.CreateMessage(context.Background(), mapi.ClassContact)
	require.NoError(t, err)
	return m.EntryID()
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newContact(t)
	other := f.newContact(t)
	hex := id.String()

	tests := []struct {
		name string
		ev   mapi.ObjectEvent
		want []Event
	}{
		{
			name: "created",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectCreated, ObjectType: mapi.ObjectMessage, EntryID: id, MessageClass: mapi.ClassContact},
			want: []Event{{Type: Inserted, EntryID: hex, Kind: mapi.KindContact}},
		},
		{
			name: "copied",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectCopied, ObjectType: mapi.ObjectMessage, EntryID: id, OldID: other, MessageClass: mapi.ClassContact},
			want: []Event{{Type: Inserted, EntryID: hex, Kind: mapi.KindContact}},
		},
		{
			name: "modified",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectModified, ObjectType: mapi.ObjectMessage, EntryID: id},
			want: []Event{{Type: Updated, EntryID: hex, Kind: mapi.KindContact}},
		},
		{
			name: "modified with same old id",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectModified, ObjectType: mapi.ObjectMessage, EntryID: id, OldID: id.Clone(), MessageClass: mapi.ClassContact},
			want: []Event{{Type: Updated, EntryID: hex, Kind: mapi.KindContact}},
		},
		{
			name: "modified with distinct old id",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectModified, ObjectType: mapi.ObjectMessage, EntryID: id, OldID: other, MessageClass: mapi.ClassContact},
			want: []Event{
				{Type: Updated, EntryID: hex, Kind: mapi.KindContact},
				{Type: Deleted, EntryID: other.String(), Kind: mapi.KindContact},
			},
		},
		{
			name: "deleted",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectDeleted, ObjectType: mapi.ObjectMessage, EntryID: id, MessageClass: mapi.ClassAppointment},
			want: []Event{{Type: Deleted, EntryID: hex, Kind: mapi.KindCalendar}},
		},
		{
			name: "deleted without class",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectDeleted, ObjectType: mapi.ObjectMessage, EntryID: id},
			want: []Event{{Type: Deleted, EntryID: hex, Kind: mapi.KindUnknown}},
		},
		{
			name: "deleted note",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectDeleted, ObjectType: mapi.ObjectMessage, EntryID: id, MessageClass: "IPM.Note"},
			want: nil,
		},
		{
			name: "moved into trash",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectMoved, ObjectType: mapi.ObjectMessage, EntryID: id, ParentID: f.trashID, MessageClass: mapi.ClassContact},
			want: []Event{{Type: Deleted, EntryID: hex, Kind: mapi.KindContact}},
		},
		{
			name: "moved elsewhere",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectMoved, ObjectType: mapi.ObjectMessage, EntryID: id, ParentID: f.contacts.EntryID(), MessageClass: mapi.ClassContact},
			want: nil,
		},
		{
			name: "folder event",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectCreated, ObjectType: mapi.ObjectFolder, EntryID: f.trashID},
			want: nil,
		},
		{
			name: "note",
			ev:   mapi.ObjectEvent{Type: mapi.EventObjectCreated, ObjectType: mapi.ObjectMessage, EntryID: id, MessageClass: "IPM.Note"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(ctx, f.sess, f.store, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_UnopenableMessage(t *testing.T) {
	f := newFixture(t)
	ev := mapi.ObjectEvent{Type: mapi.EventObjectCreated, ObjectType: mapi.ObjectMessage, EntryID: mapi.EntryID{0x4D, 0x01}}

	got, err := Classify(context.Background(), f.sess, f.store, ev)
	assert.ErrorIs(t, err, mapi.ErrNotFound)
	assert.Empty(t, got)
}

func collect(t *testing.T, s *Subsystem, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e := <-s.Events():
			out = append(out, e)
		case <-timeout:
			t.Fatalf("got %d events, want %d: %v", len(out), n, out)
		}
	}
	return out
}

func assertNoEvents(t *testing.T, s *Subsystem) {
	t.Helper()
	select {
	case e := <-s.Events():
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestSubsystem_BindAndUnbind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.provider.CreateStore(ctx, "Archive", false)
	require.NoError(t, err)
	f.provider.Flush()

	sub := New(f.guard)
	defer sub.Close()
	require.NoError(t, sub.Bind(ctx))

	regs := sub.Registrations()
	require.Len(t, regs, 3)
	assert.True(t, regs[0].IsTable())
	assert.Equal(t, f.storeID, regs[1].StoreID)
	assert.Equal(t, 3, f.provider.ActiveConnections())

	assert.ErrorIs(t, sub.Bind(ctx), ErrAlreadyBound)

	require.NoError(t, sub.Unbind(ctx))
	assert.Empty(t, sub.Registrations())
	assert.Equal(t, 0, f.provider.ActiveConnections())
	require.NoError(t, sub.Unbind(ctx))
}

func TestSubsystem_DeliversClassifiedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := New(f.guard)
	defer sub.Close()
	require.NoError(t, sub.Bind(ctx))
	defer sub.Unbind(ctx)

	m, err := f.contacts.CreateMessage(ctx, mapi.ClassContact)
	require.NoError(t, err)
	require.NoError(t, m.SetProps(ctx, []mapi.PropValue{mapi.StringValue(mapi.PropTagDisplayName, "Ada")}))
	renewed, err := f.provider.RenewEntryID(ctx, m.EntryID())
	require.NoError(t, err)
	f.provider.Flush()

	got := collect(t, sub, 4)
	assert.Equal(t, []Event{
		{Type: Inserted, EntryID: m.EntryID().String(), Kind: mapi.KindContact},
		{Type: Updated, EntryID: m.EntryID().String(), Kind: mapi.KindContact},
		{Type: Updated, EntryID: renewed.String(), Kind: mapi.KindContact},
		{Type: Deleted, EntryID: m.EntryID().String(), Kind: mapi.KindContact},
	}, got)
}

func TestSubsystem_MoveIntoTrash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	toTrash := f.newContact(t)
	toFolder := f.newContact(t)
	root, err := f.store.RootFolder(ctx)
	require.NoError(t, err)
	elsewhere, err := f.provider.CreateFolder(ctx, root.EntryID(), "Old Contacts", mapi.ContainerContacts)
	require.NoError(t, err)
	f.provider.Flush()

	sub := New(f.guard)
	defer sub.Close()
	require.NoError(t, sub.Bind(ctx))
	defer sub.Unbind(ctx)

	_, err = f.provider.MoveMessage(ctx, toFolder, elsewhere)
	require.NoError(t, err)
	moved, err := f.provider.MoveMessage(ctx, toTrash, f.trashID)
	require.NoError(t, err)
	f.provider.Flush()

	got := collect(t, sub, 1)
	assert.Equal(t, []Event{{Type: Deleted, EntryID: moved.String(), Kind: mapi.KindContact}}, got)
	assertNoEvents(t, sub)
}

func TestSubsystem_TrashFolderIsReadPerEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.newContact(t)
	second := f.newContact(t)
	root, err := f.store.RootFolder(ctx)
	require.NoError(t, err)
	bin, err := f.provider.CreateFolder(ctx, root.EntryID(), "Bin", mapi.ContainerNote)
	require.NoError(t, err)
	f.provider.Flush()

	sub := New(f.guard)
	defer sub.Close()
	require.NoError(t, sub.Bind(ctx))
	defer sub.Unbind(ctx)

	_, err = f.provider.MoveMessage(ctx, first, bin)
	require.NoError(t, err)
	f.provider.Flush()
	assertNoEvents(t, sub)

	require.NoError(t, f.provider.SetTrashFolder(ctx, f.storeID, bin))
	moved, err := f.provider.MoveMessage(ctx, second, bin)
	require.NoError(t, err)
	f.provider.Flush()

	got := collect(t, sub, 1)
	assert.Equal(t, moved.String(), got[0].EntryID)
	assert.Equal(t, Deleted, got[0].Type)
}

func TestSubsystem_RebindOnRowAdded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.provider.CreateStore(ctx, "Archive", false)
	require.NoError(t, err)
	f.provider.Flush()

	sub := New(f.guard)
	defer sub.Close()
	require.NoError(t, sub.Bind(ctx))

	before := sub.Registrations()
	require.Len(t, before, 3)

	_, err = f.provider.CreateStore(ctx, "Shared", false)
	require.NoError(t, err)
	f.provider.Flush()

	after := sub.Registrations()
	assert.Equal(t, int64(1), sub.Rebinds())
	require.Len(t, after, 4, "one table registration and one per store")

	oldTokens := map[uuid.UUID]bool{}
	for _, r := range before {
		oldTokens[r.Token] = true
	}
	stores := map[string]int{}
	tables := 0
	for _, r := range after {
		assert.False(t, oldTokens[r.Token], "registration %s survived the rebind", r.Token)
		if r.IsTable() {
			tables++
			continue
		}
		stores[r.StoreID.String()]++
	}
	assert.Equal(t, 1, tables)
	assert.Len(t, stores, 3)
	for id, n := range stores {
		assert.Equal(t, 1, n, "store %s bound more than once", id)
	}
	assert.Equal(t, 4, f.provider.ActiveConnections())

	require.NoError(t, sub.Unbind(ctx))
	assert.Equal(t, 0, f.provider.ActiveConnections())
}

func TestSubsystem_RebindOnRowDeletedAndReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	archive, err := f.provider.CreateStore(ctx, "Archive", false)
	require.NoError(t, err)
	f.provider.Flush()

	sub := New(f.guard)
	defer sub.Close()
	require.NoError(t, sub.Bind(ctx))
	defer sub.Unbind(ctx)

	require.NoError(t, f.provider.RemoveStore(ctx, archive))
	f.provider.ReloadStoreTable()
	f.provider.Flush()

	assert.Equal(t, int64(2), sub.Rebinds())
	assert.Len(t, sub.Registrations(), 2)
	assert.Equal(t, 2, f.provider.ActiveConnections())
}

func TestSubsystem_NoRebindAfterUnbind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := New(f.guard)
	defer sub.Close()
	require.NoError(t, sub.Bind(ctx))
	require.NoError(t, sub.Unbind(ctx))

	_, err := f.provider.CreateStore(ctx, "Late", false)
	require.NoError(t, err)
	f.provider.Flush()

	assert.Equal(t, int64(0), sub.Rebinds())
	assert.Empty(t, sub.Registrations())
	assert.Equal(t, 0, f.provider.ActiveConnections())
}

func TestSubsystem_CloseDropsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := New(f.guard, WithBuffer(0))
	require.NoError(t, sub.Bind(ctx))
	defer sub.Unbind(ctx)
	sub.Close()

	f.newContact(t)
	f.provider.Flush()

	assert.Equal(t, int64(1), sub.Dropped())
}
