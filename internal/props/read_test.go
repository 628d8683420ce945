// ABOUTME: Tests for reading property batches from stored messages
// ABOUTME: Exercises partial success and the contact photo pseudo-property

package props

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/mapi/sqlitestore"
)

func newMessage(t *testing.T) (*sqlitestore.Provider, mapi.Message) {
	t.Helper()
	ctx := context.Background()

	p, err := sqlitestore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	storeID, err := p.CreateStore(ctx, "Mailbox", true)
	require.NoError(t, err)
	s, err := p.Logon(ctx, "test", 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Logoff(ctx) })

	st, err := s.OpenStore(ctx, storeID)
	require.NoError(t, err)
	folderID, err := st.DefaultFolderID(ctx, mapi.FolderContacts)
	require.NoError(t, err)
	f, err := s.OpenFolder(ctx, folderID)
	require.NoError(t, err)
	m, err := f.CreateMessage(ctx, mapi.ClassContact)
	require.NoError(t, err)
	return p, m
}

func TestRead_PartialSuccess(t *testing.T) {
	_, m := newMessage(t)
	ctx := context.Background()
	created := time.Date(2022, 2, 2, 2, 2, 2, 0, time.UTC)

	require.NoError(t, m.SetProps(ctx, []mapi.PropValue{
		mapi.StringValue(mapi.PropTagDisplayName, "Ada"),
		{Tag: mapi.PropTagImportance, Value: int32(1)},
		{Tag: mapi.PropTagCreationTime, Value: created},
	}))

	tags := []mapi.PropTag{
		mapi.PropTagDisplayName,
		mapi.PropTagSurname,
		mapi.PropTagImportance,
		mapi.PropTagCreationTime,
		mapi.PropTagEntryID,
		mapi.PropTagContactPhoto,
	}
	b, err := Read(ctx, m, tags, mapi.FlagUnicode)
	require.NoError(t, err)

	require.Equal(t, len(tags), b.Len())
	var sum int
	for _, n := range b.Lengths {
		sum += int(n)
	}
	assert.Equal(t, len(b.Values), sum)

	assert.Equal(t, []byte{byte(TypeUnicode), byte(TypeAbsent), byte(TypeInt32), byte(TypeTime), byte(TypeString8), byte(TypeAbsent)}, b.Types)

	values, err := DecodeBatch(b)
	require.NoError(t, err)
	assert.Equal(t, "Ada", values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, int32(1), values[2])
	assert.Equal(t, created, values[3])
	assert.Equal(t, m.EntryID().String(), values[4])
	assert.Nil(t, values[5])
}

func TestRead_NarrowWithoutUnicodeFlag(t *testing.T) {
	_, m := newMessage(t)
	ctx := context.Background()
	require.NoError(t, m.SetProps(ctx, []mapi.PropValue{mapi.StringValue(mapi.PropTagDisplayName, "Zoë")}))

	b, err := Read(ctx, m, []mapi.PropTag{mapi.PropTagDisplayName}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(TypeString8)}, b.Types)
	assert.Equal(t, []byte{'Z', 'o', 0xEB}, b.Values)
}

func TestRead_ContactPhoto(t *testing.T) {
	p, m := newMessage(t)
	ctx := context.Background()
	photo := []byte{0xFF, 0xD8, 0xFF, 0xE0}

	require.NoError(t, p.AddAttachment(ctx, m.EntryID(), mapi.Attachment{Filename: "notes.txt", Data: []byte("x")}))

	b, err := Read(ctx, m, []mapi.PropTag{mapi.PropTagContactPhoto}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(TypeAbsent)}, b.Types, "attachments without a photo")

	require.NoError(t, p.AddAttachment(ctx, m.EntryID(), mapi.Attachment{Filename: "ContactPicture.jpg", ContactPhoto: true, Data: photo}))

	b, err = Read(ctx, m, []mapi.PropTag{mapi.PropTagDisplayName, mapi.PropTagContactPhoto}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(TypeAbsent), byte(TypeBytes)}, b.Types)
	assert.Equal(t, photo, b.Values)
}

func TestRead_DeletedMessageFails(t *testing.T) {
	p, m := newMessage(t)
	ctx := context.Background()

	s, err := p.Logon(ctx, "other", 0)
	require.NoError(t, err)
	defer s.Logoff(ctx)
	require.NoError(t, s.DeleteMessage(ctx, m.EntryID()))

	_, err = Read(ctx, m, []mapi.PropTag{mapi.PropTagDisplayName}, 0)
	assert.ErrorIs(t, err, mapi.ErrNotFound)
}
