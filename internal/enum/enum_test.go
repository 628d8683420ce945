// ABOUTME: Tests for the depth-first enumerator
// ABOUTME: Covers visit order, early stop, nested guard use and skipped branches

package enum

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

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

// failingProvider hands out sessions that cannot open one particular store.
type failingProvider struct {
	inner mapi.Provider
	bad   mapi.EntryID
}

func (p *failingProvider) Logon(ctx context.Context, profile string, flags mapi.LogonFlags) (mapi.Session, error) {
	s, err := p.inner.Logon(ctx, profile, flags)
	if err != nil {
		return nil, err
	}
	return &failingSession{Session: s, bad: p.bad}, nil
}

type failingSession struct {
	mapi.Session
	bad mapi.EntryID
}

func (s *failingSession) OpenStore(ctx context.Context, id mapi.EntryID) (mapi.Store, error) {
	if string(id) == string(s.bad) {
		return nil, mapi.ErrAccessDenied
	}
	return s.Session.OpenStore(ctx, id)
}

type tree struct {
	provider *sqlitestore.Provider
	stores   []mapi.EntryID
	// names of the contacts in expected visit order
	order []string
}

// buildTree creates two stores. The first has two contacts in Contacts, one
// in a nested folder under Contacts, and one appointment. The second has one
// contact.
func buildTree(t *testing.T) *tree {
	t.Helper()
	ctx := context.Background()
	p, err := sqlitestore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	s, err := p.Logon(ctx, "setup", 0)
	require.NoError(t, err)
	defer s.Logoff(ctx)

	add := func(folderID mapi.EntryID, class, name string) {
		f, err := s.OpenFolder(ctx, folderID)
		require.NoError(t, err)
		m, err := f.CreateMessage(ctx, class)
		require.NoError(t, err)
		tag := mapi.PropTagDisplayName
		if class == mapi.ClassAppointment {
			tag = mapi.PropTagSubject
		}
		require.NoError(t, m.SetProps(ctx, []mapi.PropValue{mapi.StringValue(tag, name)}))
	}
	folder := func(storeID mapi.EntryID, kind mapi.FolderKind) mapi.EntryID {
		st, err := s.OpenStore(ctx, storeID)
		require.NoError(t, err)
		id, err := st.DefaultFolderID(ctx, kind)
		require.NoError(t, err)
		return id
	}

	first, err := p.CreateStore(ctx, "Mailbox", true)
	require.NoError(t, err)
	second, err := p.CreateStore(ctx, "Archive", false)
	require.NoError(t, err)

	contacts := folder(first, mapi.FolderContacts)
	nested, err := p.CreateFolder(ctx, contacts, "Family", mapi.ContainerContacts)
	require.NoError(t, err)

	add(contacts, mapi.ClassContact, "Ada Lovelace")
	add(contacts, mapi.ClassContact, "Grace Hopper")
	add(nested, mapi.ClassContact, "Alan Turing")
	add(folder(first, mapi.FolderCalendar), mapi.ClassAppointment, "Standup")
	add(folder(second, mapi.FolderContacts), mapi.ClassContact, "Edsger Dijkstra")

	return &tree{
		provider: p,
		stores:   []mapi.EntryID{first, second},
		order:    []string{"Ada Lovelace", "Grace Hopper", "Alan Turing", "Edsger Dijkstra"},
	}
}

func newEnumerator(t *testing.T, provider mapi.Provider) (*Enumerator, *session.Guard) {
	t.Helper()
	g := session.NewGuard(provider, nil)
	_, err := g.Logon(context.Background(), "test", 0)
	require.NoError(t, err)
	t.Cleanup(func() { g.Logoff(context.Background()) })
	return New(g, nil), g
}

func displayName(row mapi.Row) string {
	for _, v := range row.Props {
		if v.Tag == mapi.PropTagDisplayName || v.Tag == mapi.PropTagSubject {
			s, _ := v.Value.(string)
			return s
		}
	}
	return ""
}

func TestWalk_DepthFirstOrder(t *testing.T) {
	tr := buildTree(t)
	e, _ := newEnumerator(t, tr.provider)

	var names []string
	res, err := e.Walk(context.Background(), Contacts(""), func(_ context.Context, row mapi.Row) (bool, error) {
		names = append(names, displayName(row))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, tr.order, names)
	assert.Equal(t, 4, res.Visited)
	assert.False(t, res.Stopped)
	assert.Zero(t, res.Skipped)
}

func TestWalk_Query(t *testing.T) {
	tr := buildTree(t)
	e, _ := newEnumerator(t, tr.provider)

	tests := []struct {
		query string
		want  []string
	}{
		{"", tr.order},
		{"hopper", []string{"Grace Hopper"}},
		{"  A", []string{"Ada Lovelace", "Grace Hopper", "Alan Turing", "Edsger Dijkstra"}},
		{"nobody", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var names []string
			_, err := e.Walk(context.Background(), Contacts(tt.query), func(_ context.Context, row mapi.Row) (bool, error) {
				names = append(names, displayName(row))
				return true, nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestWalk_Calendar(t *testing.T) {
	tr := buildTree(t)
	e, _ := newEnumerator(t, tr.provider)

	var names []string
	_, err := e.Walk(context.Background(), Calendar(), func(_ context.Context, row mapi.Row) (bool, error) {
		assert.Equal(t, mapi.ClassAppointment, row.MessageClass)
		names = append(names, displayName(row))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Standup"}, names)
}

func TestWalk_StopsOnKthRow(t *testing.T) {
	tr := buildTree(t)
	e, _ := newEnumerator(t, tr.provider)

	for k := 1; k <= len(tr.order); k++ {
		calls := 0
		res, err := e.Walk(context.Background(), Contacts(""), func(context.Context, mapi.Row) (bool, error) {
			calls++
			return calls < k, nil
		})
		require.NoError(t, err)
		assert.Equal(t, k, calls, "k=%d", k)
		assert.True(t, res.Stopped)
	}
}

func TestWalk_VisitorMayUseTheGuard(t *testing.T) {
	tr := buildTree(t)
	e, g := newEnumerator(t, tr.provider)
	ctx := context.Background()

	var classes []string
	_, err := e.Walk(ctx, Contacts(""), func(ctx context.Context, row mapi.Row) (bool, error) {
		err := g.Do(ctx, func(sess mapi.Session) error {
			m, err := sess.OpenMessage(ctx, row.EntryID)
			if err != nil {
				return err
			}
			classes = append(classes, m.MessageClass())
			return nil
		})
		return err == nil, err
	})
	require.NoError(t, err)
	assert.Len(t, classes, 4)
}

func TestWalk_VisitorError(t *testing.T) {
	tr := buildTree(t)
	e, _ := newEnumerator(t, tr.provider)
	boom := errors.New("callback gone")

	calls := 0
	_, err := e.Walk(context.Background(), Contacts(""), func(context.Context, mapi.Row) (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWalk_SkipsStoreThatFailsToOpen(t *testing.T) {
	tr := buildTree(t)
	e, _ := newEnumerator(t, &failingProvider{inner: tr.provider, bad: tr.stores[0]})

	var names []string
	res, err := e.Walk(context.Background(), Contacts(""), func(_ context.Context, row mapi.Row) (bool, error) {
		names = append(names, displayName(row))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Edsger Dijkstra"}, names)
	assert.Equal(t, 1, res.Skipped)
}

func TestWalk_NoSession(t *testing.T) {
	tr := buildTree(t)
	e := New(session.NewGuard(tr.provider, nil), nil)

	_, err := e.Walk(context.Background(), Contacts(""), func(context.Context, mapi.Row) (bool, error) {
		return true, nil
	})
	assert.ErrorIs(t, err, session.ErrNoSession)
}
