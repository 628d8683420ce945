// ABOUTME: Depth-first walk of every store's folder tree producing contact and calendar rows
// ABOUTME: The session guard is held while a folder is listed, never while a visitor runs

package enum

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/session"
)

// Visitor receives one matching row. Returning false stops the whole walk.
// A returned error also stops the walk and is passed back to the caller.
type Visitor func(ctx context.Context, row mapi.Row) (bool, error)

// Filter selects the rows handed to the visitor.
type Filter func(row mapi.Row) bool

// Request describes one walk.
type Request struct {
	Filter  Filter
	Columns []mapi.PropTag
}

// Result summarizes a walk.
type Result struct {
	Visited int
	Stopped bool
	// Skipped counts stores and folders that could not be opened.
	Skipped int
}

// ContactColumns are read for contact rows and matched against the query.
var ContactColumns = []mapi.PropTag{
	mapi.PropTagDisplayName,
	mapi.PropTagEmailAddress,
	mapi.PropTagGivenName,
	mapi.PropTagSurname,
	mapi.PropTagCompanyName,
}

// CalendarColumns are read for calendar rows.
var CalendarColumns = []mapi.PropTag{
	mapi.PropTagSubject,
}

// Contacts matches contact rows whose string columns contain query, ignoring
// case. An empty query matches every contact.
func Contacts(query string) Request {
	q := strings.ToLower(strings.TrimSpace(query))
	return Request{
		Columns: ContactColumns,
		Filter: func(row mapi.Row) bool {
			if mapi.KindOfClass(row.MessageClass) != mapi.KindContact {
				return false
			}
			if q == "" {
				return true
			}
			for _, v := range row.Props {
				if s, ok := v.Value.(string); ok && strings.Contains(strings.ToLower(s), q) {
					return true
				}
			}
			return false
		},
	}
}

// Calendar matches every calendar item.
func Calendar() Request {
	return Request{
		Columns: CalendarColumns,
		Filter: func(row mapi.Row) bool {
			return mapi.KindOfClass(row.MessageClass) == mapi.KindCalendar
		},
	}
}

// Enumerator walks the stores of the guarded session.
type Enumerator struct {
	guard  *session.Guard
	logger *slog.Logger
}

// New creates an enumerator.
func New(guard *session.Guard, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{guard: guard, logger: logger.With("component", "enum")}
}

type walk struct {
	e      *Enumerator
	req    Request
	visit  Visitor
	seen   map[string]bool
	result Result
}

// Walk visits every matching row of every store: the contents of a folder
// first, then its child folders, depth first. A store or folder that fails
// to open is logged and skipped.
func (e *Enumerator) Walk(ctx context.Context, req Request, visit Visitor) (Result, error) {
	var stores []mapi.StoreRow
	err := e.guard.Do(ctx, func(sess mapi.Session) error {
		var err error
		stores, err = sess.StoreTable().Rows(ctx)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	w := &walk{e: e, req: req, visit: visit, seen: make(map[string]bool)}
	for _, row := range stores {
		var rootID mapi.EntryID
		err := e.guard.Do(ctx, func(sess mapi.Session) error {
			st, err := sess.OpenStore(ctx, row.EntryID)
			if err != nil {
				return err
			}
			root, err := st.RootFolder(ctx)
			if err != nil {
				return err
			}
			rootID = root.EntryID()
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return w.result, ctx.Err()
			}
			e.logger.Warn("skipping store", "store", row.EntryID.String(), "name", row.DisplayName, "error", err)
			w.result.Skipped++
			continue
		}

		more, err := w.folder(ctx, rootID)
		if err != nil {
			return w.result, err
		}
		if !more {
			w.result.Stopped = true
			break
		}
	}
	return w.result, nil
}

// folder returns false once the visitor asked to stop.
func (w *walk) folder(ctx context.Context, id mapi.EntryID) (bool, error) {
	key := string(id)
	if w.seen[key] {
		return true, nil
	}
	w.seen[key] = true

	var rows []mapi.Row
	var children []mapi.EntryID
	err := w.e.guard.Do(ctx, func(sess mapi.Session) error {
		f, err := sess.OpenFolder(ctx, id)
		if err != nil {
			return err
		}
		if rows, err = f.Contents(ctx, w.req.Columns); err != nil {
			return err
		}
		children, err = f.Hierarchy(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		w.e.logger.Warn("skipping folder", "folder", id.String(), "error", err)
		w.result.Skipped++
		return true, nil
	}

	for _, row := range rows {
		if w.req.Filter != nil && !w.req.Filter(row) {
			continue
		}
		w.result.Visited++
		more, err := w.visit(ctx, row)
		if err != nil {
			return false, err
		}
		if !more {
			return false, nil
		}
	}

	for _, child := range children {
		more, err := w.folder(ctx, child)
		if err != nil || !more {
			return more, err
		}
	}
	return true, nil
}
