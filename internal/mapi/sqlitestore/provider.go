// ABOUTME: SQLite-backed implementation of mapi.Provider for development and tests
// ABOUTME: Owns the database, the advise registry and the event dispatch goroutine

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389/mapi-bridge/internal/mapi"
)

// DefaultDriver is the pure-Go SQLite driver.
const DefaultDriver = "sqlite"

// ErrClosed is returned by a provider after Close.
var ErrClosed = errors.New("sqlitestore: provider closed")

// Option configures a Provider.
type Option func(*options)

type options struct {
	driver string
	logger *slog.Logger
}

// WithDriver selects the database/sql driver name ("sqlite" or "sqlite3").
func WithDriver(name string) Option {
	return func(o *options) {
		if name != "" {
			o.driver = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Provider is a store installation backed by one SQLite database.
type Provider struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	nextConn mapi.Connection
	tables   map[mapi.Connection]*tableAdvise
	objects  map[mapi.Connection]*objectAdvise

	dispatch *dispatcher
}

type tableAdvise struct {
	session *Session
	sink    mapi.TableSink
}

type objectAdvise struct {
	session *Session
	storeID mapi.EntryID
	mask    mapi.EventMask
	sink    mapi.ObjectSink
}

// Open creates or opens the database at path. The schema is created if needed
// and parent directories are created for file paths.
func Open(path string, opts ...Option) (*Provider, error) {
	o := options{driver: DefaultDriver, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "sqlitestore")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	// Result sets are always drained before the next query is issued.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	p := &Provider{
		db:       db,
		logger:   logger,
		nextConn: 1,
		tables:   make(map[mapi.Connection]*tableAdvise),
		objects:  make(map[mapi.Connection]*objectAdvise),
		dispatch: newDispatcher(),
	}

	if err := p.createSchema(); err != nil {
		p.dispatch.close()
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", path, "driver", o.driver)
	return p, nil
}

func (p *Provider) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS stores (
			id BLOB PRIMARY KEY,
			display_name TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			root_id BLOB NOT NULL,
			contacts_id BLOB NOT NULL,
			calendar_id BLOB NOT NULL,
			trash_id BLOB NOT NULL,
			position INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS folders (
			id BLOB PRIMARY KEY,
			store_id BLOB NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
			parent_id BLOB,
			display_name TEXT NOT NULL,
			container_class TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);

		CREATE TABLE IF NOT EXISTS messages (
			id BLOB PRIMARY KEY,
			store_id BLOB NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
			folder_id BLOB NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
			message_class TEXT NOT NULL,
			position INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder_id);

		CREATE TABLE IF NOT EXISTS props (
			message_id BLOB NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			prop_id INTEGER NOT NULL,
			prop_type INTEGER NOT NULL,
			value,
			PRIMARY KEY (message_id, prop_id)
		);

		CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id BLOB NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			filename TEXT NOT NULL DEFAULT '',
			contact_photo INTEGER NOT NULL DEFAULT 0,
			data BLOB
		);

		CREATE TABLE IF NOT EXISTS aliases (
			alias BLOB PRIMARY KEY,
			target BLOB NOT NULL
		);
	`
	_, err := p.db.Exec(schema)
	return err
}

// Close stops event dispatch and closes the database.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	leaked := len(p.tables) + len(p.objects)
	p.mu.Unlock()

	if leaked > 0 {
		p.logger.Warn("closing with advise connections still registered", "count", leaked)
	}
	p.dispatch.close()
	return p.db.Close()
}

// Logon opens a session. The database is the profile, so the profile name is
// only logged.
func (p *Provider) Logon(ctx context.Context, profile string, flags mapi.LogonFlags) (mapi.Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := p.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("logon: %w", err)
	}
	p.logger.Debug("logon", "profile", profile, "flags", uint32(flags))
	return &Session{provider: p}, nil
}

// ActiveConnections reports how many advise connections are registered.
func (p *Provider) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tables) + len(p.objects)
}

// Flush blocks until every event posted so far has been delivered.
func (p *Provider) Flush() {
	p.dispatch.flush()
}

func (p *Provider) adviseTable(s *Session, sink mapi.TableSink) (mapi.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	conn := p.nextConn
	p.nextConn++
	p.tables[conn] = &tableAdvise{session: s, sink: sink}
	return conn, nil
}

func (p *Provider) adviseObject(s *Session, storeID mapi.EntryID, mask mapi.EventMask, sink mapi.ObjectSink) (mapi.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	conn := p.nextConn
	p.nextConn++
	p.objects[conn] = &objectAdvise{session: s, storeID: storeID.Clone(), mask: mask, sink: sink}
	return conn, nil
}

func (p *Provider) unadvise(conn mapi.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tables[conn]; ok {
		delete(p.tables, conn)
		return nil
	}
	if _, ok := p.objects[conn]; ok {
		delete(p.objects, conn)
		return nil
	}
	return fmt.Errorf("%w: %d", mapi.ErrUnknownConnection, conn)
}

// dropSession removes whatever connections a session left behind.
func (p *Provider) dropSession(s *Session) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	dropped := 0
	for conn, a := range p.tables {
		if a.session == s {
			delete(p.tables, conn)
			dropped++
		}
	}
	for conn, a := range p.objects {
		if a.session == s {
			delete(p.objects, conn)
			dropped++
		}
	}
	return dropped
}

// postTable queues ev for every table sink. Sinks are resolved at delivery
// time so a sink released before delivery is never called.
func (p *Provider) postTable(ev mapi.TableEvent) {
	p.dispatch.post(func() {
		p.mu.Lock()
		sinks := make([]mapi.TableSink, 0, len(p.tables))
		for _, a := range p.tables {
			sinks = append(sinks, a.sink)
		}
		p.mu.Unlock()

		for _, sink := range sinks {
			sink.OnTableEvent(ev)
		}
	})
}

// postObject queues ev for the sinks of storeID whose mask selects it.
func (p *Provider) postObject(storeID mapi.EntryID, ev mapi.ObjectEvent) {
	p.dispatch.post(func() {
		p.mu.Lock()
		sinks := make([]mapi.ObjectSink, 0, len(p.objects))
		for _, a := range p.objects {
			if a.mask&ev.Type != 0 && string(a.storeID) == string(storeID) {
				sinks = append(sinks, a.sink)
			}
		}
		p.mu.Unlock()

		for _, sink := range sinks {
			sink.OnObjectEvent(ev)
		}
	})
}
