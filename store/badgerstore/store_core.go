// Package badgerstore implements store.Store on an embedded BadgerDB.
//
// Every operation runs in a single badger transaction. Badger's serializable
// snapshot isolation turns a concurrent write to the same row into a commit
// conflict, which the store retries; the retried transaction then sees the
// new etag. This makes Modify an atomic compare-and-set.
package badgerstore

import (
	"errors"
	"fmt"
	"log"

	"github.com/acksell/entities/store"
	"github.com/dgraph-io/badger/v4"
)

const (
	keySeparator      byte = 0x00
	defaultMaxRetries      = 16
)

// StoreOptions configures the BadgerDB store.
type StoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives badger's own log output. If nil, logging is disabled.
	Logger *log.Logger
	// MaxValueBytes rejects larger encoded values with store.CodeValueTooLarge.
	// Zero means unlimited.
	MaxValueBytes int
	// MaxRetries bounds the retries of a transaction that hit a commit conflict.
	MaxRetries int
}

// Store is a store.Store backed by BadgerDB.
type Store struct {
	db     *badger.DB
	opts   StoreOptions
	tables map[string]*Table
}

var _ store.Store = (*Store)(nil)

// New opens the database and registers the given tables.
func New(opts StoreOptions, tables ...string) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)

	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(logger{opts.Logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	s := &Store{db: db, opts: opts, tables: make(map[string]*Table, len(tables))}
	for _, name := range tables {
		s.tables[name] = &Table{store: s, name: name, prefix: append([]byte(name), keySeparator)}
	}
	return s, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table returns the named table.
func (s *Store) Table(name string) (store.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

// update runs fn in a read-write transaction, retrying commit conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction kept conflicting after %d retries: %w", s.opts.MaxRetries, err)
}

// logger adapts a *log.Logger to badger.Logger.
type logger struct{ l *log.Logger }

func (l logger) Errorf(format string, args ...any)   { l.l.Printf("badger ERROR: "+format, args...) }
func (l logger) Warningf(format string, args ...any) { l.l.Printf("badger WARNING: "+format, args...) }
func (l logger) Infof(format string, args ...any)    { l.l.Printf("badger INFO: "+format, args...) }
func (l logger) Debugf(format string, args ...any)   {}
