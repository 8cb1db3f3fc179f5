// Package cqlstore implements store.Store on Cassandra.
//
// Every write is a lightweight transaction (IF NOT EXISTS, IF EXISTS,
// IF etag = ?), so writes to a row are linearizable. An overwriting create
// updates an existing row and falls back to an insert when there is none.
// Scans read the partition, or the whole table, and order and page in memory.
package cqlstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/acksell/entities/store"
	"github.com/gocql/gocql"
)

// Options configures a Store.
type Options struct {
	Keyspace string
	// ReplicationFactor is used when Migrate creates the keyspace. Defaults to 1.
	ReplicationFactor int
	// MaxValueBytes rejects larger JSON values. Zero means unlimited.
	MaxValueBytes int
	Logger        *log.Logger
}

// Store is a store.Store over a gocql session.
type Store struct {
	session *gocql.Session
	opts    Options
	tables  map[string]*Table
	order   []string
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Migrator = (*Store)(nil)
)

// Connect opens a session to hosts with quorum consistency and serial
// consistency for the lightweight transactions.
func Connect(hosts []string, timeout time.Duration, opts Options, tables ...string) (*Store, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.Serial
	if timeout > 0 {
		cluster.Timeout = timeout
		cluster.ConnectTimeout = timeout
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to cassandra: %w", err)
	}
	s, err := New(session, opts, tables...)
	if err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

// New registers tables on an open session. The Store owns the session and
// closes it on Close.
func New(session *gocql.Session, opts Options, tables ...string) (*Store, error) {
	if opts.ReplicationFactor <= 0 {
		opts.ReplicationFactor = 1
	}
	if err := validIdent("keyspace", opts.Keyspace); err != nil {
		return nil, err
	}
	s := &Store{session: session, opts: opts, tables: make(map[string]*Table, len(tables))}
	for _, name := range tables {
		if err := validIdent("table", name); err != nil {
			return nil, err
		}
		if _, dup := s.tables[name]; dup {
			continue
		}
		s.order = append(s.order, name)
		s.tables[name] = &Table{
			session: session,
			name:    name,
			opts:    opts,
			cql:     newStatements(opts.Keyspace, name, opts.ReplicationFactor),
		}
	}
	return s, nil
}

func (s *Store) Table(name string) (store.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *Store) Close() error {
	s.session.Close()
	return nil
}

// Migrate creates the keyspace and the tables.
func (s *Store) Migrate(ctx context.Context) error {
	for i, name := range s.order {
		t := s.tables[name]
		if i == 0 {
			if err := s.session.Query(t.cql.createKSpace).WithContext(ctx).Exec(); err != nil {
				return fmt.Errorf("create keyspace %s: %w", s.opts.Keyspace, err)
			}
		}
		if err := s.session.Query(t.cql.create).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Printf("cqlstore: migrated %s.%s", s.opts.Keyspace, name)
		}
	}
	return nil
}
