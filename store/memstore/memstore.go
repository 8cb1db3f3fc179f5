// Package memstore is the in-memory reference implementation of store.Store.
//
// Each table is an ordered b-tree guarded by a mutex, so every operation,
// including the etag compare-and-set of Modify, is atomic. It is the fake used
// by tests of code built on the entity layer.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/acksell/entities/store"
	"github.com/google/btree"
)

// Options configures a Store.
type Options struct {
	// MaxValueBytes rejects values whose JSON encoding is larger, with
	// store.CodeValueTooLarge. Zero means unlimited.
	MaxValueBytes int
}

// Store holds tables in memory.
type Store struct {
	mu     sync.Mutex
	opts   Options
	tables map[string]*Table
	closed bool
}

var _ store.Store = (*Store)(nil)

// New creates a store with the given tables.
func New(opts Options, tables ...string) *Store {
	s := &Store{opts: opts, tables: make(map[string]*Table, len(tables))}
	for _, name := range tables {
		s.tables[name] = &Table{
			name: name,
			opts: opts,
			rows: btree.NewG(32, func(a, b store.Row) bool { return store.CompareRows(a, b) < 0 }),
		}
	}
	return s
}

// Table returns the named table.
func (s *Store) Table(name string) (store.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

// Close drops all data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.tables {
		t.mu.Lock()
		t.rows.Clear(false)
		t.mu.Unlock()
	}
	return nil
}

// Table is one in-memory table.
type Table struct {
	name string
	opts Options

	mu   sync.Mutex
	rows *btree.BTreeG[store.Row]
}

func (t *Table) Name() string { return t.name }

// encode copies value and enforces the size limit.
func (t *Table) encode(value store.Value) (store.Value, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if t.opts.MaxValueBytes > 0 && len(b) > t.opts.MaxValueBytes {
		return nil, store.ValueTooLarge(len(b), t.opts.MaxValueBytes)
	}
	return store.DecodeValue(b)
}

func clone(row store.Row) (*store.Row, error) {
	v, err := store.Normalize(row.Value)
	if err != nil {
		return nil, err
	}
	row.Value = v
	return &row, nil
}

func (t *Table) Load(ctx context.Context, pk, rk string) (*store.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows.Get(store.Row{PartitionKey: pk, RowKey: rk})
	if !ok {
		return nil, nil
	}
	return clone(row)
}

func (t *Table) Create(ctx context.Context, pk, rk string, value store.Value, overwrite bool, version int) (string, error) {
	v, err := t.encode(value)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := store.Row{PartitionKey: pk, RowKey: rk}
	if _, exists := t.rows.Get(key); exists && !overwrite {
		return "", store.RowExists(pk, rk)
	}
	etag := store.NewETag()
	t.rows.ReplaceOrInsert(store.Row{PartitionKey: pk, RowKey: rk, Value: v, ETag: etag, Version: version})
	return etag, nil
}

func (t *Table) Remove(ctx context.Context, pk, rk string) (*store.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows.Delete(store.Row{PartitionKey: pk, RowKey: rk})
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (t *Table) Modify(ctx context.Context, pk, rk string, value store.Value, version int, expectedETag string) (string, error) {
	v, err := t.encode(value)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.rows.Get(store.Row{PartitionKey: pk, RowKey: rk})
	if !ok {
		return "", store.RowMissing(pk, rk)
	}
	if current.ETag != expectedETag {
		return "", store.StaleETag(pk, rk)
	}
	etag := store.NewETag()
	t.rows.ReplaceOrInsert(store.Row{PartitionKey: pk, RowKey: rk, Value: v, ETag: etag, Version: version})
	return etag, nil
}

func (t *Table) Scan(ctx context.Context, req store.ScanRequest) ([]store.Row, error) {
	if err := req.Condition.Validate(); err != nil {
		return nil, err
	}
	size, offset := req.Limits()

	t.mu.Lock()
	defer t.mu.Unlock()

	out := []store.Row{}
	skipped := 0
	var iterErr error
	visit := func(row store.Row) bool {
		if req.PartitionKey != nil && row.PartitionKey != *req.PartitionKey {
			return false
		}
		if !req.Matches(row) {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		c, err := clone(row)
		if err != nil {
			iterErr = err
			return false
		}
		out = append(out, *c)
		return len(out) < size
	}
	if req.PartitionKey != nil {
		t.rows.AscendGreaterOrEqual(store.Row{PartitionKey: *req.PartitionKey}, visit)
	} else {
		t.rows.Ascend(visit)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}
