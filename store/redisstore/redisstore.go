// Package redisstore implements store.Store on Redis.
//
// Each row is a hash. A per-table sorted set holds the row ids (store.RowID)
// of all rows with score zero, so its lexicographic order is the scan order.
// Writes run inside WATCH/MULTI transactions and are retried when the watched
// row changes underneath.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/acksell/entities/store"
	"github.com/go-redis/redis/v8"
)

// Hash fields of a row.
const (
	fieldPartitionKey = "pk"
	fieldRowKey       = "rk"
	fieldValue        = "value"
	fieldETag         = "etag"
	fieldVersion      = "version"
)

// ErrTooManyConflicts is returned when a write lost the WATCH race MaxRetries times.
var ErrTooManyConflicts = errors.New("redisstore: too many conflicting transactions")

// Options configures a Store.
type Options struct {
	// KeyPrefix namespaces every key, e.g. "entities:".
	KeyPrefix string
	// MaxValueBytes rejects larger JSON values. Zero means unlimited.
	MaxValueBytes int
	// MaxRetries bounds the WATCH retries of one write. Defaults to 10.
	MaxRetries int
	// ScanBatch is the number of rows fetched per pipeline during a scan.
	// Defaults to 100.
	ScanBatch int
	Logger    *log.Logger
}

// Store is a store.Store over a Redis client.
type Store struct {
	client redis.UniversalClient
	opts   Options
	tables map[string]*Table
}

var _ store.Store = (*Store)(nil)

// New registers tables on client. The Store owns the client and closes it on Close.
func New(client redis.UniversalClient, opts Options, tables ...string) *Store {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	if opts.ScanBatch <= 0 {
		opts.ScanBatch = 100
	}
	s := &Store{client: client, opts: opts, tables: make(map[string]*Table, len(tables))}
	for _, name := range tables {
		s.tables[name] = &Table{
			client: client,
			name:   name,
			opts:   opts,
			prefix: opts.KeyPrefix + name + ":",
		}
	}
	return s
}

func (s *Store) Table(name string) (store.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Table is one logical table inside the Redis keyspace.
type Table struct {
	client redis.UniversalClient
	name   string
	opts   Options
	prefix string
}

func (t *Table) Name() string { return t.name }

func (t *Table) indexKey() string { return t.prefix + "index" }

func (t *Table) rowKey(id string) string { return t.prefix + "row:" + id }

func (t *Table) encode(value store.Value) (string, error) {
	if value == nil {
		value = store.Value{}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	if limit := t.opts.MaxValueBytes; limit > 0 && len(b) > limit {
		return "", store.ValueTooLarge(len(b), limit)
	}
	return string(b), nil
}

func decodeHash(h map[string]string) (*store.Row, error) {
	if len(h) == 0 {
		return nil, nil
	}
	v, err := store.DecodeValue([]byte(h[fieldValue]))
	if err != nil {
		return nil, err
	}
	version, err := strconv.Atoi(h[fieldVersion])
	if err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return &store.Row{
		PartitionKey: h[fieldPartitionKey],
		RowKey:       h[fieldRowKey],
		Value:        v,
		ETag:         h[fieldETag],
		Version:      version,
	}, nil
}

// transact runs fn under WATCH on the row key, retrying lost races.
func (t *Table) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < t.opts.MaxRetries; i++ {
		err := t.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if t.opts.Logger != nil {
			t.opts.Logger.Printf("redisstore: %s: conflict on %q, retrying", t.name, key)
		}
	}
	return ErrTooManyConflicts
}

func (t *Table) put(ctx context.Context, pipe redis.Pipeliner, key, id, pk, rk, value, etag string, version int) {
	pipe.HSet(ctx, key,
		fieldPartitionKey, pk,
		fieldRowKey, rk,
		fieldValue, value,
		fieldETag, etag,
		fieldVersion, version,
	)
	pipe.ZAdd(ctx, t.indexKey(), &redis.Z{Score: 0, Member: id})
}

func (t *Table) Load(ctx context.Context, pk, rk string) (*store.Row, error) {
	h, err := t.client.HGetAll(ctx, t.rowKey(string(store.RowID(pk, rk)))).Result()
	if err != nil {
		return nil, err
	}
	return decodeHash(h)
}

func (t *Table) Create(ctx context.Context, pk, rk string, value store.Value, overwrite bool, version int) (string, error) {
	v, err := t.encode(value)
	if err != nil {
		return "", err
	}
	id := string(store.RowID(pk, rk))
	key := t.rowKey(id)
	etag := store.NewETag()
	err = t.transact(ctx, key, func(tx *redis.Tx) error {
		if !overwrite {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return store.RowExists(pk, rk)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			t.put(ctx, pipe, key, id, pk, rk, v, etag, version)
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

func (t *Table) Modify(ctx context.Context, pk, rk string, value store.Value, version int, expectedETag string) (string, error) {
	v, err := t.encode(value)
	if err != nil {
		return "", err
	}
	id := string(store.RowID(pk, rk))
	key := t.rowKey(id)
	etag := store.NewETag()
	err = t.transact(ctx, key, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldETag).Result()
		if errors.Is(err, redis.Nil) {
			return store.RowMissing(pk, rk)
		}
		if err != nil {
			return err
		}
		if current != expectedETag {
			return store.StaleETag(pk, rk)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			t.put(ctx, pipe, key, id, pk, rk, v, etag, version)
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

func (t *Table) Remove(ctx context.Context, pk, rk string) (*store.Row, error) {
	id := string(store.RowID(pk, rk))
	key := t.rowKey(id)
	var removed *store.Row
	err := t.transact(ctx, key, func(tx *redis.Tx) error {
		removed = nil
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		row, err := decodeHash(h)
		if err != nil || row == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, t.indexKey(), id)
			return nil
		})
		removed = row
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// bounds returns the lexicographic range of the index a scan covers.
func bounds(req store.ScanRequest) (lo, hi string) {
	if req.PartitionKey == nil {
		return "-", "+"
	}
	prefix := store.PartitionPrefix(*req.PartitionKey)
	upper := append([]byte{}, prefix...)
	upper[len(upper)-1]++
	return "[" + string(prefix), "(" + string(upper)
}

// Scan walks the index in order and stops as soon as the page is full.
func (t *Table) Scan(ctx context.Context, req store.ScanRequest) ([]store.Row, error) {
	if err := req.Condition.Validate(); err != nil {
		return nil, err
	}
	lo, hi := bounds(req)
	ids, err := t.client.ZRangeByLex(ctx, t.indexKey(), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, err
	}

	size, skip := req.Limits()
	rows := []store.Row{}
	for start := 0; start < len(ids) && len(rows) < size; start += t.opts.ScanBatch {
		end := start + t.opts.ScanBatch
		if end > len(ids) {
			end = len(ids)
		}
		cmds := make([]*redis.StringStringMapCmd, 0, end-start)
		_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids[start:end] {
				cmds = append(cmds, pipe.HGetAll(ctx, t.rowKey(id)))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, cmd := range cmds {
			row, err := decodeHash(cmd.Val())
			if err != nil {
				return nil, err
			}
			// removed between the index read and the fetch
			if row == nil || !req.Matches(*row) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			rows = append(rows, *row)
			if len(rows) == size {
				break
			}
		}
	}
	return rows, nil
}
