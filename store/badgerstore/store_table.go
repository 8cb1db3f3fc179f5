package badgerstore

import (
	"context"
	"errors"

	"github.com/acksell/entities/store"
	"github.com/dgraph-io/badger/v4"
)

// Table is one table of a Store.
type Table struct {
	store  *Store
	name   string
	prefix []byte
}

func (t *Table) Name() string { return t.name }

// get returns the row at key, or nil if absent.
func (t *Table) get(txn *badger.Txn, pk, rk string) (*store.Row, error) {
	item, err := txn.Get(t.encodeKey(pk, rk))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(pk, rk, data)
}

func (t *Table) Load(ctx context.Context, pk, rk string) (*store.Row, error) {
	var row *store.Row
	err := t.store.db.View(func(txn *badger.Txn) error {
		var err error
		row, err = t.get(txn, pk, rk)
		return err
	})
	return row, err
}

func (t *Table) Create(ctx context.Context, pk, rk string, value store.Value, overwrite bool, version int) (string, error) {
	etag := store.NewETag()
	data, err := t.encodeRecord(value, etag, version)
	if err != nil {
		return "", err
	}
	err = t.store.update(func(txn *badger.Txn) error {
		if !overwrite {
			existing, err := t.get(txn, pk, rk)
			if err != nil {
				return err
			}
			if existing != nil {
				return store.RowExists(pk, rk)
			}
		}
		return txn.Set(t.encodeKey(pk, rk), data)
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

func (t *Table) Remove(ctx context.Context, pk, rk string) (*store.Row, error) {
	var removed *store.Row
	err := t.store.update(func(txn *badger.Txn) error {
		row, err := t.get(txn, pk, rk)
		if err != nil || row == nil {
			removed = nil
			return err
		}
		removed = row
		return txn.Delete(t.encodeKey(pk, rk))
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (t *Table) Modify(ctx context.Context, pk, rk string, value store.Value, version int, expectedETag string) (string, error) {
	etag := store.NewETag()
	data, err := t.encodeRecord(value, etag, version)
	if err != nil {
		return "", err
	}
	err = t.store.update(func(txn *badger.Txn) error {
		current, err := t.get(txn, pk, rk)
		if err != nil {
			return err
		}
		if current == nil {
			return store.RowMissing(pk, rk)
		}
		if current.ETag != expectedETag {
			return store.StaleETag(pk, rk)
		}
		return txn.Set(t.encodeKey(pk, rk), data)
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

func (t *Table) Scan(ctx context.Context, req store.ScanRequest) ([]store.Row, error) {
	if err := req.Condition.Validate(); err != nil {
		return nil, err
	}
	size, offset := req.Limits()
	prefix := t.prefix
	if req.PartitionKey != nil {
		prefix = t.partitionPrefix(*req.PartitionKey)
	}

	out := []store.Row{}
	err := t.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			pk, rk, err := t.decodeKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			if req.RowKey != nil && *req.RowKey != rk {
				continue
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			row, err := decodeRecord(pk, rk, data)
			if err != nil {
				return err
			}
			if !req.Matches(*row) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, *row)
			if len(out) == size {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
