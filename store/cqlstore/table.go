package cqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/acksell/entities/store"
	"github.com/gocql/gocql"
)

// Table is one Cassandra table.
type Table struct {
	session *gocql.Session
	name    string
	opts    Options
	cql     statements
}

func (t *Table) Name() string { return t.name }

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

func decodeRow(pk, rk, value, etag string, version int) (store.Row, error) {
	v, err := store.DecodeValue([]byte(value))
	if err != nil {
		return store.Row{}, err
	}
	return store.Row{PartitionKey: pk, RowKey: rk, Value: v, ETag: etag, Version: version}, nil
}

func (t *Table) Load(ctx context.Context, pk, rk string) (*store.Row, error) {
	var (
		value, etag string
		version     int
	)
	err := t.session.Query(t.cql.load, pk, rk).WithContext(ctx).Scan(&pk, &rk, &value, &etag, &version)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row, err := decodeRow(pk, rk, value, etag, version)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (t *Table) Create(ctx context.Context, pk, rk string, value store.Value, overwrite bool, version int) (string, error) {
	v, err := t.encode(value)
	if err != nil {
		return "", err
	}
	etag := store.NewETag()
	for {
		if overwrite {
			applied, err := t.session.Query(t.cql.updateIfAny, v, etag, version, pk, rk).WithContext(ctx).MapScanCAS(map[string]interface{}{})
			if err != nil {
				return "", err
			}
			if applied {
				return etag, nil
			}
		}
		applied, err := t.session.Query(t.cql.insertIfNot, pk, rk, v, etag, version).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return "", err
		}
		if applied {
			return etag, nil
		}
		if !overwrite {
			return "", store.RowExists(pk, rk)
		}
		// a row was inserted between the two statements
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

func (t *Table) Modify(ctx context.Context, pk, rk string, value store.Value, version int, expectedETag string) (string, error) {
	v, err := t.encode(value)
	if err != nil {
		return "", err
	}
	etag := store.NewETag()
	current := map[string]interface{}{}
	applied, err := t.session.Query(t.cql.update, v, etag, version, pk, rk, expectedETag).WithContext(ctx).MapScanCAS(current)
	if err != nil {
		return "", err
	}
	if !applied {
		// a missing row reports a null etag
		if s, _ := current["etag"].(string); s == "" {
			return "", store.RowMissing(pk, rk)
		}
		return "", store.StaleETag(pk, rk)
	}
	return etag, nil
}

// Remove deletes the row if it still holds the etag it was read with, so the
// returned row is exactly what was removed.
func (t *Table) Remove(ctx context.Context, pk, rk string) (*store.Row, error) {
	for {
		row, err := t.Load(ctx, pk, rk)
		if err != nil || row == nil {
			return nil, err
		}
		applied, err := t.session.Query(t.cql.deleteIf, pk, rk, row.ETag).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return nil, err
		}
		if applied {
			return row, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (t *Table) Scan(ctx context.Context, req store.ScanRequest) ([]store.Row, error) {
	if err := req.Condition.Validate(); err != nil {
		return nil, err
	}
	q := t.session.Query(t.cql.scan)
	if req.PartitionKey != nil {
		q = t.session.Query(t.cql.scanByPK, *req.PartitionKey)
	}
	iter := q.WithContext(ctx).Iter()

	var (
		rows                []store.Row
		pk, rk, value, etag string
		version             int
	)
	for iter.Scan(&pk, &rk, &value, &etag, &version) {
		row, err := decodeRow(pk, rk, value, etag, version)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if req.Matches(row) {
			rows = append(rows, row)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return store.Paginate(rows, req), nil
}
