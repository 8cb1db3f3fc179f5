package entity

import (
	"context"
	"fmt"
	"log"

	"github.com/acksell/entities/store"
)

// DefaultLimit is the page size of Scan when ScanOptions.Limit is unset.
const DefaultLimit = store.DefaultPageSize

// Table is an entity type bound to one table of a store.
type Table struct {
	def         *Definition
	table       store.Table
	name        string
	serviceName string
	context     map[string]any
	logger      *log.Logger
}

func (t *Table) Name() string        { return t.name }
func (t *Table) ServiceName() string { return t.serviceName }

// Definition returns the entity type t was set up from.
func (t *Table) Definition() *Definition { return t.def }

func (t *Table) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf("entities: %s: "+format, append([]any{t.name}, args...)...)
	}
}

func (t *Table) newInstance(props Properties, pk, rk, etag string) *Instance {
	return &Instance{table: t, properties: props, partitionKey: pk, rowKey: rk, etag: etag}
}

// Create stores a new entity. Unless overwrite is set, an existing entity with
// the same keys fails with ErrEntityAlreadyExists.
func (t *Table) Create(ctx context.Context, props Properties, overwrite bool) (*Instance, error) {
	pk, rk, err := t.def.keyOf(props)
	if err != nil {
		return nil, err
	}
	value, err := t.def.serialize(props)
	if err != nil {
		return nil, err
	}
	stored, err := t.def.roundTrip(value)
	if err != nil {
		return nil, err
	}
	etag, err := t.table.Create(ctx, pk, rk, value, overwrite, t.def.version)
	if err != nil {
		t.logf("create (%q, %q): %v", pk, rk, err)
		return nil, translate(err, t.name, pk, rk)
	}
	return t.newInstance(stored, pk, rk, etag), nil
}

// Load fetches the entity addressed by the key properties in props. A missing
// entity yields nil, nil if ignoreIfNotExists is set and ErrResourceNotFound
// otherwise.
func (t *Table) Load(ctx context.Context, props Properties, ignoreIfNotExists bool) (*Instance, error) {
	pk, rk, err := t.def.keyOf(props)
	if err != nil {
		return nil, err
	}
	row, err := t.table.Load(ctx, pk, rk)
	if err != nil {
		t.logf("load (%q, %q): %v", pk, rk, err)
		return nil, translate(err, t.name, pk, rk)
	}
	if row == nil {
		if ignoreIfNotExists {
			return nil, nil
		}
		return nil, newError(ErrResourceNotFound, nil, "%s (%q, %q)", t.name, pk, rk)
	}
	return t.Hydrate(*row)
}

// Remove deletes the entity addressed by the key properties in props and
// reports whether a row was removed. A missing entity fails with
// ErrResourceNotFound unless ignoreIfNotExists is set.
func (t *Table) Remove(ctx context.Context, props Properties, ignoreIfNotExists bool) (bool, error) {
	pk, rk, err := t.def.keyOf(props)
	if err != nil {
		return false, err
	}
	return t.remove(ctx, pk, rk, ignoreIfNotExists)
}

func (t *Table) remove(ctx context.Context, pk, rk string, ignoreIfNotExists bool) (bool, error) {
	removed, err := t.table.Remove(ctx, pk, rk)
	if err != nil {
		t.logf("remove (%q, %q): %v", pk, rk, err)
		return false, translate(err, t.name, pk, rk)
	}
	if removed == nil {
		if ignoreIfNotExists {
			return false, nil
		}
		return false, newError(ErrResourceNotFound, nil, "%s (%q, %q)", t.name, pk, rk)
	}
	return true, nil
}

// Hydrate wraps a stored row as an Instance.
func (t *Table) Hydrate(row store.Row) (*Instance, error) {
	props, err := t.def.deserialize(row.Value)
	if err != nil {
		return nil, fmt.Errorf("%s (%q, %q): %w", t.name, row.PartitionKey, row.RowKey, err)
	}
	return t.newInstance(props, row.PartitionKey, row.RowKey, row.ETag), nil
}

func copyProperties(p Properties) Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
