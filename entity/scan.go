package entity

import (
	"context"
	"sort"

	"github.com/acksell/entities/store"
)

// Op is one scan condition: a comparison of a property with an operand.
// Operators are =, !=, <>, <, <=, > and >=.
type Op struct {
	Operator string
	Operand  any
}

// Conditions maps property names to the comparison they must satisfy.
// All conditions must hold.
type Conditions map[string]Op

// Eq returns an equality condition.
func Eq(operand any) Op { return Op{Operator: store.OpEqual, Operand: operand} }

// ScanOptions selects the page of a scan. Page is 1-indexed.
type ScanOptions struct {
	Limit int
	Page  int
}

// condition translates conditions into a store condition with serialized
// operands, in property name order.
func (d *Definition) condition(conds Conditions) (store.Condition, error) {
	names := make([]string, 0, len(conds))
	for name := range conds {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(store.Condition, 0, len(conds))
	for _, name := range names {
		typ := d.mapping[name]
		if typ == nil {
			return nil, newError(ErrInvalidProperties, nil, "condition on undeclared property %q", name)
		}
		op := conds[name]
		operand, err := typ.Serialize(op.Operand)
		if err != nil {
			return nil, newError(ErrInvalidProperties, err, "condition on %q", name)
		}
		out = append(out, store.Clause{Property: name, Operator: op.Operator, Operand: operand})
	}
	if err := out.Validate(); err != nil {
		return nil, newError(ErrInvalidProperties, err, "")
	}
	return out, nil
}

// exactKey returns the key k computes from the equality conditions, if every
// property it covers is constrained by one. Keys covering nothing are never
// pushed down.
func exactKey(covers []string, exact func(map[string]any) (string, error), conds Conditions) *string {
	if len(covers) == 0 {
		return nil
	}
	props := make(map[string]any, len(covers))
	for _, name := range covers {
		op, ok := conds[name]
		if !ok || op.Operator != store.OpEqual {
			return nil
		}
		props[name] = op.Operand
	}
	key, err := exact(props)
	if err != nil {
		return nil
	}
	return &key
}

// Scan returns one page of the rows matching conds, ordered by partition key
// then row key. Rows are returned as stored; use Hydrate to wrap them.
// When equality conditions determine the partition key or row key, the scan
// is restricted to that key.
func (t *Table) Scan(ctx context.Context, conds Conditions, opts ScanOptions) ([]store.Row, error) {
	cond, err := t.def.condition(conds)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	req := store.ScanRequest{
		PartitionKey: exactKey(t.def.partitionKey.Covers(), t.def.partitionKey.Exact, conds),
		RowKey:       exactKey(t.def.rowKey.Covers(), t.def.rowKey.Exact, conds),
		Condition:    cond,
		PageSize:     limit,
		Page:         page,
	}
	rows, err := t.table.Scan(ctx, req)
	if err != nil {
		t.logf("scan %q: %v", cond.String(), err)
		return nil, translate(err, t.name, "", "")
	}
	return rows, nil
}

// Query is Scan under its legacy name.
func (t *Table) Query(ctx context.Context, conds Conditions, opts ScanOptions) ([]store.Row, error) {
	return t.Scan(ctx, conds, opts)
}

// ScanInstances is Scan with every row hydrated.
func (t *Table) ScanInstances(ctx context.Context, conds Conditions, opts ScanOptions) ([]*Instance, error) {
	rows, err := t.Scan(ctx, conds, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*Instance, 0, len(rows))
	for _, row := range rows {
		inst, err := t.Hydrate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}
