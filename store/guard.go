package store

import (
	"context"
	"fmt"
)

// Guard restricts writes so that a service may only create, modify or remove
// rows of tables it owns. owners maps table name to owning service. Reads are
// never restricted.
func Guard(s Store, owners map[string]string, service string) Store {
	return &guardedStore{Store: s, owners: owners, service: service}
}

type guardedStore struct {
	Store
	owners  map[string]string
	service string
}

func (g *guardedStore) Table(name string) (Table, error) {
	t, err := g.Store.Table(name)
	if err != nil {
		return nil, err
	}
	owner, ok := g.owners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no owning service", ErrUnknownTable, name)
	}
	return &guardedTable{Table: t, writable: owner == g.service, owner: owner, service: g.service}, nil
}

type guardedTable struct {
	Table
	writable bool
	owner    string
	service  string
}

func (t *guardedTable) deny(op string) error {
	return fmt.Errorf("%w: %s_%s belongs to service %q, not %q", ErrWriteNotPermitted, t.Name(), op, t.owner, t.service)
}

func (t *guardedTable) Create(ctx context.Context, pk, rk string, value Value, overwrite bool, version int) (string, error) {
	if !t.writable {
		return "", t.deny("create")
	}
	return t.Table.Create(ctx, pk, rk, value, overwrite, version)
}

func (t *guardedTable) Modify(ctx context.Context, pk, rk string, value Value, version int, expectedETag string) (string, error) {
	if !t.writable {
		return "", t.deny("modify")
	}
	return t.Table.Modify(ctx, pk, rk, value, version, expectedETag)
}

func (t *guardedTable) Remove(ctx context.Context, pk, rk string) (*Row, error) {
	if !t.writable {
		return nil, t.deny("remove")
	}
	return t.Table.Remove(ctx, pk, rk)
}
