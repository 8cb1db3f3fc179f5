// Package pgstore implements store.Store on Postgres.
//
// Every table is accessed only through its generated functions
// <table>_create, <table>_load, <table>_modify, <table>_remove and
// <table>_scan (see Migrate). The functions raise the SQLSTATE codes of the
// store contract themselves, so *pgconn.PgError values are returned as is.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"

	"github.com/acksell/entities/store"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q: must match %s", name, tableNamePattern)
	}
	return nil
}

// Options configures a Store.
type Options struct {
	// MaxValueBytes makes the generated functions reject larger values with
	// store.CodeValueTooLarge. Zero means unlimited.
	MaxValueBytes int
	// Logger receives migration progress. Nil disables logging.
	Logger *log.Logger
}

// Store is a store.Store over a Postgres connection or pool.
type Store struct {
	q      Queryer
	opts   Options
	tables map[string]*Table
	order  []string
	close  func()
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Migrator = (*Store)(nil)
)

// New wraps q. The caller keeps ownership of q unless the Store was made by
// Connect.
func New(q Queryer, opts Options, tables ...string) (*Store, error) {
	s := &Store{q: q, opts: opts, tables: make(map[string]*Table, len(tables))}
	for _, name := range tables {
		if err := validateTableName(name); err != nil {
			return nil, err
		}
		if _, dup := s.tables[name]; dup {
			continue
		}
		s.order = append(s.order, name)
		s.tables[name] = &Table{
			q:    q,
			name: name,
			fns: functions{
				create: pgx.Identifier{name + "_create"}.Sanitize(),
				load:   pgx.Identifier{name + "_load"}.Sanitize(),
				modify: pgx.Identifier{name + "_modify"}.Sanitize(),
				remove: pgx.Identifier{name + "_remove"}.Sanitize(),
				scan:   pgx.Identifier{name + "_scan"}.Sanitize(),
			},
		}
	}
	return s, nil
}

func (s *Store) logf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf("pgstore: "+format, args...)
	}
}

func (s *Store) Table(name string) (store.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

type functions struct {
	create, load, modify, remove, scan string
}

// Table is one table of a Store.
type Table struct {
	q    Queryer
	name string
	fns  functions
}

func (t *Table) Name() string { return t.name }

func jsonb(v store.Value) (pgtype.JSONB, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return pgtype.JSONB{}, fmt.Errorf("encode value: %w", err)
	}
	return pgtype.JSONB{Bytes: b, Status: pgtype.Present}, nil
}

// scanRow reads the (partition_key, row_key, value, version, etag) columns.
func scanRow(r pgx.Row) (*store.Row, error) {
	var (
		row   store.Row
		value pgtype.JSONB
		ver   int32
	)
	if err := r.Scan(&row.PartitionKey, &row.RowKey, &value, &ver, &row.ETag); err != nil {
		return nil, err
	}
	v, err := store.DecodeValue(value.Bytes)
	if err != nil {
		return nil, err
	}
	row.Value = v
	row.Version = int(ver)
	return &row, nil
}

const rowColumns = "partition_key, row_key, value, version, etag"

func (t *Table) Load(ctx context.Context, pk, rk string) (*store.Row, error) {
	row, err := scanRow(t.q.QueryRow(ctx,
		fmt.Sprintf("select %s from %s($1, $2)", rowColumns, t.fns.load), pk, rk))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

func (t *Table) Create(ctx context.Context, pk, rk string, value store.Value, overwrite bool, version int) (string, error) {
	v, err := jsonb(value)
	if err != nil {
		return "", err
	}
	var etag string
	err = t.q.QueryRow(ctx,
		fmt.Sprintf("select %s($1, $2, $3, $4, $5)", t.fns.create), pk, rk, v, overwrite, version,
	).Scan(&etag)
	if err != nil {
		return "", err
	}
	return etag, nil
}

func (t *Table) Remove(ctx context.Context, pk, rk string) (*store.Row, error) {
	row, err := scanRow(t.q.QueryRow(ctx,
		fmt.Sprintf("select %s from %s($1, $2)", rowColumns, t.fns.remove), pk, rk))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

func (t *Table) Modify(ctx context.Context, pk, rk string, value store.Value, version int, expectedETag string) (string, error) {
	v, err := jsonb(value)
	if err != nil {
		return "", err
	}
	var etag string
	err = t.q.QueryRow(ctx,
		fmt.Sprintf("select etag from %s($1, $2, $3, $4, $5)", t.fns.modify), pk, rk, v, version, expectedETag,
	).Scan(&etag)
	if err != nil {
		return "", err
	}
	return etag, nil
}

func (t *Table) Scan(ctx context.Context, req store.ScanRequest) ([]store.Row, error) {
	if err := req.Condition.Validate(); err != nil {
		return nil, err
	}
	var condition *string
	if len(req.Condition) > 0 {
		c := req.Condition.String()
		condition = &c
	}
	size, offset := req.Limits()
	page := offset/size + 1

	rows, err := t.q.Query(ctx,
		fmt.Sprintf("select %s from %s($1, $2, $3, $4, $5)", rowColumns, t.fns.scan),
		req.PartitionKey, req.RowKey, condition, size, page)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
