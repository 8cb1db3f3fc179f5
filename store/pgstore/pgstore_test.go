package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/acksell/entities/store"
	"github.com/acksell/entities/store/storetest"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	SQL  string
	Args []interface{}
}

// fakeQueryer records every statement and answers with canned rows.
type fakeQueryer struct {
	calls []call
	rows  [][]interface{}
	err   error
}

var _ Queryer = &fakeQueryer{}

func (f *fakeQueryer) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql, args})
	return pgconn.CommandTag{}, f.err
}

func (f *fakeQueryer) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.calls = append(f.calls, call{sql, args})
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{rows: f.rows, i: -1}, nil
}

func (f *fakeQueryer) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	f.calls = append(f.calls, call{sql, args})
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	if len(f.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: f.rows[0]}
}

type fakeRow struct {
	vals []interface{}
	err  error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

func assign(vals, dest []interface{}) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(vals), len(dest))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = vals[i].(string)
		case *int32:
			*d = vals[i].(int32)
		case *pgtype.JSONB:
			*d = pgtype.JSONB{Bytes: []byte(vals[i].(string)), Status: pgtype.Present}
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeRows struct {
	rows [][]interface{}
	i    int
}

var _ pgx.Rows = &fakeRows{}

func (fr *fakeRows) Close()                        {}
func (fr *fakeRows) Err() error                    { return nil }
func (fr *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (fr *fakeRows) FieldDescriptions() []pgproto3.FieldDescription {
	return []pgproto3.FieldDescription{}
}
func (fr *fakeRows) Next() bool                     { fr.i++; return fr.i < len(fr.rows) }
func (fr *fakeRows) Scan(dest ...interface{}) error { return assign(fr.rows[fr.i], dest) }
func (fr *fakeRows) Values() ([]interface{}, error) { return fr.rows[fr.i], nil }
func (fr *fakeRows) RawValues() [][]byte            { return [][]byte{} }

func newFakeStore(t *testing.T, q *fakeQueryer) store.Table {
	s, err := New(q, Options{}, "widgets_entities")
	require.NoError(t, err)
	tbl, err := s.Table("widgets_entities")
	require.NoError(t, err)
	return tbl
}

func TestNew(t *testing.T) {
	_, err := New(&fakeQueryer{}, Options{}, `bad"; drop table x; --`)
	require.Error(t, err)

	s, err := New(&fakeQueryer{}, Options{}, "a_entities")
	require.NoError(t, err)
	_, err = s.Table("b_entities")
	require.ErrorIs(t, err, store.ErrUnknownTable)
}

func TestTable_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		q := &fakeQueryer{rows: [][]interface{}{{"p", "r", `{"n": 1}`, int32(1), "etag-1"}}}
		row, err := newFakeStore(t, q).Load(ctx, "p", "r")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "etag-1", row.ETag)
		assert.Equal(t, "1", fmt.Sprint(row.Value["n"]))
		require.Len(t, q.calls, 1)
		assert.Equal(t, `select partition_key, row_key, value, version, etag from "widgets_entities_load"($1, $2)`, q.calls[0].SQL)
		assert.Equal(t, []interface{}{"p", "r"}, q.calls[0].Args)
	})

	t.Run("missing", func(t *testing.T) {
		row, err := newFakeStore(t, &fakeQueryer{}).Load(ctx, "p", "r")
		require.NoError(t, err)
		assert.Nil(t, row)
	})
}

func TestTable_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("calls create function", func(t *testing.T) {
		q := &fakeQueryer{rows: [][]interface{}{{"etag-1"}}}
		etag, err := newFakeStore(t, q).Create(ctx, "p", "r", store.Value{"a": "b"}, true, 3)
		require.NoError(t, err)
		assert.Equal(t, "etag-1", etag)
		assert.Equal(t, `select "widgets_entities_create"($1, $2, $3, $4, $5)`, q.calls[0].SQL)
		args := q.calls[0].Args
		assert.Equal(t, "p", args[0])
		assert.JSONEq(t, `{"a":"b"}`, string(args[2].(pgtype.JSONB).Bytes))
		assert.Equal(t, true, args[3])
		assert.Equal(t, 3, args[4])
	})

	t.Run("postgres errors keep their code", func(t *testing.T) {
		q := &fakeQueryer{err: &pgconn.PgError{Code: store.CodeUniqueViolation, Message: "duplicate key"}}
		_, err := newFakeStore(t, q).Create(ctx, "p", "r", store.Value{}, false, 1)
		assert.Equal(t, store.CodeUniqueViolation, store.CodeOf(err))
	})
}

func TestTable_Modify(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueryer{rows: [][]interface{}{{"etag-2"}}}
	etag, err := newFakeStore(t, q).Modify(ctx, "p", "r", store.Value{"n": 2}, 1, "etag-1")
	require.NoError(t, err)
	assert.Equal(t, "etag-2", etag)
	assert.Equal(t, `select etag from "widgets_entities_modify"($1, $2, $3, $4, $5)`, q.calls[0].SQL)
	assert.Equal(t, "etag-1", q.calls[0].Args[4])

	q = &fakeQueryer{err: &pgconn.PgError{Code: "P0004"}}
	_, err = newFakeStore(t, q).Modify(ctx, "p", "r", store.Value{}, 1, "stale")
	assert.Equal(t, store.CodeAssertFailure, store.CodeOf(err))
}

func TestTable_Remove(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueryer{rows: [][]interface{}{{"p", "r", `{}`, int32(1), "etag-1"}}}
	row, err := newFakeStore(t, q).Remove(ctx, "p", "r")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "etag-1", row.ETag)

	row, err = newFakeStore(t, &fakeQueryer{}).Remove(ctx, "p", "r")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestTable_Scan(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueryer{rows: [][]interface{}{
		{"p", "a", `{"state": "running"}`, int32(1), "e1"},
		{"p", "b", `{"state": "running"}`, int32(1), "e2"},
	}}
	pk := "p"
	rows, err := newFakeStore(t, q).Scan(ctx, store.ScanRequest{
		PartitionKey: &pk,
		Condition:    store.Condition{{Property: "state", Operator: "=", Operand: "running"}},
		PageSize:     10,
		Page:         3,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[1].RowKey)

	args := q.calls[0].Args
	assert.Equal(t, &pk, args[0])
	assert.Nil(t, args[1])
	assert.Equal(t, `(value ->> 'state') collate "C" = 'running'`, *args[2].(*string))
	assert.Equal(t, 10, args[3])
	assert.Equal(t, 3, args[4])

	t.Run("empty condition is null", func(t *testing.T) {
		q := &fakeQueryer{}
		_, err := newFakeStore(t, q).Scan(ctx, store.ScanRequest{})
		require.NoError(t, err)
		assert.Nil(t, q.calls[0].Args[2])
		assert.Equal(t, store.DefaultPageSize, q.calls[0].Args[3])
		assert.Equal(t, 1, q.calls[0].Args[4])
	})

	t.Run("query error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := newFakeStore(t, &fakeQueryer{err: boom}).Scan(ctx, store.ScanRequest{})
		require.ErrorIs(t, err, boom)
	})
}

func TestDDL(t *testing.T) {
	ddl, err := DDL("widgets_entities", 0)
	require.NoError(t, err)
	for _, fn := range []string{"_create", "_load", "_modify", "_remove", "_scan"} {
		assert.Contains(t, ddl, `create or replace function "widgets_entities`+fn+`"(`)
	}
	assert.Contains(t, ddl, `create table if not exists "widgets_entities"`)
	assert.Contains(t, ddl, "errcode = 'P0002'")
	assert.Contains(t, ddl, "errcode = 'P0004'")
	assert.Contains(t, ddl, "for update")
	assert.NotContains(t, ddl, "numeric_value_out_of_range")

	limited, err := DDL("widgets_entities", 4096)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(limited, "> 4096"))

	_, err = DDL("Widgets", 0)
	require.Error(t, err)
}

func TestStore_Migrate(t *testing.T) {
	q := &fakeQueryer{}
	s, err := New(q, Options{}, "a_entities", "b_entities", "a_entities")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	require.Len(t, q.calls, 2)
	assert.Contains(t, q.calls[0].SQL, `"a_entities_create"`)
	assert.Contains(t, q.calls[1].SQL, `"b_entities_create"`)
}

// Runs the conformance suite against a real database when
// ENTITIES_TEST_POSTGRES_URL is set.
func TestConformance(t *testing.T) {
	url := os.Getenv("ENTITIES_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("ENTITIES_TEST_POSTGRES_URL is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	storetest.Run(t, func(t *testing.T, tables ...string) store.Store {
		s, err := New(pool, Options{}, tables...)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		for _, name := range tables {
			_, err := pool.Exec(ctx, "truncate "+pgx.Identifier{name}.Sanitize())
			require.NoError(t, err)
		}
		return s
	})
}
