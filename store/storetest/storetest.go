// Package storetest is a conformance suite for store.Store implementations.
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T, tables ...string) store.Store {
//			return memstore.New(memstore.Options{}, tables...)
//		})
//	}
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/acksell/entities/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewStore creates an empty store holding the given tables.
// The suite closes it when the test ends.
type NewStore func(t *testing.T, tables ...string) store.Store

const tableName = "conformance_entities"

// Run exercises every operation of the store contract.
func Run(t *testing.T, newStore NewStore) {
	open := func(t *testing.T) store.Table {
		s := newStore(t, tableName)
		t.Cleanup(func() { s.Close() })
		tbl, err := s.Table(tableName)
		require.NoError(t, err)
		return tbl
	}

	t.Run("unknown table", func(t *testing.T) {
		s := newStore(t, tableName)
		t.Cleanup(func() { s.Close() })
		_, err := s.Table("no_such_table")
		require.ErrorIs(t, err, store.ErrUnknownTable)
	})

	t.Run("create then load", func(t *testing.T) {
		tbl := open(t)
		ctx := context.Background()
		value := store.Value{"name": "alice", "age": 30, "tags": []any{"a", "b"}, "nested": map[string]any{"ok": true}}

		etag, err := tbl.Create(ctx, "pk", "rk", value, false, 1)
		require.NoError(t, err)
		require.NotEmpty(t, etag)

		row, err := tbl.Load(ctx, "pk", "rk")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "pk", row.PartitionKey)
		assert.Equal(t, "rk", row.RowKey)
		assert.Equal(t, etag, row.ETag)
		assert.Equal(t, 1, row.Version)
		assertValue(t, value, row.Value)
	})

	t.Run("load missing row", func(t *testing.T) {
		tbl := open(t)
		row, err := tbl.Load(context.Background(), "pk", "nope")
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("duplicate create", func(t *testing.T) {
		tbl := open(t)
		ctx := context.Background()
		first, err := tbl.Create(ctx, "pk", "rk", store.Value{"n": 1}, false, 1)
		require.NoError(t, err)

		_, err = tbl.Create(ctx, "pk", "rk", store.Value{"n": 2}, false, 1)
		require.Error(t, err)
		assert.Equal(t, store.CodeUniqueViolation, store.CodeOf(err))

		second, err := tbl.Create(ctx, "pk", "rk", store.Value{"n": 3}, true, 1)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		row, err := tbl.Load(ctx, "pk", "rk")
		require.NoError(t, err)
		assertValue(t, store.Value{"n": 3}, row.Value)
	})

	t.Run("overwrite create", func(t *testing.T) {
		tbl := open(t)
		ctx := context.Background()
		etag, err := tbl.Create(ctx, "pk", "fresh", store.Value{"n": 1}, true, 1)
		require.NoError(t, err)

		next, err := tbl.Create(ctx, "pk", "fresh", store.Value{"n": 2}, true, 2)
		require.NoError(t, err)
		_, err = tbl.Modify(ctx, "pk", "fresh", store.Value{"n": 3}, 2, etag)
		assert.Equal(t, store.CodeAssertFailure, store.CodeOf(err))
		_, err = tbl.Modify(ctx, "pk", "fresh", store.Value{"n": 4}, 2, next)
		require.NoError(t, err)

		row, err := tbl.Load(ctx, "pk", "fresh")
		require.NoError(t, err)
		require.NotNil(t, row)
		assertValue(t, store.Value{"n": 4}, row.Value)
		assert.Equal(t, 2, row.Version)
	})

	t.Run("modify", func(t *testing.T) {
		tbl := open(t)
		ctx := context.Background()
		etag, err := tbl.Create(ctx, "pk", "rk", store.Value{"n": 1}, false, 1)
		require.NoError(t, err)

		next, err := tbl.Modify(ctx, "pk", "rk", store.Value{"n": 2}, 1, etag)
		require.NoError(t, err)
		assert.NotEqual(t, etag, next)

		row, err := tbl.Load(ctx, "pk", "rk")
		require.NoError(t, err)
		assert.Equal(t, next, row.ETag)
		assertValue(t, store.Value{"n": 2}, row.Value)

		t.Run("identical content still changes etag", func(t *testing.T) {
			again, err := tbl.Modify(ctx, "pk", "rk", store.Value{"n": 2}, 1, next)
			require.NoError(t, err)
			assert.NotEqual(t, next, again)
			next = again
		})

		t.Run("stale etag", func(t *testing.T) {
			_, err := tbl.Modify(ctx, "pk", "rk", store.Value{"n": 3}, 1, etag)
			require.Error(t, err)
			assert.Equal(t, store.CodeAssertFailure, store.CodeOf(err))

			row, err := tbl.Load(ctx, "pk", "rk")
			require.NoError(t, err)
			assert.Equal(t, next, row.ETag)
		})

		t.Run("missing row", func(t *testing.T) {
			_, err := tbl.Modify(ctx, "pk", "nope", store.Value{"n": 3}, 1, etag)
			require.Error(t, err)
			assert.Equal(t, store.CodeNoDataFound, store.CodeOf(err))
		})
	})

	t.Run("concurrent modify", func(t *testing.T) {
		tbl := open(t)
		ctx := context.Background()
		etag, err := tbl.Create(ctx, "pk", "rk", store.Value{"n": 0}, false, 1)
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := tbl.Modify(ctx, "pk", "rk", store.Value{"n": i + 1}, 1, etag)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case store.CodeOf(err) == store.CodeAssertFailure:
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, writers-1, conflicts)
	})

	t.Run("remove", func(t *testing.T) {
		tbl := open(t)
		ctx := context.Background()
		etag, err := tbl.Create(ctx, "pk", "rk", store.Value{"n": 1}, false, 1)
		require.NoError(t, err)

		removed, err := tbl.Remove(ctx, "pk", "rk")
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, etag, removed.ETag)

		removed, err = tbl.Remove(ctx, "pk", "rk")
		require.NoError(t, err)
		assert.Nil(t, removed)

		row, err := tbl.Load(ctx, "pk", "rk")
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("scan", func(t *testing.T) {
		tbl := open(t)
		ctx := context.Background()
		// inserted out of order on purpose
		for _, i := range []int{7, 2, 9, 0, 4, 1, 8, 3, 6, 5} {
			pk := fmt.Sprintf("p%d", i%2)
			rk := fmt.Sprintf("r%02d", i)
			_, err := tbl.Create(ctx, pk, rk, store.Value{"i": i, "even": i%2 == 0, "name": fmt.Sprintf("n%d", i)}, false, 1)
			require.NoError(t, err)
		}

		t.Run("all rows in key order", func(t *testing.T) {
			rows, err := tbl.Scan(ctx, store.ScanRequest{})
			require.NoError(t, err)
			require.Len(t, rows, 10)
			for i := 1; i < len(rows); i++ {
				assert.Negative(t, store.CompareRows(rows[i-1], rows[i]), "rows %d and %d out of order", i-1, i)
			}
			assert.Equal(t, "p0", rows[0].PartitionKey)
			assert.Equal(t, "r00", rows[0].RowKey)
		})

		t.Run("pages cover every row once", func(t *testing.T) {
			seen := map[string]bool{}
			var keys []store.Row
			for page := 1; page <= 10; page++ {
				rows, err := tbl.Scan(ctx, store.ScanRequest{PageSize: 3, Page: page})
				require.NoError(t, err)
				if page <= 3 {
					assert.Len(t, rows, 3)
				}
				if len(rows) == 0 {
					break
				}
				for _, r := range rows {
					id := r.PartitionKey + "/" + r.RowKey
					require.False(t, seen[id], "row %s returned twice", id)
					seen[id] = true
					keys = append(keys, r)
				}
			}
			assert.Len(t, seen, 10)
			for i := 1; i < len(keys); i++ {
				assert.Negative(t, store.CompareRows(keys[i-1], keys[i]))
			}
		})

		t.Run("page past the end", func(t *testing.T) {
			rows, err := tbl.Scan(ctx, store.ScanRequest{PageSize: 5, Page: 3})
			require.NoError(t, err)
			assert.Empty(t, rows)
		})

		t.Run("partition key filter", func(t *testing.T) {
			pk := "p1"
			rows, err := tbl.Scan(ctx, store.ScanRequest{PartitionKey: &pk})
			require.NoError(t, err)
			require.Len(t, rows, 5)
			for _, r := range rows {
				assert.Equal(t, "p1", r.PartitionKey)
			}
		})

		t.Run("row key filter", func(t *testing.T) {
			rk := "r04"
			rows, err := tbl.Scan(ctx, store.ScanRequest{RowKey: &rk})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "p0", rows[0].PartitionKey)
		})

		t.Run("condition", func(t *testing.T) {
			rows, err := tbl.Scan(ctx, store.ScanRequest{Condition: store.Condition{
				{Property: "i", Operator: ">=", Operand: 5},
				{Property: "even", Operator: "=", Operand: false},
			}})
			require.NoError(t, err)
			var names []string
			for _, r := range rows {
				names = append(names, r.Value["name"].(string))
			}
			assert.Equal(t, []string{"n5", "n7", "n9"}, names)
		})

		t.Run("condition with pagination", func(t *testing.T) {
			cond := store.Condition{{Property: "name", Operator: "!=", Operand: "n3"}}
			rows, err := tbl.Scan(ctx, store.ScanRequest{Condition: cond, PageSize: 4, Page: 3})
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	})
}

func assertValue(t *testing.T, want, got store.Value) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}
