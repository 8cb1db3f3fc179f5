package storemetrics_test

import (
	"context"
	"strings"
	"testing"

	"github.com/acksell/entities/store"
	"github.com/acksell/entities/store/memstore"
	"github.com/acksell/entities/store/storemetrics"
	"github.com/acksell/entities/store/storetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, tables ...string) store.Store {
		s, err := storemetrics.Wrap(memstore.New(memstore.Options{}, tables...), prometheus.NewRegistry(), storemetrics.Options{})
		require.NoError(t, err)
		return s
	})
}

func TestWrap(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	s, err := storemetrics.Wrap(memstore.New(memstore.Options{}, "t_entities"), reg, storemetrics.Options{})
	require.NoError(t, err)

	tbl, err := s.Table("t_entities")
	require.NoError(t, err)
	_, err = tbl.Create(ctx, "p", "r", store.Value{}, false, 1)
	require.NoError(t, err)
	_, err = tbl.Create(ctx, "p", "r", store.Value{}, false, 1)
	require.Error(t, err)
	_, err = tbl.Modify(ctx, "p", "r", store.Value{}, 1, "stale")
	require.Error(t, err)
	_, err = tbl.Load(ctx, "p", "r")
	require.NoError(t, err)

	expected := `
# HELP entities_store_operation_errors_total Failed store operations by SQLSTATE code.
# TYPE entities_store_operation_errors_total counter
entities_store_operation_errors_total{code="23505",op="create",table="t_entities"} 1
entities_store_operation_errors_total{code="P0004",op="modify",table="t_entities"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "entities_store_operation_errors_total"))
	n, err := testutil.GatherAndCount(reg, "entities_store_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("duplicate registration", func(t *testing.T) {
		_, err := storemetrics.Wrap(memstore.New(memstore.Options{}), reg, storemetrics.Options{})
		require.Error(t, err)
		s, err := storemetrics.Wrap(memstore.New(memstore.Options{}), reg, storemetrics.Options{Namespace: "other"})
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := s.Table("missing")
		require.ErrorIs(t, err, store.ErrUnknownTable)
	})
}
