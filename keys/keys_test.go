package keys

import (
	"sort"
	"strconv"
	"testing"

	"github.com/acksell/entities/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mapping = Mapping{
	"taskId":        types.String,
	"provisionerId": types.String,
	"workerType":    types.String,
	"runId":         types.Integer,
	"payload":       types.JSON,
	"expires":       types.Date,
}

func build(t *testing.T, b Builder) Key {
	t.Helper()
	k, err := b(mapping)
	require.NoError(t, err)
	return k
}

func TestStringKey(t *testing.T) {
	k := build(t, StringKey("taskId"))
	assert.Equal(t, []string{"taskId"}, k.Covers())

	got, err := k.Exact(map[string]any{"taskId": "abc~!"})
	require.NoError(t, err)
	assert.Equal(t, "abc~!", got)

	_, err = k.Exact(map[string]any{})
	require.ErrorIs(t, err, ErrMissingProperty)

	t.Run("undeclared property", func(t *testing.T) {
		_, err := StringKey("nope")(mapping)
		require.ErrorIs(t, err, ErrUndeclaredProperty)
	})

	t.Run("non-string property", func(t *testing.T) {
		_, err := StringKey("runId")(mapping)
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestIntegerKeys(t *testing.T) {
	asc := build(t, AscendingIntegerKey("runId"))
	desc := build(t, DescendingIntegerKey("runId"))

	values := []int64{0, 1, 9, 10, 99, 12345, MaxInteger}
	var ascKeys, descKeys []string
	for _, v := range values {
		a, err := asc.Exact(map[string]any{"runId": v})
		require.NoError(t, err)
		assert.Len(t, a, 16)
		ascKeys = append(ascKeys, a)

		d, err := desc.Exact(map[string]any{"runId": v})
		require.NoError(t, err)
		descKeys = append(descKeys, d)
	}

	assert.True(t, sort.StringsAreSorted(ascKeys), "ascending keys sort numerically")
	for i := 1; i < len(descKeys); i++ {
		assert.Greater(t, descKeys[i-1], descKeys[i], "descending keys sort in reverse")
	}

	t.Run("out of range", func(t *testing.T) {
		_, err := asc.Exact(map[string]any{"runId": -1})
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = desc.Exact(map[string]any{"runId": int64(MaxInteger) + 1})
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("requires integer property", func(t *testing.T) {
		_, err := AscendingIntegerKey("taskId")(mapping)
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestConstantKey(t *testing.T) {
	k := build(t, ConstantKey("task"))
	assert.Empty(t, k.Covers())
	got, err := k.Exact(nil)
	require.NoError(t, err)
	assert.Equal(t, "task", got)
}

func TestCompositeKey(t *testing.T) {
	k := build(t, CompositeKey("provisionerId", "workerType"))
	assert.Equal(t, []string{"provisionerId", "workerType"}, k.Covers())

	got, err := k.Exact(map[string]any{"provisionerId": "aws", "workerType": "b~c"})
	require.NoError(t, err)
	assert.Equal(t, "aws~b!7ec", got)
	assert.Equal(t, []string{"aws", "b~c"}, SplitComposite(got))

	t.Run("no properties", func(t *testing.T) {
		_, err := CompositeKey()(mapping)
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("json property is not keyable", func(t *testing.T) {
		_, err := CompositeKey("taskId", "payload")(mapping)
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

// tricky component values: separators, the escape character, empty strings and unicode
var corpus = []string{"", "!", "~", "!~", "~!", "!!", "~~", "!21", "!7e", "a", "a~", "~a", "a!b", "ü", "日本", "a~b~c", " "}

func TestCompositeKeyDistinctTuples(t *testing.T) {
	k := build(t, CompositeKey("provisionerId", "workerType"))

	seen := map[string][2]string{}
	for _, a := range corpus {
		for _, b := range corpus {
			got, err := k.Exact(map[string]any{"provisionerId": a, "workerType": b})
			require.NoError(t, err)
			if prev, dup := seen[got]; dup {
				t.Fatalf("tuples %q and %q both encode to %q", prev, [2]string{a, b}, got)
			}
			seen[got] = [2]string{a, b}
			assert.Equal(t, []string{a, b}, SplitComposite(got))
		}
	}
}

func TestHashKey(t *testing.T) {
	k := build(t, HashKey("provisionerId", "workerType"))

	t.Run("distinct tuples", func(t *testing.T) {
		seen := map[string]bool{}
		for _, a := range corpus {
			for _, b := range corpus {
				got, err := k.Exact(map[string]any{"provisionerId": a, "workerType": b})
				require.NoError(t, err)
				assert.Len(t, got, 128)
				require.False(t, seen[got], "collision for %q/%q", a, b)
				seen[got] = true
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		props := map[string]any{"provisionerId": "p", "workerType": "w"}
		a, err := k.Exact(props)
		require.NoError(t, err)
		b, err := k.Exact(props)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("non-keyable types", func(t *testing.T) {
		k := build(t, HashKey("taskId", "payload"))
		a, err := k.Exact(map[string]any{"taskId": "x", "payload": map[string]any{"b": 1, "a": 2}})
		require.NoError(t, err)
		b, err := k.Exact(map[string]any{"taskId": "x", "payload": map[string]any{"a": 2, "b": 1}})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("integer components", func(t *testing.T) {
		k := build(t, HashKey("runId"))
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			got, err := k.Exact(map[string]any{"runId": i})
			require.NoError(t, err)
			require.False(t, seen[got], strconv.Itoa(i))
			seen[got] = true
		}
	})
}
