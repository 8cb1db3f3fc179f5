package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteger(t *testing.T) {
	t.Run("accepts go integers and integral json numbers", func(t *testing.T) {
		for _, v := range []any{int(3), int8(3), uint16(3), int64(3), float64(3), json.Number("3")} {
			got, err := Integer.Serialize(v)
			require.NoError(t, err, "%T", v)
			assert.Equal(t, int64(3), got)
		}
	})

	t.Run("rejects fractions and strings", func(t *testing.T) {
		for _, v := range []any{1.5, "3", json.Number("1.5"), nil} {
			require.ErrorIs(t, Integer.Validate(v), ErrInvalidValue, "%v", v)
		}
	})

	t.Run("key string", func(t *testing.T) {
		s, err := Integer.KeyString(int32(-42))
		require.NoError(t, err)
		assert.Equal(t, "-42", s)
	})
}

func TestNumber(t *testing.T) {
	got, err := Number.Deserialize(json.Number("2.5"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	got, err = Number.Serialize(7)
	require.NoError(t, err)
	assert.Equal(t, float64(7), got)

	require.Error(t, Number.Validate("7"))
}

func TestDate(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 5, time.FixedZone("x", 3600))
	raw, err := Date.Serialize(ts)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T11:30:00.000000005Z", raw)

	back, err := Date.Deserialize(raw)
	require.NoError(t, err)
	assert.True(t, ts.Equal(back.(time.Time)))

	_, err = Date.Deserialize("yesterday")
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestSlugID(t *testing.T) {
	id := NewSlugID()
	assert.Len(t, id, 22)
	require.NoError(t, SlugID.Validate(id))
	require.Error(t, SlugID.Validate("not-a-slug"))
}

func TestBlob(t *testing.T) {
	raw, err := Blob.Serialize([]byte{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, "AAEC", raw)

	back, err := Blob.Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, back)

	_, ok := Blob.(Keyable)
	assert.False(t, ok)
}

func TestJSON(t *testing.T) {
	v := map[string]any{"a": []any{1, "b"}}
	raw, err := JSON.Serialize(v)
	require.NoError(t, err)
	assert.Equal(t, v, raw)

	require.Error(t, JSON.Validate(func() {}))
}

func TestString(t *testing.T) {
	require.NoError(t, String.Validate(""))
	require.Error(t, Text.Validate(12))
	s, err := String.KeyString("a~b")
	require.NoError(t, err)
	assert.Equal(t, "a~b", s)
}
