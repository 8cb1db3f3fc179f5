// Package types defines the property types an entity can declare.
//
// A Type validates in-memory Go values, serializes them into the
// JSON-compatible form persisted by a store, and deserializes them back.
// Types that can contribute to a partition or row key also implement Keyable.
package types

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/constraints"
)

// ErrInvalidValue is returned when a value does not satisfy its property type.
var ErrInvalidValue = errors.New("types: invalid value")

// Type is the codec for one declared property.
type Type interface {
	Name() string
	// Validate reports whether v is an acceptable in-memory value.
	Validate(v any) error
	// Serialize returns the JSON-compatible representation of v.
	Serialize(v any) (any, error)
	// Deserialize converts a stored representation back to the in-memory value.
	Deserialize(raw any) (any, error)
}

// Keyable is implemented by types whose values can be rendered as key strings.
type Keyable interface {
	Type
	KeyString(v any) (string, error)
}

func invalid(t Type, v any, reason string) error {
	return fmt.Errorf("%w: %s: %s (got %T)", ErrInvalidValue, t.Name(), reason, v)
}

var (
	String  Keyable = stringType{name: "String"}
	Text    Keyable = stringType{name: "Text"}
	SlugID  Keyable = slugIDType{}
	Integer Keyable = integerType{}
	Number  Keyable = numberType{}
	Boolean Keyable = booleanType{}
	Date    Keyable = dateType{}
	JSON    Type    = jsonType{}
	Blob    Type    = blobType{}
)

type stringType struct{ name string }

func (t stringType) Name() string { return t.name }

func (t stringType) Validate(v any) error {
	if _, ok := v.(string); !ok {
		return invalid(t, v, "expected string")
	}
	return nil
}

func (t stringType) Serialize(v any) (any, error) {
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (t stringType) Deserialize(raw any) (any, error) {
	if err := t.Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (t stringType) KeyString(v any) (string, error) {
	if err := t.Validate(v); err != nil {
		return "", err
	}
	return v.(string), nil
}

// NewSlugID returns a fresh 22 character url-safe slug id.
func NewSlugID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

type slugIDType struct{}

func (slugIDType) Name() string { return "SlugID" }

func (t slugIDType) Validate(v any) error {
	s, ok := v.(string)
	if !ok {
		return invalid(t, v, "expected string")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(b) != 16 {
		return invalid(t, v, fmt.Sprintf("%q is not a slug id", s))
	}
	return nil
}

func (t slugIDType) Serialize(v any) (any, error) {
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (t slugIDType) Deserialize(raw any) (any, error) { return t.Serialize(raw) }

func (t slugIDType) KeyString(v any) (string, error) {
	if err := t.Validate(v); err != nil {
		return "", err
	}
	return v.(string), nil
}

type integerType struct{}

func (integerType) Name() string { return "Integer" }

func signed[T constraints.Signed](v T) (int64, bool) { return int64(v), true }

func unsigned[T constraints.Unsigned](v T) (int64, bool) {
	if uint64(v) > math.MaxInt64 {
		return 0, false
	}
	return int64(v), true
}

// AsInt64 converts any Go integer, integral float64 or json.Number to int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return signed(n)
	case int8:
		return signed(n)
	case int16:
		return signed(n)
	case int32:
		return signed(n)
	case int64:
		return n, true
	case uint:
		return unsigned(n)
	case uint8:
		return unsigned(n)
	case uint16:
		return unsigned(n)
	case uint32:
		return unsigned(n)
	case uint64:
		return unsigned(n)
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func (t integerType) Validate(v any) error {
	if _, ok := AsInt64(v); !ok {
		return invalid(t, v, "expected integer")
	}
	return nil
}

func (t integerType) Serialize(v any) (any, error) {
	i, ok := AsInt64(v)
	if !ok {
		return nil, invalid(t, v, "expected integer")
	}
	return i, nil
}

func (t integerType) Deserialize(raw any) (any, error) { return t.Serialize(raw) }

func (t integerType) KeyString(v any) (string, error) {
	i, ok := AsInt64(v)
	if !ok {
		return "", invalid(t, v, "expected integer")
	}
	return fmt.Sprintf("%d", i), nil
}

type numberType struct{}

func (numberType) Name() string { return "Number" }

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := AsInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func (t numberType) Validate(v any) error {
	f, ok := asFloat64(v)
	if !ok {
		return invalid(t, v, "expected number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return invalid(t, v, "number must be finite")
	}
	return nil
}

func (t numberType) Serialize(v any) (any, error) {
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	f, _ := asFloat64(v)
	return f, nil
}

func (t numberType) Deserialize(raw any) (any, error) { return t.Serialize(raw) }

func (t numberType) KeyString(v any) (string, error) {
	if err := t.Validate(v); err != nil {
		return "", err
	}
	f, _ := asFloat64(v)
	return fmt.Sprintf("%v", f), nil
}

type booleanType struct{}

func (booleanType) Name() string { return "Boolean" }

func (t booleanType) Validate(v any) error {
	if _, ok := v.(bool); !ok {
		return invalid(t, v, "expected bool")
	}
	return nil
}

func (t booleanType) Serialize(v any) (any, error) {
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (t booleanType) Deserialize(raw any) (any, error) { return t.Serialize(raw) }

func (t booleanType) KeyString(v any) (string, error) {
	if err := t.Validate(v); err != nil {
		return "", err
	}
	if v.(bool) {
		return "true", nil
	}
	return "false", nil
}

type dateType struct{}

func (dateType) Name() string { return "Date" }

func (t dateType) Validate(v any) error {
	if _, ok := v.(time.Time); !ok {
		return invalid(t, v, "expected time.Time")
	}
	return nil
}

func (t dateType) Serialize(v any) (any, error) {
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	return v.(time.Time).UTC().Format(time.RFC3339Nano), nil
}

func (t dateType) Deserialize(raw any) (any, error) {
	switch d := raw.(type) {
	case time.Time:
		return d, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, d)
		if err != nil {
			return nil, invalid(t, raw, err.Error())
		}
		return parsed, nil
	}
	return nil, invalid(t, raw, "expected RFC3339 string")
}

func (t dateType) KeyString(v any) (string, error) {
	s, err := t.Serialize(v)
	if err != nil {
		return "", err
	}
	return s.(string), nil
}

type jsonType struct{}

func (jsonType) Name() string { return "JSON" }

func (t jsonType) Validate(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return invalid(t, v, err.Error())
	}
	return nil
}

func (t jsonType) Serialize(v any) (any, error) {
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (jsonType) Deserialize(raw any) (any, error) { return raw, nil }

type blobType struct{}

func (blobType) Name() string { return "Blob" }

func (t blobType) Validate(v any) error {
	if _, ok := v.([]byte); !ok {
		return invalid(t, v, "expected []byte")
	}
	return nil
}

func (t blobType) Serialize(v any) (any, error) {
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(v.([]byte)), nil
}

func (t blobType) Deserialize(raw any) (any, error) {
	switch b := raw.(type) {
	case []byte:
		return b, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, invalid(t, raw, err.Error())
		}
		return decoded, nil
	}
	return nil, invalid(t, raw, "expected base64 string")
}
