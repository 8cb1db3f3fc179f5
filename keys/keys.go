// Package keys derives partition and row keys from entity properties.
//
// A Builder is resolved against the property mapping of an entity when it
// is configured, producing a Key. Builders fail if they reference an
// undeclared property or a property whose type cannot be rendered as a key.
//
//	pk := keys.StringKey("taskId")
//	rk := keys.CompositeKey("provisionerId", "workerType")
package keys

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/acksell/entities/types"
)

// MaxInteger is the largest value an integer key can encode.
const MaxInteger = 1<<53 - 1

const integerWidth = 16

var (
	// ErrUndeclaredProperty is returned when a key references a property the entity does not declare.
	ErrUndeclaredProperty = errors.New("keys: property is not declared")
	// ErrMissingProperty is returned by Exact when a covered property has no value.
	ErrMissingProperty = errors.New("keys: missing property value")
	// ErrInvalidKey is returned for keys that cannot be built or encoded.
	ErrInvalidKey = errors.New("keys: invalid key")
)

// Mapping is the property name to type mapping a Builder resolves against.
type Mapping map[string]types.Type

// Key computes a key string from entity properties.
type Key interface {
	// Covers lists the properties that participate in the key.
	Covers() []string
	// Exact computes the key for the given in-memory property values.
	Exact(props map[string]any) (string, error)
}

// Builder resolves a key against an entity's property mapping.
type Builder func(Mapping) (Key, error)

func lookup(m Mapping, name string) (types.Type, error) {
	t, ok := m[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %q", ErrUndeclaredProperty, name)
	}
	return t, nil
}

func keyable(m Mapping, name string) (types.Keyable, error) {
	t, err := lookup(m, name)
	if err != nil {
		return nil, err
	}
	k, ok := t.(types.Keyable)
	if !ok {
		return nil, fmt.Errorf("%w: property %q of type %s cannot be used in this key", ErrInvalidKey, name, t.Name())
	}
	return k, nil
}

func value(props map[string]any, name string) (any, error) {
	v, ok := props[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingProperty, name)
	}
	return v, nil
}

// StringKey uses the value of a single string property verbatim.
func StringKey(property string) Builder {
	return func(m Mapping) (Key, error) {
		t, err := keyable(m, property)
		if err != nil {
			return nil, err
		}
		if t != types.String && t != types.Text && t != types.SlugID {
			return nil, fmt.Errorf("%w: StringKey needs a string property, %q is %s", ErrInvalidKey, property, t.Name())
		}
		return &stringKey{property: property, typ: t}, nil
	}
}

type stringKey struct {
	property string
	typ      types.Keyable
}

func (k *stringKey) Covers() []string { return []string{k.property} }

func (k *stringKey) Exact(props map[string]any) (string, error) {
	v, err := value(props, k.property)
	if err != nil {
		return "", err
	}
	return k.typ.KeyString(v)
}

// AscendingIntegerKey encodes a non-negative integer property so that
// lexicographic order matches numeric order.
func AscendingIntegerKey(property string) Builder {
	return integerKeyBuilder(property, false)
}

// DescendingIntegerKey encodes a non-negative integer property so that
// lexicographic order is the reverse of numeric order.
func DescendingIntegerKey(property string) Builder {
	return integerKeyBuilder(property, true)
}

func integerKeyBuilder(property string, descending bool) Builder {
	return func(m Mapping) (Key, error) {
		t, err := lookup(m, property)
		if err != nil {
			return nil, err
		}
		if t != types.Integer {
			return nil, fmt.Errorf("%w: integer key needs an Integer property, %q is %s", ErrInvalidKey, property, t.Name())
		}
		return &integerKey{property: property, descending: descending}, nil
	}
}

type integerKey struct {
	property   string
	descending bool
}

func (k *integerKey) Covers() []string { return []string{k.property} }

func (k *integerKey) Exact(props map[string]any) (string, error) {
	v, err := value(props, k.property)
	if err != nil {
		return "", err
	}
	i, ok := types.AsInt64(v)
	if !ok {
		return "", fmt.Errorf("%w: %q is not an integer", ErrInvalidKey, k.property)
	}
	if i < 0 || i > MaxInteger {
		return "", fmt.Errorf("%w: %q = %d is outside [0, %d]", ErrInvalidKey, k.property, i, int64(MaxInteger))
	}
	if k.descending {
		i = MaxInteger - i
	}
	return fmt.Sprintf("%0*d", integerWidth, i), nil
}

// ConstantKey always yields the given literal. It covers no properties.
func ConstantKey(constant string) Builder {
	return func(Mapping) (Key, error) {
		return constantKey(constant), nil
	}
}

type constantKey string

func (constantKey) Covers() []string { return nil }

func (k constantKey) Exact(map[string]any) (string, error) { return string(k), nil }

// CompositeKey joins the key strings of several properties with '~'.
// Each component is escaped so that distinct tuples never produce the same key.
func CompositeKey(properties ...string) Builder {
	return func(m Mapping) (Key, error) {
		if len(properties) == 0 {
			return nil, fmt.Errorf("%w: CompositeKey needs at least one property", ErrInvalidKey)
		}
		k := &compositeKey{properties: properties, types: make([]types.Keyable, len(properties))}
		for i, p := range properties {
			t, err := keyable(m, p)
			if err != nil {
				return nil, err
			}
			k.types[i] = t
		}
		return k, nil
	}
}

type compositeKey struct {
	properties []string
	types      []types.Keyable
}

func (k *compositeKey) Covers() []string { return append([]string(nil), k.properties...) }

func (k *compositeKey) Exact(props map[string]any) (string, error) {
	parts := make([]string, len(k.properties))
	for i, p := range k.properties {
		v, err := value(props, p)
		if err != nil {
			return "", err
		}
		s, err := k.types[i].KeyString(v)
		if err != nil {
			return "", err
		}
		parts[i] = EscapeComponent(s)
	}
	return strings.Join(parts, compositeSeparator), nil
}

const (
	compositeSeparator = "~"
	escapeChar         = "!"
)

var (
	componentEscaper   = strings.NewReplacer("!", "!21", "~", "!7e")
	componentUnescaper = strings.NewReplacer("!21", "!", "!7e", "~")
)

// EscapeComponent escapes one composite key component.
// The empty string is encoded as a lone "!", which no escaped non-empty string equals.
func EscapeComponent(s string) string {
	if s == "" {
		return escapeChar
	}
	return componentEscaper.Replace(s)
}

// UnescapeComponent reverses EscapeComponent.
func UnescapeComponent(s string) string {
	if s == escapeChar {
		return ""
	}
	return componentUnescaper.Replace(s)
}

// SplitComposite decodes a CompositeKey value into its component strings.
func SplitComposite(key string) []string {
	parts := strings.Split(key, compositeSeparator)
	for i, p := range parts {
		parts[i] = UnescapeComponent(p)
	}
	return parts
}

// HashKey hashes the values of several properties with SHA-512 and yields
// the lowercase hex digest. Any type can participate: keyable types hash
// their key string, others hash their canonical JSON serialization.
func HashKey(properties ...string) Builder {
	return func(m Mapping) (Key, error) {
		if len(properties) == 0 {
			return nil, fmt.Errorf("%w: HashKey needs at least one property", ErrInvalidKey)
		}
		k := &hashKey{properties: properties, types: make([]types.Type, len(properties))}
		for i, p := range properties {
			t, err := lookup(m, p)
			if err != nil {
				return nil, err
			}
			k.types[i] = t
		}
		return k, nil
	}
}

type hashKey struct {
	properties []string
	types      []types.Type
}

func (k *hashKey) Covers() []string { return append([]string(nil), k.properties...) }

func (k *hashKey) Exact(props map[string]any) (string, error) {
	h := sha512.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for i, p := range k.properties {
		v, err := value(props, p)
		if err != nil {
			return "", err
		}
		b, err := hashComponent(k.types[i], v)
		if err != nil {
			return "", err
		}
		n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:n])
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashComponent(t types.Type, v any) ([]byte, error) {
	if k, ok := t.(types.Keyable); ok {
		s, err := k.KeyString(v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	raw, err := t.Serialize(v)
	if err != nil {
		return nil, err
	}
	// encoding/json sorts map keys, so equal values marshal identically.
	return json.Marshal(raw)
}
