package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/acksell/entities/types"
)

var ErrInvalidCondition = errors.New("store: invalid condition")

// Operators accepted in a Clause.
const (
	OpEqual        = "="
	OpNotEqual     = "!="
	OpNotEqualAlt  = "<>"
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
)

// Clause compares one top-level property of the stored value with an operand.
// The operand is in serialized form: a string, a bool, or a number.
type Clause struct {
	Property string
	Operator string
	Operand  any
}

// Condition is a conjunction of clauses. The empty condition matches every row.
type Condition []Clause

func validOperator(op string) bool {
	switch op {
	case OpEqual, OpNotEqual, OpNotEqualAlt, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

type operandKind int

const (
	kindString operandKind = iota
	kindNumber
	kindBool
)

func kindOf(v any) (operandKind, bool) {
	switch v.(type) {
	case string:
		return kindString, true
	case bool:
		return kindBool, true
	case json.Number, float32, float64:
		return kindNumber, true
	}
	if _, ok := types.AsInt64(v); ok {
		return kindNumber, true
	}
	return 0, false
}

// Validate checks operators, property names and operand types.
func (c Condition) Validate() error {
	for _, cl := range c {
		if cl.Property == "" {
			return fmt.Errorf("%w: empty property name", ErrInvalidCondition)
		}
		if !validOperator(cl.Operator) {
			return fmt.Errorf("%w: unsupported operator %q for %q", ErrInvalidCondition, cl.Operator, cl.Property)
		}
		kind, ok := kindOf(cl.Operand)
		if !ok {
			return fmt.Errorf("%w: unsupported operand %T for %q", ErrInvalidCondition, cl.Operand, cl.Property)
		}
		if kind == kindBool && cl.Operator != OpEqual && cl.Operator != OpNotEqual && cl.Operator != OpNotEqualAlt {
			return fmt.Errorf("%w: operator %q cannot compare booleans", ErrInvalidCondition, cl.Operator)
		}
	}
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func numberText(v any) string {
	switch n := v.(type) {
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'g', -1, 32)
	}
	i, _ := types.AsInt64(v)
	return strconv.FormatInt(i, 10)
}

// String renders the condition as a Postgres boolean expression over the
// jsonb column "value", e.g. (value ->> 'state') collate "C" = 'running'.
// Strings compare bytewise, like the key columns.
// Literals are quoted, so the result is safe to splice into a query.
// The empty condition renders as "".
func (c Condition) String() string {
	parts := make([]string, 0, len(c))
	for _, cl := range c {
		prop := quoteLiteral(cl.Property)
		kind, _ := kindOf(cl.Operand)
		switch kind {
		case kindNumber:
			parts = append(parts, fmt.Sprintf("(value ->> %s)::numeric %s %s", prop, cl.Operator, numberText(cl.Operand)))
		case kindBool:
			parts = append(parts, fmt.Sprintf("(value ->> %s)::boolean %s %t", prop, cl.Operator, cl.Operand))
		default:
			parts = append(parts, fmt.Sprintf("(value ->> %s) collate \"C\" %s %s", prop, cl.Operator, quoteLiteral(fmt.Sprint(cl.Operand))))
		}
	}
	return strings.Join(parts, " and ")
}

// Match evaluates the condition against a stored value the way the rendered
// SQL would: a missing property never matches.
func (c Condition) Match(v Value) bool {
	for _, cl := range c {
		stored, ok := v[cl.Property]
		if !ok || stored == nil {
			return false
		}
		if !matchClause(cl, stored) {
			return false
		}
	}
	return true
}

func matchClause(cl Clause, stored any) bool {
	kind, ok := kindOf(cl.Operand)
	if !ok {
		return false
	}
	switch kind {
	case kindNumber:
		sk, ok := kindOf(stored)
		if !ok || sk != kindNumber {
			return false
		}
		a, okA := new(big.Rat).SetString(numberText(stored))
		b, okB := new(big.Rat).SetString(numberText(cl.Operand))
		if !okA || !okB {
			return false
		}
		return compare(cl.Operator, a.Cmp(b))
	case kindBool:
		b, ok := stored.(bool)
		if !ok {
			return false
		}
		eq := b == cl.Operand.(bool)
		if cl.Operator == OpEqual {
			return eq
		}
		return !eq
	default:
		return compare(cl.Operator, strings.Compare(textOf(stored), cl.Operand.(string)))
	}
}

// textOf mirrors the ->> operator: strings are returned bare, everything else as JSON text.
func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func compare(op string, c int) bool {
	switch op {
	case OpEqual:
		return c == 0
	case OpNotEqual, OpNotEqualAlt:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}
