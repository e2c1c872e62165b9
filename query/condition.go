// Package query implements the predicate model for live subscriptions:
// a closed condition tree over row columns, a pure in-memory evaluator,
// and a SQL compiler that agrees with the evaluator on every operator.
package query

import (
	"encoding/json"
	"fmt"
)

// Operator is a comparison operator inside a constraint.
type Operator string

const (
	OpEqual              Operator = "="
	OpNotEqual           Operator = "!="
	OpLessThan           Operator = "<"
	OpGreaterThan        Operator = ">"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThanOrEqual Operator = ">="
	OpIn                 Operator = "in"
	OpLike               Operator = "like"
	OpILike              Operator = "ilike"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpGreaterThan,
		OpLessThanOrEqual, OpGreaterThanOrEqual, OpIn, OpLike, OpILike:
		return true
	}
	return false
}

// Constraint is a single column comparison. For OpIn the value must be a
// []any of scalars; for every other operator it must be a scalar.
type Constraint struct {
	Column   string
	Operator Operator
	Value    any
}

// Condition is a boolean expression tree over row columns. A nil Condition
// means "match everything". Trees are immutable once attached to a
// subscription; they are replaced wholesale, never mutated in place.
type Condition interface {
	// Matches reports whether row satisfies the condition. It never fails:
	// unknown columns and type-incompatible comparisons evaluate to false.
	Matches(row Row) bool

	isCondition()
}

// Single wraps one constraint.
type Single struct {
	Constraint Constraint
}

// And matches when every child matches. An empty And matches everything.
type And struct {
	Conditions []Condition
}

// Or matches when at least one child matches. An empty Or matches nothing.
type Or struct {
	Conditions []Condition
}

func (*Single) isCondition() {}
func (*And) isCondition()    {}
func (*Or) isCondition()     {}

// Matches reports whether row satisfies c. A nil condition matches every row.
func Matches(c Condition, row Row) bool {
	if c == nil {
		return true
	}
	return c.Matches(row)
}

// NewSingle builds a single-constraint condition.
func NewSingle(column string, op Operator, value any) *Single {
	return &Single{Constraint: Constraint{Column: column, Operator: op, Value: value}}
}

// NewAnd builds a conjunction of conditions.
func NewAnd(conditions ...Condition) *And {
	return &And{Conditions: conditions}
}

// NewOr builds a disjunction of conditions.
func NewOr(conditions ...Condition) *Or {
	return &Or{Conditions: conditions}
}

// Validate checks the shape of the condition tree: known operators, list
// values only under OpIn, string patterns under like/ilike and identifier-
// safe column names. It does not touch storage.
func Validate(c Condition) error {
	if c == nil {
		return nil
	}
	switch cond := c.(type) {
	case *Single:
		return cond.Constraint.validate()
	case *And:
		for _, child := range cond.Conditions {
			if err := Validate(child); err != nil {
				return err
			}
		}
		return nil
	case *Or:
		for _, child := range cond.Conditions {
			if err := Validate(child); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown condition type %T", c)}
	}
}

func (c Constraint) validate() error {
	if !ValidIdentifier(c.Column) {
		return &ValidationError{Reason: fmt.Sprintf("invalid column name %q", c.Column)}
	}
	if !c.Operator.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
	}

	_, isList := c.Value.([]any)
	switch c.Operator {
	case OpIn:
		if !isList {
			return &ValidationError{Reason: fmt.Sprintf("operator %q requires a list value", c.Operator)}
		}
		for _, v := range c.Value.([]any) {
			if !scalarValue(v) {
				return &ValidationError{Reason: fmt.Sprintf("operator %q list must contain only scalars, got %T", c.Operator, v)}
			}
		}
	case OpLike, OpILike:
		if _, ok := c.Value.(string); !ok {
			return &ValidationError{Reason: fmt.Sprintf("operator %q requires a string pattern, got %T", c.Operator, c.Value)}
		}
	default:
		if isList {
			return &ValidationError{Reason: fmt.Sprintf("operator %q requires a scalar value", c.Operator)}
		}
		if !scalarValue(c.Value) {
			return &ValidationError{Reason: fmt.Sprintf("unsupported value type %T for column %q", c.Value, c.Column)}
		}
	}
	return nil
}

// Tagged JSON encoding of condition trees:
//
//	{"type": "single", "constraint": {"column": c, "operator": op, "value": v}}
//	{"type": "and", "conditions": [...]}
//	{"type": "or", "conditions": [...]}
const (
	conditionTypeSingle = "single"
	conditionTypeAnd    = "and"
	conditionTypeOr     = "or"
)

type constraintJSON struct {
	Column   string          `json:"column"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

type conditionJSON struct {
	Type       string            `json:"type"`
	Constraint *constraintJSON   `json:"constraint,omitempty"`
	Conditions []json.RawMessage `json:"conditions,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *Single) MarshalJSON() ([]byte, error) {
	value, err := json.Marshal(s.Constraint.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conditionJSON{
		Type: conditionTypeSingle,
		Constraint: &constraintJSON{
			Column:   s.Constraint.Column,
			Operator: s.Constraint.Operator,
			Value:    value,
		},
	})
}

// MarshalJSON implements json.Marshaler.
func (a *And) MarshalJSON() ([]byte, error) {
	return marshalComposite(conditionTypeAnd, a.Conditions)
}

// MarshalJSON implements json.Marshaler.
func (o *Or) MarshalJSON() ([]byte, error) {
	return marshalComposite(conditionTypeOr, o.Conditions)
}

func marshalComposite(typ string, children []Condition) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(children))
	for _, child := range children {
		data, err := json.Marshal(child)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(conditionJSON{Type: typ, Conditions: raw})
}

// UnmarshalCondition decodes a tagged condition tree. A JSON null yields a
// nil condition. Values are normalized (integral numbers become int64) and
// the resulting tree is validated.
func UnmarshalCondition(data []byte) (Condition, error) {
	cond, err := unmarshalCondition(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cond); err != nil {
		return nil, err
	}
	return cond, nil
}

func unmarshalCondition(data []byte) (Condition, error) {
	if isJSONNull(data) {
		return nil, nil
	}

	var envelope conditionJSON
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed condition: %v", err)}
	}

	switch envelope.Type {
	case conditionTypeSingle:
		if envelope.Constraint == nil {
			return nil, &ValidationError{Reason: "single condition is missing its constraint"}
		}
		value, err := unmarshalValue(envelope.Constraint.Value)
		if err != nil {
			return nil, err
		}
		return &Single{Constraint: Constraint{
			Column:   envelope.Constraint.Column,
			Operator: envelope.Constraint.Operator,
			Value:    value,
		}}, nil
	case conditionTypeAnd, conditionTypeOr:
		children := make([]Condition, 0, len(envelope.Conditions))
		for _, raw := range envelope.Conditions {
			child, err := unmarshalCondition(raw)
			if err != nil {
				return nil, err
			}
			if child == nil {
				return nil, &ValidationError{Reason: "composite condition contains a null child"}
			}
			children = append(children, child)
		}
		if envelope.Type == conditionTypeAnd {
			return &And{Conditions: children}, nil
		}
		return &Or{Conditions: children}, nil
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown condition type %q", envelope.Type)}
	}
}

func isJSONNull(data []byte) bool {
	trimmed := string(data)
	return trimmed == "" || trimmed == "null"
}
