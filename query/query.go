package query

import (
	"encoding/json"
	"fmt"
)

// PrimaryKeyColumn is the column every managed table identifies rows by.
// Delete notifications carry this value and pagination falls back to it.
const PrimaryKeyColumn = "id"

// Return selects the arity of a fetch result.
type Return string

const (
	// ReturnSingle yields the first matching row or null.
	ReturnSingle Return = "single"
	// ReturnMany yields every matching row.
	ReturnMany Return = "many"
)

// Direction orders paginated results.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Paginate bounds and orders a fetch. A zero OrderBy falls back to the
// primary key column in descending order; Offset is emitted only when
// positive.
type Paginate struct {
	OrderBy   string    `json:"order_by,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	PerPage   int       `json:"per_page"`
	Offset    int       `json:"offset,omitempty"`
}

func (p *Paginate) validate() error {
	if p.PerPage <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("per_page must be positive, got %d", p.PerPage)}
	}
	if p.Offset < 0 {
		return &ValidationError{Reason: fmt.Sprintf("offset must not be negative, got %d", p.Offset)}
	}
	if p.OrderBy != "" && !ValidIdentifier(p.OrderBy) {
		return &ValidationError{Reason: fmt.Sprintf("invalid order_by column %q", p.OrderBy)}
	}
	switch p.Direction {
	case "", Ascending, Descending:
		return nil
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown direction %q", p.Direction)}
	}
}

// orderColumn resolves the effective ordering column and direction. An
// explicit column defaults to ascending, the primary key fallback to
// descending so recent rows come first.
func (p *Paginate) orderColumn() (string, Direction) {
	if p.OrderBy == "" {
		return PrimaryKeyColumn, Descending
	}
	if p.Direction == "" {
		return p.OrderBy, Ascending
	}
	return p.OrderBy, p.Direction
}

// Query describes one fetch or subscription: which table, which rows and in
// what shape they come back.
type Query struct {
	Return    Return
	Table     string
	Condition Condition
	Paginate  *Paginate
}

// Validate checks the query shape without touching storage.
func (q *Query) Validate() error {
	switch q.Return {
	case ReturnSingle, ReturnMany:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown return kind %q", q.Return)}
	}
	if !ValidIdentifier(q.Table) {
		return &ValidationError{Reason: fmt.Sprintf("invalid table name %q", q.Table)}
	}
	if err := Validate(q.Condition); err != nil {
		return err
	}
	if q.Paginate != nil {
		return q.Paginate.validate()
	}
	return nil
}

type queryJSON struct {
	Return    Return          `json:"return"`
	Table     string          `json:"table"`
	Condition json.RawMessage `json:"condition,omitempty"`
	Paginate  *Paginate       `json:"paginate,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (q *Query) MarshalJSON() ([]byte, error) {
	out := queryJSON{Return: q.Return, Table: q.Table, Paginate: q.Paginate}
	if q.Condition != nil {
		condition, err := json.Marshal(q.Condition)
		if err != nil {
			return nil, err
		}
		out.Condition = condition
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded query is validated.
func (q *Query) UnmarshalJSON(data []byte) error {
	var in queryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("malformed query: %v", err)}
	}
	condition, err := unmarshalCondition(in.Condition)
	if err != nil {
		return err
	}
	q.Return = in.Return
	q.Table = in.Table
	q.Condition = condition
	q.Paginate = in.Paginate
	return q.Validate()
}

// ParseQuery decodes and validates a JSON query document.
func ParseQuery(data []byte) (*Query, error) {
	q := &Query{}
	if err := q.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return q, nil
}

// Result is the outcome of a fetch. Exactly one of the two shapes is
// populated, matching the query's return kind.
type Result struct {
	Kind Return
	Row  Row   // single: nil when no row matched
	Rows []Row // many: never nil, possibly empty
}

// SingleResult wraps an optional row.
func SingleResult(row Row) *Result {
	return &Result{Kind: ReturnSingle, Row: row}
}

// ManyResult wraps a row list, normalizing nil to an empty slice.
func ManyResult(rows []Row) *Result {
	if rows == nil {
		rows = []Row{}
	}
	return &Result{Kind: ReturnMany, Rows: rows}
}

type resultJSON struct {
	Kind Return          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch r.Kind {
	case ReturnSingle:
		data, err = json.Marshal(r.Row)
	case ReturnMany:
		rows := r.Rows
		if rows == nil {
			rows = []Row{}
		}
		data, err = json.Marshal(rows)
	default:
		return nil, fmt.Errorf("unknown result kind %q", r.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(resultJSON{Kind: r.Kind, Data: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case ReturnSingle:
		if !isJSONNull(in.Data) {
			var row Row
			if err := json.Unmarshal(in.Data, &row); err != nil {
				return err
			}
			normalized, err := NormalizeRow(row)
			if err != nil {
				return err
			}
			r.Row = normalized
		}
		r.Kind = ReturnSingle
		r.Rows = nil
		return nil
	case ReturnMany:
		rows := []Row{}
		if !isJSONNull(in.Data) {
			if err := json.Unmarshal(in.Data, &rows); err != nil {
				return err
			}
			for i, row := range rows {
				normalized, err := NormalizeRow(row)
				if err != nil {
					return err
				}
				rows[i] = normalized
			}
		}
		r.Kind = ReturnMany
		r.Row = nil
		r.Rows = rows
		return nil
	default:
		return fmt.Errorf("unknown result kind %q", in.Kind)
	}
}
