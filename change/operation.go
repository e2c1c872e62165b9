// Package change defines the mutation vocabulary of the engine: granular
// operations coming in from clients and the notifications fanned out to
// subscribers after a mutation commits.
package change

import (
	"encoding/json"
	"fmt"

	"github.com/sublite/sublite/query"
)

// Operation is one incoming mutation against a managed table. Implementations
// form a closed set: Create, CreateMany, Update and Delete.
type Operation interface {
	// Table names the target table.
	Table() string
	// Validate checks shape and value types without touching storage.
	Validate() error

	isOperation()
}

// Create inserts a single row.
type Create struct {
	TableName string
	Data      query.Row
}

// CreateMany inserts a batch of rows in one transaction.
type CreateMany struct {
	TableName string
	Data      []query.Row
}

// Update patches the columns in Data on the row identified by ID.
type Update struct {
	TableName string
	ID        any
	Data      query.Row
}

// Delete removes the row identified by ID.
type Delete struct {
	TableName string
	ID        any
}

func (*Create) isOperation()     {}
func (*CreateMany) isOperation() {}
func (*Update) isOperation()     {}
func (*Delete) isOperation()     {}

// Table implements Operation.
func (c *Create) Table() string { return c.TableName }

// Table implements Operation.
func (c *CreateMany) Table() string { return c.TableName }

// Table implements Operation.
func (u *Update) Table() string { return u.TableName }

// Table implements Operation.
func (d *Delete) Table() string { return d.TableName }

// Validate implements Operation.
func (c *Create) Validate() error {
	if err := validateTable(c.TableName); err != nil {
		return err
	}
	return validateRow(c.TableName, c.Data)
}

// Validate implements Operation. An empty batch is valid and is treated as a
// no-op by the storage layer.
func (c *CreateMany) Validate() error {
	if err := validateTable(c.TableName); err != nil {
		return err
	}
	for i, row := range c.Data {
		if err := validateRow(c.TableName, row); err != nil {
			return &query.ValidationError{Reason: fmt.Sprintf("row %d: %v", i, err)}
		}
	}
	return nil
}

// Validate implements Operation.
func (u *Update) Validate() error {
	if err := validateTable(u.TableName); err != nil {
		return err
	}
	if err := validateID(u.ID); err != nil {
		return err
	}
	if len(u.Data) == 0 {
		return &query.ValidationError{Reason: "update carries no columns"}
	}
	return validateRow(u.TableName, u.Data)
}

// Validate implements Operation.
func (d *Delete) Validate() error {
	if err := validateTable(d.TableName); err != nil {
		return err
	}
	return validateID(d.ID)
}

func validateTable(table string) error {
	if !query.ValidIdentifier(table) {
		return &query.ValidationError{Reason: fmt.Sprintf("invalid table name %q", table)}
	}
	return nil
}

func validateRow(table string, row query.Row) error {
	if len(row) == 0 {
		return &query.ValidationError{Reason: fmt.Sprintf("empty row for table %q", table)}
	}
	for column := range row {
		if !query.ValidIdentifier(column) {
			return &query.ValidationError{Reason: fmt.Sprintf("invalid column name %q", column)}
		}
	}
	return nil
}

func validateID(id any) error {
	switch id.(type) {
	case int64, float64, string:
		return nil
	case nil:
		return &query.ValidationError{Reason: "operation is missing its row id"}
	default:
		return &query.ValidationError{Reason: fmt.Sprintf("unsupported id type %T", id)}
	}
}

// Wire type tags shared by operations and notifications. CreateMany keeps
// the snake_case tag so payloads stay compatible with existing client SDKs.
const (
	TypeCreate     = "create"
	TypeCreateMany = "create_many"
	TypeUpdate     = "update"
	TypeDelete     = "delete"
)

type operationJSON struct {
	Type  string          `json:"type"`
	Table string          `json:"table"`
	ID    json.RawMessage `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *Create) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationJSON{Type: TypeCreate, Table: c.TableName, Data: data})
}

// MarshalJSON implements json.Marshaler.
func (c *CreateMany) MarshalJSON() ([]byte, error) {
	rows := c.Data
	if rows == nil {
		rows = []query.Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationJSON{Type: TypeCreateMany, Table: c.TableName, Data: data})
}

// MarshalJSON implements json.Marshaler.
func (u *Update) MarshalJSON() ([]byte, error) {
	id, err := json.Marshal(u.ID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(u.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationJSON{Type: TypeUpdate, Table: u.TableName, ID: id, Data: data})
}

// MarshalJSON implements json.Marshaler.
func (d *Delete) MarshalJSON() ([]byte, error) {
	id, err := json.Marshal(d.ID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationJSON{Type: TypeDelete, Table: d.TableName, ID: id})
}

// ParseOperation decodes a tagged operation document, normalizes every value
// into the canonical scalar set and validates the result.
func ParseOperation(data []byte) (Operation, error) {
	var envelope operationJSON
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &query.ValidationError{Reason: fmt.Sprintf("malformed operation: %v", err)}
	}

	var op Operation
	switch envelope.Type {
	case TypeCreate:
		row, err := decodeRow(envelope.Data)
		if err != nil {
			return nil, err
		}
		op = &Create{TableName: envelope.Table, Data: row}
	case TypeCreateMany:
		rows, err := decodeRows(envelope.Data)
		if err != nil {
			return nil, err
		}
		op = &CreateMany{TableName: envelope.Table, Data: rows}
	case TypeUpdate:
		id, err := decodeID(envelope.ID)
		if err != nil {
			return nil, err
		}
		row, err := decodeRow(envelope.Data)
		if err != nil {
			return nil, err
		}
		op = &Update{TableName: envelope.Table, ID: id, Data: row}
	case TypeDelete:
		id, err := decodeID(envelope.ID)
		if err != nil {
			return nil, err
		}
		op = &Delete{TableName: envelope.Table, ID: id}
	default:
		return nil, &query.ValidationError{Reason: fmt.Sprintf("unknown operation type %q", envelope.Type)}
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func decodeRow(data json.RawMessage) (query.Row, error) {
	if len(data) == 0 {
		return nil, &query.ValidationError{Reason: "operation is missing its data"}
	}
	var row query.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, &query.ValidationError{Reason: fmt.Sprintf("malformed row data: %v", err)}
	}
	normalized, err := query.NormalizeRow(row)
	if err != nil {
		return nil, &query.ValidationError{Reason: err.Error()}
	}
	return normalized, nil
}

func decodeRows(data json.RawMessage) ([]query.Row, error) {
	if len(data) == 0 {
		return nil, &query.ValidationError{Reason: "operation is missing its data"}
	}
	var rows []query.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &query.ValidationError{Reason: fmt.Sprintf("malformed row data: %v", err)}
	}
	for i, row := range rows {
		normalized, err := query.NormalizeRow(row)
		if err != nil {
			return nil, &query.ValidationError{Reason: fmt.Sprintf("row %d: %v", i, err)}
		}
		rows[i] = normalized
	}
	return rows, nil
}

func decodeID(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return nil, &query.ValidationError{Reason: "operation is missing its row id"}
	}
	var id any
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, &query.ValidationError{Reason: fmt.Sprintf("malformed row id: %v", err)}
	}
	normalized, err := query.NormalizeValue(id)
	if err != nil {
		return nil, &query.ValidationError{Reason: err.Error()}
	}
	return normalized, nil
}
