package change

import (
	"encoding/json"
	"fmt"

	"github.com/sublite/sublite/query"
)

// Notification is the outgoing record of a committed mutation. Create and
// Update variants carry the full row as re-read from storage; Deleted carries
// only the row id, since the row is gone by the time subscribers hear of it.
type Notification interface {
	// Table names the mutated table.
	Table() string

	isNotification()
}

// Created announces a single inserted row.
type Created struct {
	TableName string
	Data      query.Row
}

// CreatedMany announces a batch insert. Subscribers receive personalized
// copies holding only the rows their condition matches.
type CreatedMany struct {
	TableName string
	Data      []query.Row
}

// Updated announces a patched row, re-read in full after the write.
type Updated struct {
	TableName string
	ID        any
	Data      query.Row
}

// Deleted announces a removed row by id. It is also synthesized for
// subscribers whose condition stops matching after an update.
type Deleted struct {
	TableName string
	ID        any
}

func (*Created) isNotification()     {}
func (*CreatedMany) isNotification() {}
func (*Updated) isNotification()     {}
func (*Deleted) isNotification()     {}

// Table implements Notification.
func (c *Created) Table() string { return c.TableName }

// Table implements Notification.
func (c *CreatedMany) Table() string { return c.TableName }

// Table implements Notification.
func (u *Updated) Table() string { return u.TableName }

// Table implements Notification.
func (d *Deleted) Table() string { return d.TableName }

// MarshalJSON implements json.Marshaler.
func (c *Created) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationJSON{Type: TypeCreate, Table: c.TableName, Data: data})
}

// MarshalJSON implements json.Marshaler.
func (c *CreatedMany) MarshalJSON() ([]byte, error) {
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
func (u *Updated) MarshalJSON() ([]byte, error) {
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
func (d *Deleted) MarshalJSON() ([]byte, error) {
	id, err := json.Marshal(d.ID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationJSON{Type: TypeDelete, Table: d.TableName, ID: id})
}

// ParseNotification decodes a tagged notification document. It mirrors
// ParseOperation so client SDKs and tests can read the wire format back.
func ParseNotification(data []byte) (Notification, error) {
	var envelope operationJSON
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &query.ValidationError{Reason: fmt.Sprintf("malformed notification: %v", err)}
	}
	if !query.ValidIdentifier(envelope.Table) {
		return nil, &query.ValidationError{Reason: fmt.Sprintf("invalid table name %q", envelope.Table)}
	}

	switch envelope.Type {
	case TypeCreate:
		row, err := decodeRow(envelope.Data)
		if err != nil {
			return nil, err
		}
		return &Created{TableName: envelope.Table, Data: row}, nil
	case TypeCreateMany:
		rows, err := decodeRows(envelope.Data)
		if err != nil {
			return nil, err
		}
		return &CreatedMany{TableName: envelope.Table, Data: rows}, nil
	case TypeUpdate:
		id, err := decodeID(envelope.ID)
		if err != nil {
			return nil, err
		}
		row, err := decodeRow(envelope.Data)
		if err != nil {
			return nil, err
		}
		return &Updated{TableName: envelope.Table, ID: id, Data: row}, nil
	case TypeDelete:
		id, err := decodeID(envelope.ID)
		if err != nil {
			return nil, err
		}
		return &Deleted{TableName: envelope.Table, ID: id}, nil
	default:
		return nil, &query.ValidationError{Reason: fmt.Sprintf("unknown notification type %q", envelope.Type)}
	}
}
