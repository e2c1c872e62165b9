package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
)

// execer is the slice of database/sql shared by *sql.DB, *sql.Conn and
// *sql.Tx that operation application needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// applyOperation runs one granular operation and re-reads the written rows so
// the returned notification carries exactly what the database now holds.
// Update and Delete against a missing row return (nil, nil): nothing changed,
// nobody gets notified.
func applyOperation(ctx context.Context, ex execer, dialect query.Dialect, op change.Operation) (change.Notification, error) {
	switch o := op.(type) {
	case *change.Create:
		row, err := insertRow(ctx, ex, dialect, o.TableName, o.Data)
		if err != nil {
			return nil, storageErr("create", o.TableName, err)
		}
		return &change.Created{TableName: o.TableName, Data: row}, nil

	case *change.CreateMany:
		if len(o.Data) == 0 {
			return nil, nil
		}
		rows := make([]query.Row, 0, len(o.Data))
		for i, data := range o.Data {
			row, err := insertRow(ctx, ex, dialect, o.TableName, data)
			if err != nil {
				return nil, storageErr("create_many", o.TableName, fmt.Errorf("row %d: %w", i, err))
			}
			rows = append(rows, row)
		}
		return &change.CreatedMany{TableName: o.TableName, Data: rows}, nil

	case *change.Update:
		stmt, args, err := dialect.Goqu().
			Update(o.TableName).
			Prepared(true).
			Set(asRecord(o.Data)).
			Where(goqu.C(query.PrimaryKeyColumn).Eq(o.ID)).
			ToSQL()
		if err != nil {
			return nil, storageErr("update", o.TableName, err)
		}
		result, err := ex.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, storageErr("update", o.TableName, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, storageErr("update", o.TableName, err)
		}
		if affected == 0 {
			return nil, nil
		}
		row, err := readRowByID(ctx, ex, dialect, o.TableName, o.ID)
		if err != nil {
			return nil, storageErr("update", o.TableName, err)
		}
		if row == nil {
			return nil, storageErr("update", o.TableName, fmt.Errorf("row %v vanished after update", o.ID))
		}
		return &change.Updated{TableName: o.TableName, ID: o.ID, Data: row}, nil

	case *change.Delete:
		stmt, args, err := dialect.Goqu().
			Delete(o.TableName).
			Prepared(true).
			Where(goqu.C(query.PrimaryKeyColumn).Eq(o.ID)).
			ToSQL()
		if err != nil {
			return nil, storageErr("delete", o.TableName, err)
		}
		result, err := ex.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, storageErr("delete", o.TableName, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, storageErr("delete", o.TableName, err)
		}
		if affected == 0 {
			return nil, nil
		}
		return &change.Deleted{TableName: o.TableName, ID: o.ID}, nil

	default:
		return nil, storageErr("apply", op.Table(), fmt.Errorf("unsupported operation type %T", op))
	}
}

// insertRow writes one row and re-reads it. Rows carrying an explicit
// primary key are re-read by it; otherwise the driver's last insert id
// locates the fresh row.
func insertRow(ctx context.Context, ex execer, dialect query.Dialect, table string, data query.Row) (query.Row, error) {
	stmt, args, err := dialect.Goqu().
		Insert(table).
		Prepared(true).
		Rows(asRecord(data)).
		ToSQL()
	if err != nil {
		return nil, err
	}
	result, err := ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	id, ok := data[query.PrimaryKeyColumn]
	if !ok {
		lastID, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("resolving inserted row id: %w", err)
		}
		id = lastID
	}

	row, err := readRowByID(ctx, ex, dialect, table, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("inserted row %v not found on re-read", id)
	}
	return row, nil
}

func readRowByID(ctx context.Context, ex execer, dialect query.Dialect, table string, id any) (query.Row, error) {
	q := &query.Query{
		Return:    query.ReturnSingle,
		Table:     table,
		Condition: query.NewSingle(query.PrimaryKeyColumn, query.OpEqual, id),
	}
	stmt, args, err := query.CompileSelect(dialect, q)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	scanned, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(scanned) == 0 {
		return nil, nil
	}
	return scanned[0], nil
}

func asRecord(row query.Row) goqu.Record {
	record := make(goqu.Record, len(row))
	for column, value := range row {
		record[column] = value
	}
	return record
}
