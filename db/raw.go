package db

import (
	"fmt"
	"io"
	"strings"

	rqlitesql "github.com/rqlite/sql"

	"github.com/sublite/sublite/query"
)

// StatementClass is the coarse shape of a raw SQL statement.
type StatementClass int

const (
	StatementUnknown StatementClass = iota
	// StatementSelect reads rows and never produces notifications.
	StatementSelect
	// StatementWrite mutates rows outside the change pipeline; no
	// notifications are produced for it.
	StatementWrite
)

func (c StatementClass) String() string {
	switch c {
	case StatementSelect:
		return "select"
	case StatementWrite:
		return "write"
	default:
		return "unknown"
	}
}

// ClassifyStatement parses stmt and reports whether it is a read or a write.
// Exactly one statement is allowed; DDL, transaction control and anything
// else the parser knows but we do not want on this path is rejected.
// AST-based classification, no string matching.
func ClassifyStatement(stmt string) (StatementClass, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(stmt), ";")
	if trimmed == "" {
		return StatementUnknown, &query.ValidationError{Reason: "empty statement"}
	}

	parser := rqlitesql.NewParser(strings.NewReader(trimmed))
	parsed, err := parser.ParseStatement()
	if err != nil {
		return StatementUnknown, &query.ValidationError{Reason: fmt.Sprintf("unparseable statement: %v", err)}
	}
	if _, err := parser.ParseStatement(); err != io.EOF {
		return StatementUnknown, &query.ValidationError{Reason: "multiple statements are not allowed"}
	}

	switch parsed.(type) {
	case *rqlitesql.SelectStatement:
		return StatementSelect, nil
	case *rqlitesql.InsertStatement, *rqlitesql.UpdateStatement, *rqlitesql.DeleteStatement:
		return StatementWrite, nil
	default:
		return StatementUnknown, &query.ValidationError{Reason: fmt.Sprintf("unsupported statement type %T", parsed)}
	}
}

// RawResult is the outcome of a raw statement. Selects populate Rows, writes
// populate the two counters.
type RawResult struct {
	Class        StatementClass
	Rows         []query.Row
	RowsAffected int64
	LastInsertID int64
}
