package query

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

// Dialect selects the SQL flavor statements are rendered in.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite3"
	DialectMySQL  Dialect = "mysql"
)

// Valid reports whether d names a supported dialect.
func (d Dialect) Valid() bool {
	return d == DialectSQLite || d == DialectMySQL
}

// Goqu returns the dialect wrapper statements are built with.
func (d Dialect) Goqu() goqu.DialectWrapper {
	return goqu.Dialect(string(d))
}

// CompileSelect renders q as a parameterized SELECT. Arguments come back in
// the order their placeholders appear, so the same slice can be handed
// straight to database/sql.
//
// The generated SQL and Condition.Matches agree on every operator: like is
// case-sensitive on both dialects (LIKE BINARY on MySQL, SQLite runs with
// case_sensitive_like on), ilike folds both sides through LOWER(), equality
// against null renders as IS NULL and an empty IN list matches nothing.
func CompileSelect(d Dialect, q *Query) (string, []any, error) {
	if !d.Valid() {
		return "", nil, &ValidationError{Reason: fmt.Sprintf("unknown dialect %q", d)}
	}
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	ds := d.Goqu().From(q.Table).Prepared(true)
	if q.Condition != nil {
		where, err := conditionExpr(q.Condition)
		if err != nil {
			return "", nil, err
		}
		ds = ds.Where(where)
	}
	if p := q.Paginate; p != nil {
		column, direction := p.orderColumn()
		ordered := goqu.C(column).Asc()
		if direction == Descending {
			ordered = goqu.C(column).Desc()
		}
		ds = ds.Order(ordered).Limit(uint(p.PerPage))
		if p.Offset > 0 {
			ds = ds.Offset(uint(p.Offset))
		}
	}
	if q.Return == ReturnSingle {
		// One row is consumed either way; no point shipping more.
		ds = ds.Limit(1)
	}

	sql, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("compiling select for table %q: %w", q.Table, err)
	}
	return sql, args, nil
}

func conditionExpr(c Condition) (exp.Expression, error) {
	switch cond := c.(type) {
	case *Single:
		return constraintExpr(cond.Constraint)
	case *And:
		if len(cond.Conditions) == 0 {
			// goqu drops empty expression lists from the WHERE clause, which
			// happens to be right for And but not for Or; both are rendered
			// explicitly so the SQL agrees with the evaluator at any depth.
			return goqu.L("1 = 1"), nil
		}
		children, err := childExprs(cond.Conditions)
		if err != nil {
			return nil, err
		}
		return goqu.And(children...), nil
	case *Or:
		if len(cond.Conditions) == 0 {
			return goqu.L("1 = 0"), nil
		}
		children, err := childExprs(cond.Conditions)
		if err != nil {
			return nil, err
		}
		return goqu.Or(children...), nil
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown condition type %T", c)}
	}
}

func childExprs(conditions []Condition) ([]exp.Expression, error) {
	children := make([]exp.Expression, 0, len(conditions))
	for _, child := range conditions {
		e, err := conditionExpr(child)
		if err != nil {
			return nil, err
		}
		children = append(children, e)
	}
	return children, nil
}

func constraintExpr(c Constraint) (exp.Expression, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	column := goqu.C(c.Column)
	switch c.Operator {
	case OpEqual:
		return column.Eq(c.Value), nil
	case OpNotEqual:
		return column.Neq(c.Value), nil
	case OpLessThan:
		return column.Lt(c.Value), nil
	case OpGreaterThan:
		return column.Gt(c.Value), nil
	case OpLessThanOrEqual:
		return column.Lte(c.Value), nil
	case OpGreaterThanOrEqual:
		return column.Gte(c.Value), nil
	case OpIn:
		values := c.Value.([]any)
		if len(values) == 0 {
			return goqu.L("1 = 0"), nil
		}
		return column.In(values...), nil
	case OpLike:
		return column.Like(c.Value), nil
	case OpILike:
		return goqu.Func("LOWER", column).Like(goqu.Func("LOWER", goqu.V(c.Value))), nil
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
}
