package query

// Matches implements Condition.
func (s *Single) Matches(row Row) bool {
	return s.Constraint.matches(row)
}

// Matches implements Condition. An empty conjunction matches every row.
func (a *And) Matches(row Row) bool {
	for _, child := range a.Conditions {
		if !child.Matches(row) {
			return false
		}
	}
	return true
}

// Matches implements Condition. An empty disjunction matches no row.
func (o *Or) Matches(row Row) bool {
	for _, child := range o.Conditions {
		if child.Matches(row) {
			return true
		}
	}
	return false
}

// matches evaluates one constraint against a row with SQL semantics: a null
// on either side of !=, <, >, <=, >= never matches, while = and != against a
// null constraint behave like IS NULL and IS NOT NULL.
func (c Constraint) matches(row Row) bool {
	value, ok := row[c.Column]
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEqual:
		return valueEqual(value, c.Value)
	case OpNotEqual:
		if c.Value == nil {
			return value != nil
		}
		return value != nil && !valueEqual(value, c.Value)
	case OpLessThan:
		cmp, comparable := valueCompare(value, c.Value)
		return comparable && cmp < 0
	case OpGreaterThan:
		cmp, comparable := valueCompare(value, c.Value)
		return comparable && cmp > 0
	case OpLessThanOrEqual:
		cmp, comparable := valueCompare(value, c.Value)
		return comparable && cmp <= 0
	case OpGreaterThanOrEqual:
		cmp, comparable := valueCompare(value, c.Value)
		return comparable && cmp >= 0
	case OpIn:
		list, isList := c.Value.([]any)
		if !isList {
			return false
		}
		for _, candidate := range list {
			if valueEqual(value, candidate) {
				return true
			}
		}
		return false
	case OpLike:
		return likeMatch(value, c.Value, false)
	case OpILike:
		return likeMatch(value, c.Value, true)
	}
	return false
}

func likeMatch(value, pattern any, foldCase bool) bool {
	text, ok := value.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	return MatchLike(text, p, foldCase)
}
