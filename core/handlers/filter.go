package handlers

import (
	"strings"

	"github.com/apifoundry/gateway/core"
)

// Operator is a query-string filter operator (spec §3, §4.4.1).
type Operator string

// The filter operators the Read Handler understands.
const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLe         Operator = "le"
	OpGt         Operator = "gt"
	OpGe         Operator = "ge"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not-in"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "not-between"
	OpLike       Operator = "like"
)

var sqlOperator = map[Operator]string{
	OpEq:   "=",
	OpNe:   "<>",
	OpLt:   "<",
	OpLe:   "<=",
	OpGt:   ">",
	OpGe:   ">=",
	OpLike: "LIKE",
}

// Filter is one parsed query-string filter: a bare property name paired with
// a value of the form "<op>::<operand>" (spec §4.4.1, end-to-end scenario 1:
// "artist_id=eq::1"). Values is a single element for every operator except
// in/not-in (any length) and between/not-between (exactly two).
type Filter struct {
	Property string
	Operator Operator
	Values   []string
}

// ParseFilter parses one query-param (property, value) pair where value is
// "<op>::<operand>"; an absent "<op>::" prefix defaults to "eq" (spec
// §4.4.1). A null (or empty) value inside an in/not-in/between/not-between
// list is rejected as BadRequest (spec §9 open question); a null comparison
// is written as eq::null or ne::null instead, which Render compiles to
// IS NULL / IS NOT NULL.
func ParseFilter(property, raw string) (Filter, error) {
	operator := OpEq
	value := raw
	if i := strings.Index(raw, "::"); i >= 0 {
		operator = Operator(raw[:i])
		value = raw[i+2:]
	}

	var values []string
	switch operator {
	case OpIn, OpNotIn:
		values = strings.Split(value, ",")
	case OpBetween, OpNotBetween:
		values = strings.Split(value, ",")
		if len(values) != 2 {
			return Filter{}, core.NewError(core.KindBadRequest, "filter %q requires exactly two comma-separated values", property)
		}
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpLike:
		values = []string{value}
	default:
		return Filter{}, core.NewError(core.KindBadRequest, "filter %q has unknown operator %q", property, operator)
	}

	switch operator {
	case OpIn, OpNotIn, OpBetween, OpNotBetween:
		for _, v := range values {
			if v == "" || strings.EqualFold(v, "null") {
				return Filter{}, core.NewError(core.KindBadRequest, "filter %q: null is not a valid value for operator %q, use the is-null filter instead", property, operator)
			}
		}
	}

	return Filter{Property: property, Operator: operator, Values: values}, nil
}

// Render renders f against column (already dialect-quoted) starting the
// bound-placeholder numbering at placeholder(nextIndex), returning the SQL
// fragment and the ordered argument values it binds. An eq/ne comparison
// against the literal value "null" compiles to IS NULL/IS NOT NULL rather
// than binding the string "null" as a parameter (spec §4.4.1).
func (f Filter) Render(column string, placeholder func(n int) string, nextIndex int) (string, []interface{}) {
	switch f.Operator {
	case OpIn, OpNotIn:
		placeholders := make([]string, len(f.Values))
		args := make([]interface{}, len(f.Values))
		for i, v := range f.Values {
			placeholders[i] = placeholder(nextIndex + i)
			args[i] = v
		}
		keyword := "IN"
		if f.Operator == OpNotIn {
			keyword = "NOT IN"
		}
		return column + " " + keyword + " (" + strings.Join(placeholders, ", ") + ")", args
	case OpBetween, OpNotBetween:
		keyword := "BETWEEN"
		if f.Operator == OpNotBetween {
			keyword = "NOT BETWEEN"
		}
		sql := column + " " + keyword + " " + placeholder(nextIndex) + " AND " + placeholder(nextIndex+1)
		return sql, []interface{}{f.Values[0], f.Values[1]}
	case OpEq, OpNe:
		if strings.EqualFold(f.Values[0], "null") {
			if f.Operator == OpEq {
				return column + " IS NULL", nil
			}
			return column + " IS NOT NULL", nil
		}
		fallthrough
	default:
		op := sqlOperator[f.Operator]
		return column + " " + op + " " + placeholder(nextIndex), []interface{}{f.Values[0]}
	}
}
