// Package dialect isolates the three surface differences between the SQL
// dialects this gateway targets: placeholder syntax, identifier quoting and
// the limit/offset clause shape (spec §4.4, §9 "dialect abstraction"). It is
// grounded on the teacher's csql.OpenWithSchema (core/csql/csql.go), which
// already special-cased Postgres-only DDL; here that special-casing is
// promoted into an explicit, swappable interface instead of an if-statement.
package dialect

import "fmt"

// Dialect renders the pieces of a SQL statement that vary across database
// engines. The SQL handlers build statements by concatenating literal
// fragments and consulting a Dialect only at these three seams.
type Dialect interface {
	// Name identifies the dialect, matching the driver name passed to
	// csql.OpenWithSchema ("postgres", "mysql", "oracle").
	Name() string
	// Placeholder renders the nth (1-based) bound parameter placeholder.
	Placeholder(n int) string
	// QuoteIdent quotes a table or column name for safe interpolation into a
	// statement (identifiers are never bindable as parameters in any of the
	// three dialects, so they must be quoted, not bound).
	QuoteIdent(name string) string
	// LimitOffset renders a complete "LIMIT .. OFFSET .." clause (or its
	// dialect equivalent), continuing the placeholder numbering from
	// nextPlaceholder, and returns the two argument values the clause binds
	// in the order they appear in the rendered SQL.
	LimitOffset(limit, offset, nextPlaceholder int) (sql string, args []interface{})
}

// ByName returns the Dialect registered under name, or false if none is.
func ByName(name string) (Dialect, bool) {
	d, ok := registry[name]
	return d, ok
}

var registry = map[string]Dialect{
	"postgres": Postgres{},
	"mysql":    MySQL{},
	"oracle":   Oracle{},
}

// Postgres renders numbered "$1" style placeholders, double-quoted
// identifiers and a trailing "LIMIT $n OFFSET $n" clause, matching the
// teacher's collection.go SQL generation (core/backend/collection.go) exactly.
type Postgres struct{}

// Name implements Dialect.
func (Postgres) Name() string { return "postgres" }

// Placeholder implements Dialect.
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// QuoteIdent implements Dialect.
func (Postgres) QuoteIdent(name string) string { return `"` + name + `"` }

// LimitOffset implements Dialect.
func (Postgres) LimitOffset(limit, offset, next int) (string, []interface{}) {
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", next, next+1), []interface{}{limit, offset}
}

// MySQL renders "?" placeholders, backtick-quoted identifiers and a
// "LIMIT ? OFFSET ?" clause.
type MySQL struct{}

// Name implements Dialect.
func (MySQL) Name() string { return "mysql" }

// Placeholder implements Dialect.
func (MySQL) Placeholder(int) string { return "?" }

// QuoteIdent implements Dialect.
func (MySQL) QuoteIdent(name string) string { return "`" + name + "`" }

// LimitOffset implements Dialect.
func (MySQL) LimitOffset(limit, offset, next int) (string, []interface{}) {
	return "LIMIT ? OFFSET ?", []interface{}{limit, offset}
}

// Oracle renders ":n" placeholders, double-quoted identifiers and an
// OFFSET/FETCH clause (row-limiting syntax, no native LIMIT keyword).
type Oracle struct{}

// Name implements Dialect.
func (Oracle) Name() string { return "oracle" }

// Placeholder implements Dialect.
func (Oracle) Placeholder(n int) string { return fmt.Sprintf(":%d", n) }

// QuoteIdent implements Dialect.
func (Oracle) QuoteIdent(name string) string { return `"` + name + `"` }

// LimitOffset implements Dialect.
func (Oracle) LimitOffset(limit, offset, next int) (string, []interface{}) {
	return fmt.Sprintf("OFFSET :%d ROWS FETCH NEXT :%d ROWS ONLY", next, next+1), []interface{}{offset, limit}
}
