package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
)

// Delete executes the Delete Handler and returns the number of rows deleted
// (spec §4.4.4: "Returns { deleted: <count> }"). When the entity declares a
// soft_delete_property it compiles the delete into an UPDATE that stamps the
// soft-delete column with the current timestamp rather than removing the row
// (spec §3.2 soft-delete supplement); otherwise it issues a DELETE. Either
// way the row filter from the permission resolver's verdict narrows which
// rows may be affected, and the verdict must allow the delete (spec
// §4.4.4). Every filter property must also match the verdict's properties
// pattern; an allow-only rule permits every property. Grounded on the
// teacher's delete closure in
// createCollectionResource (core/backend/collection.go).
func Delete(ctx context.Context, conn csql.Connection, dial dialect.Dialect, e *model.Entity, verdict access.EffectiveRule, op core.Operation) (int64, error) {
	if !verdict.Allowed {
		return 0, core.NewError(core.KindForbidden, "not authorized to delete %s", e.Name)
	}

	keyValue, ok := op.QueryParams[e.PrimaryKey]
	if !ok {
		return 0, core.NewError(core.KindBadRequest, "delete %s requires %q", e.Name, e.PrimaryKey)
	}

	var where []string
	var args []interface{}
	next := 1
	for key, value := range op.QueryParams {
		f, ferr := ParseFilter(key, value)
		if ferr != nil {
			return 0, ferr
		}
		prop, ok := e.Property(f.Property)
		if !ok {
			return 0, core.NewError(core.KindBadRequest, "unknown filter property %q", f.Property)
		}
		if !verdict.AllowsProperty(f.Property) {
			return 0, core.NewError(core.KindForbidden, "not authorized to filter on %q", f.Property)
		}
		clause, a := f.Render(dial.QuoteIdent(prop.Column), dial.Placeholder, next)
		where = append(where, clause)
		args = append(args, a...)
		next += len(a)
	}

	if verdict.Where != nil {
		clause, a, n := renumber(verdict.Where.SQL, verdict.Where.Args, dial, next)
		where = append(where, clause)
		args = append(args, a...)
		next = n
	}

	var sqlStmt string
	if e.SoftDeleteProperty != "" {
		softColumn := dial.QuoteIdent(e.Properties[e.SoftDeleteProperty].Column)
		where = append(where, softColumn+" IS NULL")
		sqlStmt = fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s", dial.QuoteIdent(e.Table), softColumn, dial.Placeholder(next), strings.Join(where, " AND "))
		args = append(args, time.Now().UTC())
	} else {
		sqlStmt = fmt.Sprintf("DELETE FROM %s WHERE %s", dial.QuoteIdent(e.Table), strings.Join(where, " AND "))
	}

	result, err := conn.Exec(ctx, sqlStmt, args...)
	if err != nil {
		return 0, classifyWriteError(err, e)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, core.WrapError(core.KindInternal, err, "delete %s: rows affected", e.Name)
	}
	if affected == 0 {
		return 0, core.NewError(core.KindNotFound, "%s %v not found", e.Name, keyValue)
	}
	return affected, nil
}
