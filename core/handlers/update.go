package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
)

// Update executes the Update Handler: it applies an UPDATE restricted to the
// permission resolver's row filter and writable properties, optionally
// enforcing optimistic concurrency against a caller-supplied concurrency
// value, then re-reads the row (spec §4.4.3). It is grounded on the teacher's
// update closure in createCollectionResource (core/backend/collection.go),
// which reads the current row FOR UPDATE before comparing and replacing it.
func Update(ctx context.Context, conn csql.Connection, dial dialect.Dialect, registry *model.Registry, resolver *access.Resolver, validator *model.Validator, e *model.Entity, verdict access.EffectiveRule, op core.Operation) (map[string]interface{}, error) {
	if !verdict.Allowed {
		return nil, core.NewError(core.KindForbidden, "not authorized to update %s", e.Name)
	}

	if err := validateBody(validator, e, op.StoreParams); err != nil {
		return nil, err
	}

	keyValue, ok := op.QueryParams[e.PrimaryKey]
	if !ok {
		return nil, core.NewError(core.KindBadRequest, "update %s requires %q", e.Name, e.PrimaryKey)
	}

	sets := make(map[string]interface{}, len(op.StoreParams))
	for name, v := range op.StoreParams {
		if name == e.PrimaryKey {
			continue
		}
		prop, found := e.Property(name)
		if !found {
			return nil, core.NewError(core.KindBadRequest, "unknown property %q", name)
		}
		if !verdict.AllowsProperty(name) {
			return nil, core.NewError(core.KindForbidden, "not authorized to set property %q", name)
		}
		if prop.IsConcurrency {
			continue // concurrency values are never accepted from the caller as a write target, only compared against.
		}
		sets[name] = v
	}

	var concurrencyCheck *model.PropertyDescriptor
	var concurrencyValue interface{}
	if e.ConcurrencyProperty != "" {
		concurrencyCheck = e.Properties[e.ConcurrencyProperty]
		if v, provided := op.StoreParams[e.ConcurrencyProperty]; provided {
			concurrencyValue = v
		}
		switch concurrencyCheck.ConcurrencyOf {
		case model.ConcurrencyUUID:
			sets[e.ConcurrencyProperty] = uuid.New().String()
		case model.ConcurrencyTimestamp:
			sets[e.ConcurrencyProperty] = time.Now().UTC()
		}
	}

	if len(sets) == 0 {
		return fetchByKey(ctx, conn, dial, registry, resolver, e, verdict, keyValue)
	}

	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}

	assignments := make([]string, len(names))
	args := make([]interface{}, 0, len(names)+2)
	next := 1
	for i, name := range names {
		assignments[i] = dial.QuoteIdent(e.Properties[name].Column) + " = " + dial.Placeholder(next)
		args = append(args, sets[name])
		next++
	}

	var where []string
	for key, value := range op.QueryParams {
		f, ferr := ParseFilter(key, value)
		if ferr != nil {
			return nil, ferr
		}
		prop, ok := e.Property(f.Property)
		if !ok {
			return nil, core.NewError(core.KindBadRequest, "unknown filter property %q", f.Property)
		}
		if !verdict.AllowsProperty(f.Property) {
			return nil, core.NewError(core.KindForbidden, "not authorized to filter on %q", f.Property)
		}
		clause, a := f.Render(dial.QuoteIdent(prop.Column), dial.Placeholder, next)
		where = append(where, clause)
		args = append(args, a...)
		next += len(a)
	}

	if concurrencyCheck != nil && concurrencyValue != nil {
		where = append(where, dial.QuoteIdent(concurrencyCheck.Column)+" = "+dial.Placeholder(next))
		args = append(args, concurrencyValue)
		next++
	}

	if verdict.Where != nil {
		clause, a, n := renumber(verdict.Where.SQL, verdict.Where.Args, dial, next)
		where = append(where, clause)
		args = append(args, a...)
		next = n
	}

	if e.SoftDeleteProperty != "" {
		where = append(where, dial.QuoteIdent(e.Properties[e.SoftDeleteProperty].Column)+" IS NULL")
	}

	sqlStmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", dial.QuoteIdent(e.Table), strings.Join(assignments, ", "), strings.Join(where, " AND "))
	result, err := conn.Exec(ctx, sqlStmt, args...)
	if err != nil {
		return nil, classifyWriteError(err, e)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "update %s: rows affected", e.Name)
	}
	if affected == 0 {
		if concurrencyValue != nil {
			return nil, core.NewError(core.KindConflict, "%s %v was modified by another writer", e.Name, keyValue)
		}
		return nil, core.NewError(core.KindNotFound, "%s %v not found", e.Name, keyValue)
	}

	return fetchByKey(ctx, conn, dial, registry, resolver, e, verdict, keyValue)
}
