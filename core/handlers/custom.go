package handlers

import (
	"context"
	"regexp"
	"strings"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
)

var customParamToken = regexp.MustCompile(`\$\{params\.([A-Za-z0-9_]+)\}`)

// Custom executes the Custom SQL Handler: it runs a pre-declared, role-gated
// SQL template, substituting ${params.NAME} tokens with bound query/store
// params rather than ever interpolating caller input into the statement
// text (spec §4.4.5). Custom queries bypass the per-property permission
// resolver entirely; they are gated solely by CustomQuery.Roles, since a
// hand-authored statement has no per-column shape for a properties regex to
// apply to.
func Custom(ctx context.Context, conn csql.Connection, dial dialect.Dialect, registry *model.Registry, op core.Operation) ([]map[string]interface{}, error) {
	query, err := registry.CustomQuery(op.CustomSQLID)
	if err != nil {
		return nil, err
	}

	authorized := false
	for _, role := range op.Claims.Roles {
		if query.AllowsRole(role) {
			authorized = true
			break
		}
	}
	if !authorized {
		return nil, core.NewError(core.KindForbidden, "not authorized to run custom query %q", op.CustomSQLID)
	}

	params := make(map[string]interface{}, len(op.StoreParams)+len(op.QueryParams))
	for k, v := range op.QueryParams {
		params[k] = v
	}
	for k, v := range op.StoreParams {
		params[k] = v
	}

	var sb strings.Builder
	var args []interface{}
	next := 1
	last := 0
	for _, m := range customParamToken.FindAllStringSubmatchIndex(query.SQL, -1) {
		sb.WriteString(query.SQL[last:m[0]])
		name := query.SQL[m[2]:m[3]]
		value, ok := params[name]
		if !ok {
			return nil, core.NewError(core.KindBadRequest, "custom query %q: missing param %q", op.CustomSQLID, name)
		}
		sb.WriteString(dial.Placeholder(next))
		args = append(args, value)
		next++
		last = m[1]
	}
	sb.WriteString(query.SQL[last:])

	rows, err := conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "custom query %q", op.CustomSQLID)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "custom query %q: columns", op.CustomSQLID)
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		dest := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, core.WrapError(core.KindInternal, err, "custom query %q: scan row", op.CustomSQLID)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = dest[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindInternal, err, "custom query %q: iterate rows", op.CustomSQLID)
	}
	return results, nil
}
