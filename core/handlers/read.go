package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// includeDeletedParam opts a read back into rows a soft-delete marked (spec
// §3.2 soft-delete supplement). Like every other reserved read parameter, it
// rides in metadata_params, not query_params (spec §4.3).
const includeDeletedParam = "__include_deleted"

// sortTerm is one parsed "__sort=col1:asc,col2:desc" entry (spec §4.4.1).
type sortTerm struct {
	property  string
	direction string
}

// joinedColumn is one property of an included "object" relation, projected
// under "<relation>.<property>" and scanned into a nested map keyed by
// relation name (spec §4.4.1 association loading).
type joinedColumn struct {
	relation string
	prop     *model.PropertyDescriptor
}

// Read executes the Read Handler: it builds and runs a SELECT statement whose
// column list, row filter and property visibility are all bounded by verdict,
// unions in the caller-supplied query-string filters, and resolves
// __include-named associations (object relations via INNER JOIN, array
// relations via a second batched query grouped in memory) (spec §4.4.1). It
// is grounded on the teacher's list/read closures in createCollectionResource
// (core/backend/collection.go), generalized from a fixed owner/external/JSON
// column layout to the model-driven property and relation set of an
// arbitrary entity.
func Read(ctx context.Context, conn csql.Connection, dial dialect.Dialect, registry *model.Registry, resolver *access.Resolver, e *model.Entity, verdict access.EffectiveRule, op core.Operation) ([]map[string]interface{}, error) {
	if !verdict.Allowed {
		return nil, core.NewError(core.KindForbidden, "not authorized to read %s", e.Name)
	}

	requestedProps, includeNames, sortTerms, limit, offset, includeDeleted, err := parseMetadata(op.MetadataParams)
	if err != nil {
		return nil, err
	}

	columns, err := selectableColumns(e, verdict, requestedProps)
	if err != nil {
		return nil, err
	}

	objectRelations, arrayRelations, err := splitIncludedRelations(e, includeNames)
	if err != nil {
		return nil, err
	}

	joined := make([]joinedColumn, 0)
	var sb strings.Builder
	sb.WriteString("SELECT ")

	var selectItems []string
	for _, p := range columns {
		selectItems = append(selectItems, dial.QuoteIdent(e.Table)+"."+dial.QuoteIdent(p.Column))
	}

	var args []interface{}
	next := 1
	var clauses []string

	var joinClauses []string
	for _, rel := range objectRelations {
		other, otherVerdict, relCols, err := resolveIncludedEntity(registry, resolver, rel, op.Claims)
		if err != nil {
			return nil, err
		}
		alias := "j_" + rel.Name
		for _, p := range relCols {
			selectItems = append(selectItems, dial.QuoteIdent(alias)+"."+dial.QuoteIdent(p.Column)+" AS "+dial.QuoteIdent(rel.Name+"."+p.Name))
			joined = append(joined, joinedColumn{relation: rel.Name, prop: p})
		}
		parentCol := e.Properties[rel.ParentProperty].Column
		otherPK := other.Properties[other.PrimaryKey].Column
		on := dial.QuoteIdent(e.Table) + "." + dial.QuoteIdent(parentCol) + " = " + dial.QuoteIdent(alias) + "." + dial.QuoteIdent(otherPK)
		if otherVerdict.Where != nil {
			clause, a, n := renumber(otherVerdict.Where.SQL, otherVerdict.Where.Args, dial, next)
			on += " AND (" + clause + ")"
			args = append(args, a...)
			next = n
		}
		if other.SoftDeleteProperty != "" && !includeDeleted {
			on += " AND " + dial.QuoteIdent(alias) + "." + dial.QuoteIdent(other.Properties[other.SoftDeleteProperty].Column) + " IS NULL"
		}
		joinClauses = append(joinClauses, "INNER JOIN "+dial.QuoteIdent(other.Table)+" AS "+dial.QuoteIdent(alias)+" ON "+on)
	}

	sb.WriteString(strings.Join(selectItems, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(dial.QuoteIdent(e.Table))
	for _, j := range joinClauses {
		sb.WriteString(" ")
		sb.WriteString(j)
	}

	if verdict.Where != nil {
		clause, a, n := renumber(verdict.Where.SQL, verdict.Where.Args, dial, next)
		clauses = append(clauses, clause)
		args = append(args, a...)
		next = n
	}

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
		clause, a := f.Render(dial.QuoteIdent(e.Table)+"."+dial.QuoteIdent(prop.Column), dial.Placeholder, next)
		clauses = append(clauses, clause)
		args = append(args, a...)
		next += len(a)
	}

	if e.SoftDeleteProperty != "" && !includeDeleted {
		softProp := e.Properties[e.SoftDeleteProperty]
		clauses = append(clauses, dial.QuoteIdent(e.Table)+"."+dial.QuoteIdent(softProp.Column)+" IS NULL")
	}

	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}

	order, err := renderOrderBy(e, sortTerms, dial)
	if err != nil {
		return nil, err
	}
	if order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}

	limitSQL, limitArgs := dial.LimitOffset(limit, offset, next)
	sb.WriteString(" ")
	sb.WriteString(limitSQL)
	args = append(args, limitArgs...)

	rows, err := conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "read %s", e.Name)
	}
	defer rows.Close()

	totalCols := len(columns) + len(joined)
	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		dest := make([]interface{}, totalCols)
		ptrs := make([]interface{}, totalCols)
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, core.WrapError(core.KindInternal, err, "read %s: scan row", e.Name)
		}
		row := make(map[string]interface{}, len(columns)+len(objectRelations))
		for i, p := range columns {
			row[p.Name] = dest[i]
		}
		for i, j := range joined {
			nested, ok := row[j.relation].(map[string]interface{})
			if !ok {
				nested = make(map[string]interface{})
				row[j.relation] = nested
			}
			nested[j.prop.Name] = dest[len(columns)+i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindInternal, err, "read %s: iterate rows", e.Name)
	}

	if len(arrayRelations) > 0 {
		if err := attachArrayRelations(ctx, conn, dial, registry, resolver, e, arrayRelations, results, includeDeleted, op.Claims); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// attachArrayRelations runs one batched, keyed query per "array" relation
// against the parent PKs already fetched, and groups the results in memory
// under the relation name (spec §4.4.1: "executed as a second, batched query
// keyed by parent PK; results grouped in memory under the relation name").
func attachArrayRelations(ctx context.Context, conn csql.Connection, dial dialect.Dialect, registry *model.Registry, resolver *access.Resolver, e *model.Entity, relations []*model.RelationDescriptor, results []map[string]interface{}, includeDeleted bool, claims core.Claims) error {
	for _, rel := range relations {
		parentProp, ok := e.Property(rel.ParentProperty)
		if !ok {
			return core.NewError(core.KindSpecError, "entity %q relation %q: parent_property %q not found", e.Name, rel.Name, rel.ParentProperty)
		}

		keys := make([]interface{}, 0, len(results))
		seen := make(map[interface{}]bool, len(results))
		for _, row := range results {
			v := row[parentProp.Name]
			if seen[v] {
				continue
			}
			seen[v] = true
			keys = append(keys, v)
		}
		// Initialize every row's slot so a parent with no matching children
		// still gets an empty array rather than a missing key.
		for _, row := range results {
			row[rel.Name] = []map[string]interface{}{}
		}
		if len(keys) == 0 {
			continue
		}

		other, otherVerdict, relCols, err := resolveIncludedEntity(registry, resolver, rel, claims)
		if err != nil {
			return err
		}
		childCol := other.Properties[rel.ChildProperty]

		var sb strings.Builder
		sb.WriteString("SELECT ")
		items := make([]string, len(relCols))
		for i, p := range relCols {
			items[i] = dial.QuoteIdent(p.Column)
		}
		sb.WriteString(strings.Join(items, ", "))
		sb.WriteString(", ")
		sb.WriteString(dial.QuoteIdent(childCol.Column))
		sb.WriteString(" FROM ")
		sb.WriteString(dial.QuoteIdent(other.Table))

		next := 1
		placeholders := make([]string, len(keys))
		args := make([]interface{}, len(keys))
		for i, k := range keys {
			placeholders[i] = dial.Placeholder(next)
			args[i] = k
			next++
		}
		clauses := []string{dial.QuoteIdent(childCol.Column) + " IN (" + strings.Join(placeholders, ", ") + ")"}
		if otherVerdict.Where != nil {
			clause, a, n := renumber(otherVerdict.Where.SQL, otherVerdict.Where.Args, dial, next)
			clauses = append(clauses, clause)
			args = append(args, a...)
			next = n
		}
		if other.SoftDeleteProperty != "" && !includeDeleted {
			clauses = append(clauses, dial.QuoteIdent(other.Properties[other.SoftDeleteProperty].Column)+" IS NULL")
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))

		rows, err := conn.Query(ctx, sb.String(), args...)
		if err != nil {
			return core.WrapError(core.KindInternal, err, "read %s: include %s", e.Name, rel.Name)
		}
		grouped := make(map[interface{}][]map[string]interface{})
		totalCols := len(relCols) + 1
		for rows.Next() {
			dest := make([]interface{}, totalCols)
			ptrs := make([]interface{}, totalCols)
			for i := range dest {
				ptrs[i] = &dest[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return core.WrapError(core.KindInternal, err, "read %s: include %s: scan row", e.Name, rel.Name)
			}
			child := make(map[string]interface{}, len(relCols))
			for i, p := range relCols {
				child[p.Name] = dest[i]
			}
			key := dest[len(relCols)]
			grouped[key] = append(grouped[key], child)
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return core.WrapError(core.KindInternal, rowsErr, "read %s: include %s: iterate rows", e.Name, rel.Name)
		}

		for _, row := range results {
			if children, ok := grouped[row[parentProp.Name]]; ok {
				row[rel.Name] = children
			}
		}
	}
	return nil
}

// resolveIncludedEntity looks up an included relation's target entity,
// resolves the caller's read permission verdict against it (the same rule
// that governs a direct read of that entity governs it as an association),
// and projects its permitted columns.
func resolveIncludedEntity(registry *model.Registry, resolver *access.Resolver, rel *model.RelationDescriptor, claims core.Claims) (*model.Entity, access.EffectiveRule, []*model.PropertyDescriptor, error) {
	other, err := registry.Get(rel.ReferencedEntity)
	if err != nil {
		return nil, access.EffectiveRule{}, nil, err
	}
	verdict, err := resolver.Resolve(rel.ReferencedEntity, core.ActionRead, claims)
	if err != nil {
		return nil, access.EffectiveRule{}, nil, err
	}
	if !verdict.Allowed {
		return nil, access.EffectiveRule{}, nil, core.NewError(core.KindForbidden, "not authorized to read %s via %q", rel.ReferencedEntity, rel.Name)
	}
	cols, err := selectableColumns(other, verdict, nil)
	if err != nil {
		return nil, access.EffectiveRule{}, nil, err
	}
	return other, verdict, cols, nil
}

func splitIncludedRelations(e *model.Entity, names []string) (objects, arrays []*model.RelationDescriptor, err error) {
	for _, name := range names {
		rel, ok := e.Relation(name)
		if !ok {
			return nil, nil, core.NewError(core.KindBadRequest, "unknown relation %q in __include", name)
		}
		if rel.Cardinality == model.CardinalityObject {
			objects = append(objects, rel)
		} else {
			arrays = append(arrays, rel)
		}
	}
	return objects, arrays, nil
}

func selectableColumns(e *model.Entity, verdict access.EffectiveRule, requested []string) ([]*model.PropertyDescriptor, error) {
	wanted := requested
	if len(wanted) == 0 {
		wanted = sortedPropertyNames(e)
	}
	var cols []*model.PropertyDescriptor
	for _, name := range wanted {
		prop, ok := e.Property(name)
		if !ok {
			return nil, core.NewError(core.KindBadRequest, "unknown property %q in __properties", name)
		}
		if !verdict.AllowsProperty(name) {
			continue
		}
		cols = append(cols, prop)
	}
	if len(cols) == 0 {
		return nil, core.NewError(core.KindForbidden, "no readable properties on %s", e.Name)
	}
	return cols, nil
}

func sortedPropertyNames(e *model.Entity) []string {
	names := make([]string, 0, len(e.Properties))
	for name := range e.Properties {
		names = append(names, name)
	}
	// A stable order keeps generated SQL (and therefore logs and test
	// fixtures) deterministic across runs.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// parseMetadata interprets an Operation's metadata_params, the "__"-prefixed
// keys the Request Adapter segregated from query_params (spec §4.3,
// §4.4.1): __properties (projection override), __include (association
// names), __sort, __limit, __offset, and __include_deleted.
func parseMetadata(params map[string]interface{}) (properties, include []string, sortTerms []sortTerm, limit, offset int, includeDeleted bool, err error) {
	limit = defaultLimit
	for key, raw := range params {
		value := metadataString(raw)
		switch key {
		case "__properties":
			properties = splitNonEmpty(value)
		case "__include":
			include = splitNonEmpty(value)
		case "__sort":
			for _, term := range splitNonEmpty(value) {
				parts := strings.SplitN(term, ":", 2)
				dir := "asc"
				if len(parts) == 2 {
					dir = parts[1]
				}
				if dir != "asc" && dir != "desc" {
					return nil, nil, nil, 0, 0, false, core.NewError(core.KindBadRequest, "__sort direction must be asc or desc, got %q", dir)
				}
				sortTerms = append(sortTerms, sortTerm{property: parts[0], direction: dir})
			}
		case "__limit":
			limit, err = strconv.Atoi(value)
			if err != nil || limit < 1 || limit > maxLimit {
				return nil, nil, nil, 0, 0, false, core.NewError(core.KindBadRequest, "__limit must be between 1 and %d", maxLimit)
			}
		case "__offset":
			offset, err = strconv.Atoi(value)
			if err != nil || offset < 0 {
				return nil, nil, nil, 0, 0, false, core.NewError(core.KindBadRequest, "__offset must be non-negative")
			}
		case includeDeletedParam:
			includeDeleted, err = strconv.ParseBool(value)
			if err != nil {
				return nil, nil, nil, 0, 0, false, core.NewError(core.KindBadRequest, "%s must be a boolean", includeDeletedParam)
			}
		default:
			return nil, nil, nil, 0, 0, false, core.NewError(core.KindBadRequest, "unknown metadata parameter %q", key)
		}
	}
	return properties, include, sortTerms, limit, offset, includeDeleted, nil
}

// metadataString reads a metadata_params value. The Request Adapter always
// populates it from a query-string, so every value is a string; batch
// requests built by hand could in principle supply a non-string, which has
// no meaningful textual form here.
func metadataString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func renderOrderBy(e *model.Entity, terms []sortTerm, dial dialect.Dialect) (string, error) {
	if len(terms) == 0 {
		return "", nil
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		prop, ok := e.Property(t.property)
		if !ok {
			return "", core.NewError(core.KindBadRequest, "unknown __sort property %q", t.property)
		}
		parts[i] = dial.QuoteIdent(prop.Column) + " " + strings.ToUpper(t.direction)
	}
	return strings.Join(parts, ", "), nil
}

// renumber rewrites a "?"-placeholder fragment produced by the permission
// resolver into dial's placeholder style, continuing the numbering from next,
// and returns the fragment's new trailing placeholder index.
func renumber(sql string, args []interface{}, dial dialect.Dialect, next int) (string, []interface{}, int) {
	var sb strings.Builder
	idx := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] == '?' {
			sb.WriteString(dial.Placeholder(next + idx))
			idx++
			continue
		}
		sb.WriteByte(sql[i])
	}
	return sb.String(), args, next + idx
}
