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

// Create executes the Create Handler: it validates the store params against
// the permission resolver's verdict and the entity's required/typed
// properties, generates the primary key and concurrency value according to
// their declared strategies, inserts the row, then re-reads it by primary key
// so the response always reflects exactly what was persisted (spec §4.4.2).
// It is grounded on the teacher's create closure in createCollectionResource
// (core/backend/collection.go).
func Create(ctx context.Context, conn csql.Connection, dial dialect.Dialect, registry *model.Registry, resolver *access.Resolver, validator *model.Validator, e *model.Entity, verdict access.EffectiveRule, op core.Operation) (map[string]interface{}, error) {
	if !verdict.Allowed {
		return nil, core.NewError(core.KindForbidden, "not authorized to create %s", e.Name)
	}

	if err := validateBody(validator, e, op.StoreParams); err != nil {
		return nil, err
	}

	values := make(map[string]interface{}, len(op.StoreParams))
	for name, v := range op.StoreParams {
		if _, ok := e.Property(name); !ok {
			return nil, core.NewError(core.KindBadRequest, "unknown property %q", name)
		}
		if !verdict.AllowsProperty(name) {
			return nil, core.NewError(core.KindForbidden, "not authorized to set property %q", name)
		}
		values[name] = v
	}

	pk := e.Properties[e.PrimaryKey]
	switch e.PrimaryKeyStrategy {
	case model.KeyUUID:
		if _, provided := values[e.PrimaryKey]; !provided {
			values[e.PrimaryKey] = uuid.New().String()
		}
	case model.KeyManual:
		if _, provided := values[e.PrimaryKey]; !provided {
			return nil, core.NewError(core.KindBadRequest, "property %q is required", e.PrimaryKey)
		}
	case model.KeyAuto, model.KeySequence:
		delete(values, e.PrimaryKey)
	}
	_ = pk

	if e.ConcurrencyProperty != "" {
		cp := e.Properties[e.ConcurrencyProperty]
		switch cp.ConcurrencyOf {
		case model.ConcurrencyUUID:
			values[e.ConcurrencyProperty] = uuid.New().String()
		case model.ConcurrencyTimestamp:
			values[e.ConcurrencyProperty] = time.Now().UTC()
		}
	}

	for name, prop := range e.Properties {
		if name == e.PrimaryKey || name == e.ConcurrencyProperty {
			continue
		}
		if prop.Required {
			if _, ok := values[name]; !ok {
				return nil, core.NewError(core.KindBadRequest, "property %q is required", name)
			}
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}

	columns := make([]string, len(names))
	placeholders := make([]string, len(names))
	args := make([]interface{}, len(names))
	for i, name := range names {
		columns[i] = dial.QuoteIdent(e.Properties[name].Column)
		placeholders[i] = dial.Placeholder(i + 1)
		args[i] = values[name]
	}

	sqlStmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", dial.QuoteIdent(e.Table), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if e.PrimaryKeyStrategy == model.KeyAuto || e.PrimaryKeyStrategy == model.KeySequence {
		// The database generates the key; read it back with a RETURNING clause.
		var generated interface{}
		if err := conn.QueryRow(ctx, sqlStmt+" RETURNING "+dial.QuoteIdent(pk.Column), args...).Scan(&generated); err != nil {
			return nil, classifyWriteError(err, e)
		}
		values[e.PrimaryKey] = generated
	} else if _, err := conn.Exec(ctx, sqlStmt, args...); err != nil {
		return nil, classifyWriteError(err, e)
	}

	keyValue, ok := values[e.PrimaryKey]
	if !ok {
		return nil, core.NewError(core.KindInternal, "create %s: primary key %q was not resolved before insert", e.Name, e.PrimaryKey)
	}
	row, err := fetchByKey(ctx, conn, dial, registry, resolver, e, verdict, keyValue)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// validateBody checks body against the entity's declared JSON Schema, if
// any (spec §4.4.2, §4.4.3: "a body that fails schema validation is
// rejected before any property or required-field check runs"). An entity
// with no SchemaID skips validation entirely.
func validateBody(validator *model.Validator, e *model.Entity, body map[string]interface{}) error {
	if e.SchemaID == "" {
		return nil
	}
	if validator == nil || !validator.HasSchema(e.SchemaID) {
		return core.NewError(core.KindSpecError, "%s declares schema_id %q but no such schema is registered", e.Name, e.SchemaID)
	}
	return validator.ValidateStruct(body, e.SchemaID)
}

// fetchByKey re-reads a single row by primary key, trimmed to the
// properties verdict permits, the same shape a Read Handler call would
// return for a single-row filter on the primary key (spec §4.4.2, §4.4.3:
// create and update responses are a full re-read, never an echo of the
// request body).
func fetchByKey(ctx context.Context, conn csql.Connection, dial dialect.Dialect, registry *model.Registry, resolver *access.Resolver, e *model.Entity, verdict access.EffectiveRule, key interface{}) (map[string]interface{}, error) {
	op := core.Operation{
		Entity: e.Name,
		Action: core.ActionRead,
		QueryParams: map[string]string{
			e.PrimaryKey: fmt.Sprintf("%v", key),
		},
		MetadataParams: map[string]interface{}{
			includeDeletedParam: "true",
		},
	}
	rows, err := Read(ctx, conn, dial, registry, resolver, e, verdict, op)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, core.NewError(core.KindNotFound, "%s %v not found after write", e.Name, key)
	}
	return rows[0], nil
}

// classifyWriteError turns a driver error into the right ApplicationError
// kind, grounded on the teacher's pq.Error code classification in
// createCollectionResource (core/backend/collection.go: "22P02" invalid text
// representation becomes a 400, a unique-violation becomes a 409).
func classifyWriteError(err error, e *model.Entity) error {
	if pqErr, ok := asPQError(err); ok {
		switch pqErr.Code {
		case "22P02", "23502": // invalid_text_representation, not_null_violation
			return core.WrapError(core.KindBadRequest, err, "%s: invalid value", e.Name)
		case "23505": // unique_violation
			return core.WrapError(core.KindConflict, err, "%s: duplicate value", e.Name)
		case "23503": // foreign_key_violation
			return core.WrapError(core.KindBadRequest, err, "%s: references a row that does not exist", e.Name)
		}
	}
	return core.WrapError(core.KindInternal, err, "%s: write failed", e.Name)
}
