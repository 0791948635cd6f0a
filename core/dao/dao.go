// Package dao is the Operation DAO: the single place that turns a canonical
// core.Operation into a concrete SQL handler call, resolving the entity and
// the caller's effective permission verdict first (spec §4.5). It is
// grounded on the teacher's createCollectionResource dispatch
// (core/backend/collection.go), which likewise resolves one route's
// configuration once and then dispatches per HTTP method.
package dao

import (
	"context"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/handlers"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
)

// OperationExecutor is the narrow surface the batch orchestrator depends on.
// core/batch imports core/dao only for this one-method interface and never
// uses the concrete *DAO; core/dao never imports core/batch, so no import
// cycle arises. The teacher avoided the same dependency-direction problem by
// deferring its jobs-package import (core/backend/jobs.go) — here it is
// solved with an interface instead of an import-order trick (spec §9
// "deferred import for batch dispatch").
type OperationExecutor interface {
	Execute(ctx context.Context, conn csql.Connection, op core.Operation) (*core.OperationRecord, error)
}

// DAO dispatches a core.Operation to the right SQL handler for its action,
// after resolving the target entity and the caller's permission verdict.
type DAO struct {
	registry  *model.Registry
	resolver  *access.Resolver
	dialect   dialect.Dialect
	validator *model.Validator
}

// New builds a DAO targeting dial's SQL dialect, consulting registry for
// entity metadata and resolver for the permission verdict on every call.
// validator may be nil, in which case any entity that declares a schema_id
// fails every create/update with a spec error rather than silently skipping
// validation.
func New(registry *model.Registry, resolver *access.Resolver, dial dialect.Dialect, validator *model.Validator) *DAO {
	return &DAO{registry: registry, resolver: resolver, dialect: dial, validator: validator}
}

// Execute implements OperationExecutor. conn is the transaction-scoped
// connection the caller (core/service or core/batch) opened; the DAO never
// opens or closes a transaction itself (spec §4.5: "the DAO is stateless
// with respect to transactions").
func (d *DAO) Execute(ctx context.Context, conn csql.Connection, op core.Operation) (*core.OperationRecord, error) {
	if op.Action == core.ActionCustom {
		rows, err := handlers.Custom(ctx, conn, d.dialect, d.registry, op)
		if err != nil {
			return nil, err
		}
		return &core.OperationRecord{Status: core.StatusCompleted, Data: rows}, nil
	}

	entity, err := d.registry.Get(op.Entity)
	if err != nil {
		return nil, err
	}
	verdict, err := d.resolver.Resolve(op.Entity, op.Action, op.Claims)
	if err != nil {
		return nil, err
	}

	switch op.Action {
	case core.ActionRead:
		rows, err := handlers.Read(ctx, conn, d.dialect, d.registry, d.resolver, entity, verdict, op)
		if err != nil {
			return nil, err
		}
		return &core.OperationRecord{Status: core.StatusCompleted, Data: rows}, nil

	case core.ActionCreate:
		row, err := handlers.Create(ctx, conn, d.dialect, d.registry, d.resolver, d.validator, entity, verdict, op)
		if err != nil {
			return nil, err
		}
		return &core.OperationRecord{Status: core.StatusCompleted, Data: []map[string]interface{}{row}}, nil

	case core.ActionUpdate:
		row, err := handlers.Update(ctx, conn, d.dialect, d.registry, d.resolver, d.validator, entity, verdict, op)
		if err != nil {
			return nil, err
		}
		return &core.OperationRecord{Status: core.StatusCompleted, Data: []map[string]interface{}{row}}, nil

	case core.ActionDelete:
		deleted, err := handlers.Delete(ctx, conn, d.dialect, entity, verdict, op)
		if err != nil {
			return nil, err
		}
		return &core.OperationRecord{Status: core.StatusCompleted, Data: []map[string]interface{}{{"deleted": deleted}}}, nil

	default:
		return nil, core.NewError(core.KindBadRequest, "unsupported action %q", op.Action)
	}
}
