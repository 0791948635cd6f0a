// Package batch is the Batch Orchestrator: it plans a batch of operations
// into dependency order, resolves $ref tokens against already-completed
// operations' results, and runs the whole batch inside one transaction with
// atomic or continue-on-error semantics (spec §3, §4.6, §4.7, §4.8). It is
// grounded on the teacher's txJob/commitWithNotification shape
// (core/backend/jobs.go) and the begin-exec-commit-or-rollback pattern in
// createCollectionResource (core/backend/collection.go).
package batch

import (
	"context"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/dao"
	"github.com/apifoundry/gateway/core/logger"
	"github.com/apifoundry/gateway/core/notify"
)

// Tx is a transaction-scoped connection that can be committed or rolled
// back. *csql.Tx satisfies it.
type Tx interface {
	csql.Connection
	Commit() error
	Rollback() error
}

// DB is the narrow capability the orchestrator needs to open a transaction.
// *csql.DB does not satisfy this directly (its Begin returns the concrete
// *csql.Tx); the wiring layer (core/service) adapts it with a one-line
// wrapper so this package stays decoupled from the concrete driver type and
// is therefore trivial to exercise against a fake in tests.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
}

// Orchestrator runs BatchRequests against a DAO inside a single transaction.
type Orchestrator struct {
	db       DB
	executor dao.OperationExecutor
	notifier notify.Notifier
}

// New builds an Orchestrator. notifier may be notify.NopNotifier{} when no
// ambient change notification is configured.
func New(db DB, executor dao.OperationExecutor, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{db: db, executor: executor, notifier: notifier}
}

// Run executes req and returns its BatchResult (spec §4.8). MaxBatchSize is
// enforced before anything else so an oversized batch never even opens a
// transaction (spec §8: "batch of 101 fails").
func (o *Orchestrator) Run(ctx context.Context, req core.BatchRequest) (*core.BatchResult, error) {
	if len(req.Operations) == 0 {
		return nil, core.NewError(core.KindBadRequest, "batch must contain at least one operation")
	}
	if len(req.Operations) > core.MaxBatchSize {
		return nil, core.NewError(core.KindBadRequest, "batch exceeds the maximum of %d operations", core.MaxBatchSize)
	}

	ordered, err := plan(req.Operations)
	if err != nil {
		return nil, err
	}

	tx, err := o.db.Begin(ctx)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "batch: begin transaction")
	}

	result := &core.BatchResult{Results: make(map[string]*core.OperationRecord, len(ordered))}
	skipped := make(map[string]bool)

	for _, planned := range ordered {
		spec := planned.spec
		opCtx, _ := logger.ContextWithOperationID(ctx, spec.ID)

		if skippedDependency := firstSkippedDependency(planned.deps, skipped); skippedDependency != "" {
			record := &core.OperationRecord{Status: core.StatusSkipped, Reason: "dependency " + skippedDependency + " did not complete"}
			result.Results[spec.ID] = record
			skipped[spec.ID] = true
			result.FailedOperations = append(result.FailedOperations, spec.ID)
			continue
		}

		record, failErr := o.runOne(opCtx, tx, spec, result.Results)
		result.Results[spec.ID] = record
		if failErr != nil {
			result.FailedOperations = append(result.FailedOperations, spec.ID)
			skipped[spec.ID] = true
			// A batch aborts on the first failure only when it is atomic and
			// not configured to continue on error; otherwise later,
			// independent operations still run (spec §4.8 step 2, §5).
			if req.Options.Atomic && !req.Options.ContinueOnError {
				_ = tx.Rollback()
				result.Success = false
				return result, nil
			}
		}
	}

	if len(result.FailedOperations) > 0 && req.Options.Atomic {
		_ = tx.Rollback()
		result.Success = false
		return result, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, core.WrapError(core.KindInternal, err, "batch: commit transaction")
	}

	result.Success = len(result.FailedOperations) == 0
	o.publishNotifications(ctx, ordered, result)
	return result, nil
}

func firstSkippedDependency(deps []string, skipped map[string]bool) string {
	for _, dep := range deps {
		if skipped[dep] {
			return dep
		}
	}
	return ""
}

func (o *Orchestrator) runOne(ctx context.Context, conn csql.Connection, spec core.OperationSpec, priorResults map[string]*core.OperationRecord) (*core.OperationRecord, error) {
	storeParams, err := resolveParams(spec.StoreParams, priorResults)
	if err != nil {
		return &core.OperationRecord{Status: core.StatusFailed, Error: err.Error(), StatusCode: core.AsApplicationError(err).StatusCode()}, err
	}
	queryParams, err := resolveQueryParams(spec.QueryParams, priorResults)
	if err != nil {
		return &core.OperationRecord{Status: core.StatusFailed, Error: err.Error(), StatusCode: core.AsApplicationError(err).StatusCode()}, err
	}

	claims := core.Claims{}
	if spec.Claims != nil {
		claims = *spec.Claims
	}

	op := core.Operation{
		Entity:         spec.Entity,
		Action:         spec.Action,
		QueryParams:    queryParams,
		StoreParams:    storeParams,
		MetadataParams: spec.MetadataParams,
		Claims:         claims,
	}

	record, err := o.executor.Execute(ctx, conn, op)
	if err != nil {
		appErr := core.AsApplicationError(err)
		logger.FromContext(ctx).WithError(err).Warnf("batch operation %s failed", spec.ID)
		return &core.OperationRecord{Status: core.StatusFailed, Error: appErr.Message, StatusCode: appErr.StatusCode()}, err
	}
	return record, nil
}

func (o *Orchestrator) publishNotifications(ctx context.Context, ordered []plannedOperation, result *core.BatchResult) {
	for _, planned := range ordered {
		record, ok := result.Results[planned.spec.ID]
		if !ok || record.Status != core.StatusCompleted {
			continue
		}
		if planned.spec.Action == core.ActionRead || planned.spec.Action == core.ActionCustom {
			continue
		}
		o.notifier.Notify(ctx, planned.spec.Entity, planned.spec.Action, nil)
	}
}
