// Package service wires the Request Adapter, the Operation DAO and the
// Batch Orchestrator around a single *csql.DB into the Service Pipeline
// (spec §3, §9). It is grounded on the teacher's services/basic/basic.go,
// which performs the analogous wiring (envdecode config -> csql.OpenWithSchema
// -> mux.Router -> backend.MustNew); here the endpoint is a single Lambda
// handler function instead of a router, since the spec's outward surface is
// one API Gateway Lambda-proxy integration, not a set of routed handlers.
package service

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/adapter"
	"github.com/apifoundry/gateway/core/batch"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/dao"
	"github.com/apifoundry/gateway/core/logger"
	"github.com/apifoundry/gateway/core/model"
	"github.com/apifoundry/gateway/core/notify"
)

// txDB adapts *csql.DB's concrete *csql.Tx return into the batch.Tx
// interface the orchestrator depends on, so core/batch never imports the
// concrete csql package for anything beyond the Connection/Rows/Result
// interfaces it already consumes.
type txDB struct {
	db *csql.DB
}

func (t txDB) Begin(ctx context.Context) (batch.Tx, error) {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Pipeline is the Service Pipeline: the single entry point a Lambda
// handler (or a local HTTP dev shim) calls for every request.
type Pipeline struct {
	registry     *model.Registry
	dao          *dao.DAO
	orchestrator *batch.Orchestrator
	db           *csql.DB
}

// New builds a Pipeline. notifier may be notify.NopNotifier{} when ambient
// change notification is not configured.
func New(registry *model.Registry, d *dao.DAO, db *csql.DB, notifier notify.Notifier) *Pipeline {
	return &Pipeline{
		registry:     registry,
		dao:          d,
		orchestrator: batch.New(txDB{db: db}, d, notifier),
		db:           db,
	}
}

// Handle runs exactly one request end to end: adapt, resolve the entity's
// primary key onto the path id, open a transaction, dispatch, commit or
// roll back, marshal the response. It never lets a panic inside a handler
// escape as a crashed Lambda invocation; AsApplicationError is the last line
// of defense converting anything unexpected into a generic InternalError
// (spec §7).
func (p *Pipeline) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse) {
	ctx, log := logger.ContextWithLogger(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while handling request: %v", r)
			resp = adapter.Marshal(nil, core.NewError(core.KindInternal, "internal error"))
		}
	}()

	if adapter.IsBatchRequest(req) {
		return p.handleBatch(ctx, req)
	}

	op, err := adapter.Unmarshal(req)
	if err != nil {
		return adapter.Marshal(nil, err)
	}

	if op.Action != core.ActionCustom {
		if err := p.bindPathID(op); err != nil {
			return adapter.Marshal(nil, err)
		}
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		log.WithError(err).Error("cannot open transaction")
		return adapter.Marshal(nil, core.WrapError(core.KindInternal, err, "cannot open transaction"))
	}

	record, err := p.dao.Execute(ctx, tx, *op)
	if err != nil {
		_ = tx.Rollback()
		return adapter.Marshal(nil, err)
	}
	if err := tx.Commit(); err != nil {
		return adapter.Marshal(nil, core.WrapError(core.KindInternal, err, "cannot commit transaction"))
	}

	return adapter.Marshal(singleResultBody(op.Action, record), nil)
}

func singleResultBody(action core.Action, record *core.OperationRecord) interface{} {
	if action == core.ActionRead || action == core.ActionCustom {
		return record.Data
	}
	// Create/Update return the single written row; Delete returns its single
	// {deleted: <count>} row (spec §4.4.4).
	if len(record.Data) == 1 {
		return record.Data[0]
	}
	return record.Data
}

func (p *Pipeline) bindPathID(op *core.Operation) error {
	pathID, ok := op.QueryParams["__path_id"]
	if !ok {
		return nil
	}
	delete(op.QueryParams, "__path_id")
	entity, err := p.registry.Get(op.Entity)
	if err != nil {
		return err
	}
	op.QueryParams[entity.PrimaryKey] = pathID
	return nil
}

func (p *Pipeline) handleBatch(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	batchReq, _, err := adapter.UnmarshalBatch(req)
	if err != nil {
		return adapter.Marshal(nil, err)
	}
	result, err := p.orchestrator.Run(ctx, *batchReq)
	if err != nil {
		return adapter.Marshal(nil, err)
	}
	statusCode := 200
	if !result.Success {
		statusCode = 207
	}
	return marshalBatchResult(result, statusCode)
}
