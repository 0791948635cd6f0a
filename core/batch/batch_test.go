package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/notify"
)

// fakeTx is an in-memory stand-in for *csql.Tx, grounded on the teacher's
// pattern of testing SQL-adjacent code against the narrowest interface it
// consumes rather than a real database (core/csql's Connection interface
// exists for exactly this reason).
type fakeTx struct {
	committed, rolledBack bool
}

func (f *fakeTx) Query(context.Context, string, ...interface{}) (csql.Rows, error)   { return nil, nil }
func (f *fakeTx) QueryRow(context.Context, string, ...interface{}) csql.Row          { return nil }
func (f *fakeTx) Exec(context.Context, string, ...interface{}) (csql.Result, error)  { return nil, nil }
func (f *fakeTx) Commit() error                                                      { f.committed = true; return nil }
func (f *fakeTx) Rollback() error                                                    { f.rolledBack = true; return nil }

type fakeDB struct {
	tx *fakeTx
}

func (d *fakeDB) Begin(context.Context) (Tx, error) {
	d.tx = &fakeTx{}
	return d.tx, nil
}

// fakeExecutor records every operation it is asked to run and returns a
// scripted result or error per entity name.
type fakeExecutor struct {
	fail map[string]bool
	runs []core.Operation
}

func (f *fakeExecutor) Execute(_ context.Context, _ csql.Connection, op core.Operation) (*core.OperationRecord, error) {
	f.runs = append(f.runs, op)
	if f.fail[op.Entity] {
		return nil, core.NewError(core.KindBadRequest, "simulated failure for %s", op.Entity)
	}
	row := map[string]interface{}{"id": "generated-" + op.Entity}
	return &core.OperationRecord{Status: core.StatusCompleted, Data: []map[string]interface{}{row}}, nil
}

func TestOrchestratorRunsOperationsInDependencyOrder(t *testing.T) {
	db := &fakeDB{}
	exec := &fakeExecutor{fail: map[string]bool{}}
	orch := New(db, exec, notify.NopNotifier{})

	req := core.BatchRequest{
		Operations: []core.OperationSpec{
			{ID: "create_order", Entity: "order", Action: core.ActionCreate, StoreParams: map[string]interface{}{
				"customer_id": "$ref:create_customer.id",
			}},
			{ID: "create_customer", Entity: "customer", Action: core.ActionCreate},
		},
		Options: core.BatchOptions{Atomic: true},
	}

	result, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, exec.runs, 2)
	assert.Equal(t, "customer", exec.runs[0].Entity, "create_customer has no deps and must run before create_order")
	assert.Equal(t, "generated-customer", exec.runs[1].StoreParams["customer_id"])
	assert.True(t, db.tx.committed)
}

func TestOrchestratorResolvesReferencesInQueryParams(t *testing.T) {
	db := &fakeDB{}
	exec := &fakeExecutor{fail: map[string]bool{}}
	orch := New(db, exec, notify.NopNotifier{})

	req := core.BatchRequest{
		Operations: []core.OperationSpec{
			{ID: "update_order", Entity: "order", Action: core.ActionUpdate,
				QueryParams: map[string]string{"customer_id": "$ref:create_customer.id"},
				StoreParams: map[string]interface{}{"status": "shipped"},
			},
			{ID: "create_customer", Entity: "customer", Action: core.ActionCreate},
		},
		Options: core.BatchOptions{Atomic: true},
	}

	result, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, exec.runs, 2)
	assert.Equal(t, "customer", exec.runs[0].Entity, "create_customer has no deps and must run before update_order")
	assert.Equal(t, "generated-customer", exec.runs[1].QueryParams["customer_id"])
}

func TestOrchestratorAtomicRollsBackOnFailure(t *testing.T) {
	db := &fakeDB{}
	exec := &fakeExecutor{fail: map[string]bool{"customer": true}}
	orch := New(db, exec, notify.NopNotifier{})

	req := core.BatchRequest{
		Operations: []core.OperationSpec{
			{ID: "a", Entity: "customer", Action: core.ActionCreate},
			{ID: "b", Entity: "order", Action: core.ActionCreate},
		},
		Options: core.BatchOptions{Atomic: true},
	}

	result, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, db.tx.rolledBack)
	assert.False(t, db.tx.committed)
}

func TestOrchestratorAtomicContinueOnErrorStillRunsIndependentOpsThenRollsBackAll(t *testing.T) {
	db := &fakeDB{}
	exec := &fakeExecutor{fail: map[string]bool{"customer": true}}
	orch := New(db, exec, notify.NopNotifier{})

	req := core.BatchRequest{
		Operations: []core.OperationSpec{
			{ID: "a", Entity: "customer", Action: core.ActionCreate},
			{ID: "b", Entity: "order", Action: core.ActionCreate},
		},
		Options: core.BatchOptions{Atomic: true, ContinueOnError: true},
	}

	result, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.StatusFailed, result.Results["a"].Status)
	assert.Equal(t, core.StatusCompleted, result.Results["b"].Status, "b is independent of a and must still run under continue_on_error")
	assert.True(t, db.tx.rolledBack, "atomic still rolls back the whole batch once any operation failed")
	assert.False(t, db.tx.committed)
}

func TestOrchestratorContinueOnErrorSkipsDependents(t *testing.T) {
	db := &fakeDB{}
	exec := &fakeExecutor{fail: map[string]bool{"customer": true}}
	orch := New(db, exec, notify.NopNotifier{})

	req := core.BatchRequest{
		Operations: []core.OperationSpec{
			{ID: "a", Entity: "customer", Action: core.ActionCreate},
			{ID: "b", Entity: "order", Action: core.ActionCreate, DependsOn: []string{"a"}},
			{ID: "c", Entity: "invoice", Action: core.ActionCreate},
		},
		Options: core.BatchOptions{Atomic: false, ContinueOnError: true},
	}

	result, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.StatusFailed, result.Results["a"].Status)
	assert.Equal(t, core.StatusSkipped, result.Results["b"].Status)
	assert.Equal(t, core.StatusCompleted, result.Results["c"].Status)
	assert.True(t, db.tx.committed)
}

func TestOrchestratorRejectsBatchOverMaxSize(t *testing.T) {
	db := &fakeDB{}
	exec := &fakeExecutor{fail: map[string]bool{}}
	orch := New(db, exec, notify.NopNotifier{})

	ops := make([]core.OperationSpec, core.MaxBatchSize+1)
	for i := range ops {
		ops[i] = core.OperationSpec{Entity: "widget", Action: core.ActionRead}
	}
	_, err := orch.Run(context.Background(), core.BatchRequest{Operations: ops})
	require.Error(t, err)
}

func TestPlanDefaultsOperationIDs(t *testing.T) {
	ordered, err := plan([]core.OperationSpec{
		{Entity: "a", Action: core.ActionRead},
		{Entity: "b", Action: core.ActionRead},
	})
	require.NoError(t, err)
	assert.Equal(t, "op_0", ordered[0].spec.ID)
	assert.Equal(t, "op_1", ordered[1].spec.ID)
}

func TestPlanDetectsDependencyCycle(t *testing.T) {
	_, err := plan([]core.OperationSpec{
		{ID: "a", Entity: "a", Action: core.ActionRead, DependsOn: []string{"b"}},
		{ID: "b", Entity: "b", Action: core.ActionRead, DependsOn: []string{"a"}},
	})
	require.Error(t, err)
}

func TestPlanRejectsUnknownDependency(t *testing.T) {
	_, err := plan([]core.OperationSpec{
		{ID: "a", Entity: "a", Action: core.ActionRead, DependsOn: []string{"ghost"}},
	})
	require.Error(t, err)
}

func TestResolveParamsSubstitutesReference(t *testing.T) {
	results := map[string]*core.OperationRecord{
		"create_customer": {Status: core.StatusCompleted, Data: []map[string]interface{}{{"id": "abc-123"}}},
	}
	resolved, err := resolveParams(map[string]interface{}{"customer_id": "$ref:create_customer.id"}, results)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resolved["customer_id"])
}

func TestResolveParamsRejectsDanglingReference(t *testing.T) {
	results := map[string]*core.OperationRecord{}
	_, err := resolveParams(map[string]interface{}{"customer_id": "$ref:missing.id"}, results)
	require.Error(t, err)
}

func TestResolveQueryParamsSubstitutesReference(t *testing.T) {
	results := map[string]*core.OperationRecord{
		"create_customer": {Status: core.StatusCompleted, Data: []map[string]interface{}{{"id": "abc-123"}}},
	}
	resolved, err := resolveQueryParams(map[string]string{"customer_id": "$ref:create_customer.id"}, results)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resolved["customer_id"])
}

func TestResolveQueryParamsLeavesLiteralValuesUnchanged(t *testing.T) {
	resolved, err := resolveQueryParams(map[string]string{"status": "eq::active"}, map[string]*core.OperationRecord{})
	require.NoError(t, err)
	assert.Equal(t, "eq::active", resolved["status"])
}

func TestResolveQueryParamsRejectsDanglingReference(t *testing.T) {
	results := map[string]*core.OperationRecord{}
	_, err := resolveQueryParams(map[string]string{"customer_id": "$ref:missing.id"}, results)
	require.Error(t, err)
}
