package dao

import (
	"context"
	"testing"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
)

// fakeRows is a scripted csql.Rows that hands back one row of column/value
// pairs, mirroring the table-driven fakes in core/batch/batch_test.go.
type fakeRows struct {
	cols []string
	rows [][]interface{}
	idx  int
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.idx-1]
	for i, v := range row {
		ptr := dest[i].(*interface{})
		*ptr = v
	}
	return nil
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }
func (r *fakeRows) Close() error               { return nil }
func (r *fakeRows) Err() error                 { return nil }

type fakeResult struct{ rowsAffected int64 }

func (r fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// fakeConn ignores the generated SQL text entirely and returns the same
// scripted rows/result for every call, which is enough to exercise the
// DAO's dispatch and the handlers' row-shaping without a real database.
type fakeConn struct {
	rows   *fakeRows
	result csql.Result
}

func (c *fakeConn) Query(ctx context.Context, query string, args ...interface{}) (csql.Rows, error) {
	c.rows.idx = 0
	return c.rows, nil
}

func (c *fakeConn) QueryRow(ctx context.Context, query string, args ...interface{}) csql.Row {
	return nil
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...interface{}) (csql.Result, error) {
	return c.result, nil
}

func testDocument() *model.Document {
	return &model.Document{
		Entities: map[string]model.EntityDocument{
			"widget": {
				Table:      "widgets",
				PrimaryKey: "id",
				Properties: map[string]model.PropertyDocument{
					"id":   {Type: "string", Column: "id"},
					"name": {Type: "string", Column: "name"},
				},
				Permissions: map[string]map[string]map[string]model.RuleDocument{
					model.DefaultProvider: {
						"read": {
							"admin": {Allow: boolPtr(true)},
						},
					},
				},
			},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func newTestDAO(t *testing.T) *DAO {
	t.Helper()
	registry := model.NewRegistry()
	if err := registry.Load(testDocument()); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	resolver := access.NewResolver(registry)
	dial, _ := dialect.ByName("postgres")
	return New(registry, resolver, dial, nil)
}

func TestExecuteReadDispatchesToReadHandlerAndShapesRows(t *testing.T) {
	d := newTestDAO(t)
	conn := &fakeConn{rows: &fakeRows{
		cols: []string{"id", "name"},
		rows: [][]interface{}{{"w1", "sprocket"}},
	}}

	op := core.Operation{
		Entity: "widget",
		Action: core.ActionRead,
		Claims: core.Claims{Roles: []string{"admin"}},
	}
	record, err := d.Execute(context.Background(), conn, op)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if record.Status != core.StatusCompleted {
		t.Fatalf("status = %v", record.Status)
	}
	if len(record.Data) != 1 || record.Data[0]["name"] != "sprocket" {
		t.Fatalf("unexpected data: %+v", record.Data)
	}
}

func TestExecuteDeniedByPermissionResolverReturnsForbidden(t *testing.T) {
	d := newTestDAO(t)
	conn := &fakeConn{rows: &fakeRows{cols: []string{"id", "name"}}}

	op := core.Operation{
		Entity: "widget",
		Action: core.ActionRead,
		Claims: core.Claims{Roles: []string{"stranger"}},
	}
	_, err := d.Execute(context.Background(), conn, op)
	appErr := core.AsApplicationError(err)
	if appErr.Kind != core.KindForbidden {
		t.Fatalf("kind = %v, want forbidden", appErr.Kind)
	}
}

func TestExecuteUnknownEntityPropagatesNotFound(t *testing.T) {
	d := newTestDAO(t)
	conn := &fakeConn{rows: &fakeRows{}}

	op := core.Operation{Entity: "does-not-exist", Action: core.ActionRead}
	_, err := d.Execute(context.Background(), conn, op)
	appErr := core.AsApplicationError(err)
	if appErr.Kind != core.KindNotFound {
		t.Fatalf("kind = %v, want not_found", appErr.Kind)
	}
}

func TestExecuteCustomDispatchesWithoutEntityResolution(t *testing.T) {
	registry := model.NewRegistry()
	doc := testDocument()
	doc.Custom = map[string]model.CustomQueryDocument{
		"widget_count": {SQL: "SELECT count(*) AS total FROM widgets", Roles: []string{"admin"}},
	}
	if err := registry.Load(doc); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	resolver := access.NewResolver(registry)
	dial, _ := dialect.ByName("postgres")
	d := New(registry, resolver, dial, nil)

	conn := &fakeConn{rows: &fakeRows{
		cols: []string{"total"},
		rows: [][]interface{}{{int64(3)}},
	}}

	op := core.Operation{
		Action:      core.ActionCustom,
		CustomSQLID: "widget_count",
		Claims:      core.Claims{Roles: []string{"admin"}},
	}
	record, err := d.Execute(context.Background(), conn, op)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(record.Data) != 1 || record.Data[0]["total"] != int64(3) {
		t.Fatalf("unexpected data: %+v", record.Data)
	}
}
