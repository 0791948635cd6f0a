package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/model"
)

func TestBindPathIDResolvesActualPrimaryKeyName(t *testing.T) {
	registry := model.NewRegistry()
	require.NoError(t, registry.Load(&model.Document{
		Entities: map[string]model.EntityDocument{
			"customer": {
				Table:      "customers",
				PrimaryKey: "customer_id",
				Properties: map[string]model.PropertyDocument{
					"customer_id": {Type: "uuid", Key: true},
				},
			},
		},
	}))

	p := &Pipeline{registry: registry}
	op := &core.Operation{Entity: "customer", QueryParams: map[string]string{"__path_id": "42"}}
	require.NoError(t, p.bindPathID(op))

	assert.Equal(t, "42", op.QueryParams["customer_id"])
	_, stillPresent := op.QueryParams["__path_id"]
	assert.False(t, stillPresent)
}

func TestBindPathIDNoopWithoutPathID(t *testing.T) {
	p := &Pipeline{}
	op := &core.Operation{Entity: "customer", QueryParams: map[string]string{}}
	require.NoError(t, p.bindPathID(op))
}

func TestSingleResultBodyForRead(t *testing.T) {
	body := singleResultBody(core.ActionRead, &core.OperationRecord{Data: []map[string]interface{}{{"id": "1"}}})
	assert.Equal(t, []map[string]interface{}{{"id": "1"}}, body)
}

func TestSingleResultBodyForCreateUnwrapsSingleRow(t *testing.T) {
	body := singleResultBody(core.ActionCreate, &core.OperationRecord{Data: []map[string]interface{}{{"id": "1"}}})
	assert.Equal(t, map[string]interface{}{"id": "1"}, body)
}

func TestSingleResultBodyForDelete(t *testing.T) {
	body := singleResultBody(core.ActionDelete, &core.OperationRecord{Data: []map[string]interface{}{{"deleted": int64(1)}}})
	assert.Equal(t, map[string]interface{}{"deleted": int64(1)}, body)
}
