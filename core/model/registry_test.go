package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifoundry/gateway/core"
)

func sampleDocument() *Document {
	return &Document{
		Entities: map[string]EntityDocument{
			"customer": {
				Table:      "customers",
				PrimaryKey: "id",
				Properties: map[string]PropertyDocument{
					"id":   {Type: "uuid", Key: true},
					"name": {Type: "string", Required: true},
					"org":  {Type: "string"},
				},
				Permissions: PermissionDocument{
					DefaultProvider: {
						"read": {
							"admin":  RuleDocument{Properties: ".*"},
							"member": RuleDocument{Properties: "id|name", Where: "org = ${claims.org}"},
						},
						"delete": {
							"admin": RuleDocument{Allow: boolPtr(true)},
						},
					},
				},
			},
			"order": {
				Table:      "orders",
				PrimaryKey: "id",
				Properties: map[string]PropertyDocument{
					"id":          {Type: "uuid", Key: true},
					"customer_id": {Type: "uuid"},
				},
				Relations: map[string]RelationDocument{
					"customer": {Cardinality: "object", Entity: "customer", Parent: "customer_id"},
				},
			},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestRegistryLoadAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(sampleDocument()))

	customer, err := r.Get("customer")
	require.NoError(t, err)
	assert.Equal(t, "customers", customer.Table)
	assert.Equal(t, "id", customer.PrimaryKey)

	order, err := r.Get("order")
	require.NoError(t, err)
	rel, ok := order.Relation("customer")
	require.True(t, ok)
	assert.Equal(t, CardinalityObject, rel.Cardinality)
	assert.Equal(t, "customer", rel.ReferencedEntity)
}

func TestRegistryGetUnknownEntityIsNotFound(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(sampleDocument()))

	_, err := r.Get("widget")
	require.Error(t, err)
	appErr, ok := err.(*core.ApplicationError)
	require.True(t, ok)
	assert.Equal(t, core.KindNotFound, appErr.Kind)
}

func TestParseRejectsUnknownPrimaryKey(t *testing.T) {
	doc := &Document{
		Entities: map[string]EntityDocument{
			"widget": {
				Table:      "widgets",
				PrimaryKey: "missing",
				Properties: map[string]PropertyDocument{
					"id": {Type: "uuid"},
				},
			},
		},
	}
	_, _, err := Parse(doc)
	require.Error(t, err)
}

func TestParseRejectsRelationToUnknownEntity(t *testing.T) {
	doc := &Document{
		Entities: map[string]EntityDocument{
			"order": {
				Table:      "orders",
				PrimaryKey: "id",
				Properties: map[string]PropertyDocument{
					"id": {Type: "uuid", Key: true},
				},
				Relations: map[string]RelationDocument{
					"customer": {Cardinality: "object", Entity: "customer", Parent: "id"},
				},
			},
		},
	}
	_, _, err := Parse(doc)
	require.Error(t, err)
}

func TestRuleCompiledPropertiesMatchesOnlyListed(t *testing.T) {
	rule := &Rule{PropertiesPattern: "id|name"}
	re, err := rule.CompiledProperties()
	require.NoError(t, err)
	assert.True(t, re.MatchString("id"))
	assert.True(t, re.MatchString("name"))
	assert.False(t, re.MatchString("org"))
}

func TestRuleWithoutPropertiesOrAllowMatchesNothing(t *testing.T) {
	rule := &Rule{}
	re, err := rule.CompiledProperties()
	require.NoError(t, err)
	assert.False(t, re.MatchString("id"))
}

func TestLoadFailureLeavesPreviousSnapshotServing(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(sampleDocument()))

	badDoc := &Document{
		Entities: map[string]EntityDocument{
			"broken": {
				Table:      "broken",
				PrimaryKey: "missing",
				Properties: map[string]PropertyDocument{
					"id": {Type: "uuid"},
				},
			},
		},
	}
	require.Error(t, r.Load(badDoc))

	_, err := r.Get("customer")
	assert.NoError(t, err)
}
