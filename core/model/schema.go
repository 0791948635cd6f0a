// Package model holds the API Model Registry: parsed, normalized
// entity/permission/relation metadata consulted on every request. It is
// loaded once per process from a declarative document and held behind an
// atomic snapshot so hot reloads never require locking the read path (spec
// §4.1, §5, §9).
package model

import (
	"regexp"

	"github.com/apifoundry/gateway/core"
)

// PropertyType is the semantic type of a Property Descriptor.
type PropertyType string

// The semantic types a property may declare.
const (
	TypeInteger  PropertyType = "integer"
	TypeNumber   PropertyType = "number"
	TypeString   PropertyType = "string"
	TypeBoolean  PropertyType = "boolean"
	TypeDateTime PropertyType = "date-time"
	TypeUUID     PropertyType = "uuid"
)

// KeyGenerationStrategy is how a primary key value is produced on create.
type KeyGenerationStrategy string

// The four primary-key generation strategies.
const (
	KeyAuto     KeyGenerationStrategy = "auto"
	KeyManual   KeyGenerationStrategy = "manual"
	KeyUUID     KeyGenerationStrategy = "uuid"
	KeySequence KeyGenerationStrategy = "sequence"
)

// ConcurrencyKind is the flavor of optimistic-concurrency value a concurrency
// property holds.
type ConcurrencyKind string

// The two supported concurrency value flavors.
const (
	ConcurrencyUUID      ConcurrencyKind = "uuid"
	ConcurrencyTimestamp ConcurrencyKind = "timestamp"
)

// PropertyDescriptor describes one property of an entity. Descriptors are
// immutable after Load (spec §3).
type PropertyDescriptor struct {
	Name          string
	Column        string
	Type          PropertyType
	MaxLength     int // 0 means unbounded
	Required      bool
	IsKey         bool
	IsConcurrency bool
	ConcurrencyOf ConcurrencyKind
}

// RelationCardinality is 1:1 ("object") or 1:many ("array").
type RelationCardinality string

// The two relation cardinalities.
const (
	CardinalityObject RelationCardinality = "object"
	CardinalityArray  RelationCardinality = "array"
)

// RelationDescriptor describes an association to another entity (spec §3).
type RelationDescriptor struct {
	Name            string
	Cardinality     RelationCardinality
	ReferencedEntity string
	// ParentProperty is the key on the current entity holding the FK for an
	// "object" relation, or the key on this entity exposed to the child for an
	// "array" relation.
	ParentProperty string
	// ChildProperty is the FK column on the referenced entity, set only for
	// "array" relations.
	ChildProperty string
}

// Rule is the normalized form of a permission-table entry: always
// {properties regex, where template, allow}. The concise forms in the spec
// document (a bare regex string, or a bare boolean) are decompressed into
// this object form at load time (spec §3).
type Rule struct {
	// PropertiesPattern is the regex source permitting property names. Empty
	// means "no properties permitted" unless Allow is also set without a
	// pattern, in which case it behaves as ".*".
	PropertiesPattern string
	// Where is the row-filter predicate template, with ${claims.PATH} tokens.
	// Empty means unconditional (no row filtering for this rule).
	Where string
	// Allow is consulted for delete/allow-only rules.
	Allow bool
	// HasAllow distinguishes "allow: false" from "allow not specified".
	HasAllow bool

	compiledProperties *regexp.Regexp
}

// CompiledProperties returns (and caches) the compiled properties regex. An
// empty pattern compiles to a regex that matches nothing.
func (r *Rule) CompiledProperties() (*regexp.Regexp, error) {
	if r.compiledProperties != nil {
		return r.compiledProperties, nil
	}
	pattern := r.PropertiesPattern
	if pattern == "" {
		if r.HasAllow {
			pattern = ".*"
		} else {
			pattern = "$.^" // matches nothing
		}
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, err
	}
	r.compiledProperties = re
	return re, nil
}

// PermissionTable is keyed by provider -> PermissionAction -> role -> Rule
// (spec §3). The default provider key is "default".
type PermissionTable map[string]map[core.PermissionAction]map[string]*Rule

// DefaultProvider is the provider key consulted when no provider is specified.
const DefaultProvider = "default"

// Entity is the parsed, normalized schema for one entity (spec §3).
type Entity struct {
	Name                string
	DatabaseBinding     string
	Table               string
	PrimaryKey          string
	PrimaryKeyStrategy  KeyGenerationStrategy
	ConcurrencyProperty string // empty if the entity has no optimistic-concurrency column
	SoftDeleteProperty  string // empty unless the entity supports soft delete (supplemented feature)
	SchemaID            string // optional JSON Schema id for body validation

	Properties map[string]*PropertyDescriptor
	Relations  map[string]*RelationDescriptor
	Permissions PermissionTable
}

// Property looks up a property descriptor by name.
func (e *Entity) Property(name string) (*PropertyDescriptor, bool) {
	p, ok := e.Properties[name]
	return p, ok
}

// Relation looks up a relation descriptor by name.
func (e *Entity) Relation(name string) (*RelationDescriptor, bool) {
	r, ok := e.Relations[name]
	return r, ok
}

// CustomQuery is one pre-authored, role-gated SQL template reachable through
// the Custom SQL Handler (spec §4.4.5).
type CustomQuery struct {
	ID    string
	SQL   string
	Roles []string
}

// AllowsRole reports whether role may invoke this custom query. An empty
// Roles list denies every role; there is no implicit "admin bypasses
// everything" rule for hand-authored SQL.
func (q *CustomQuery) AllowsRole(role string) bool {
	for _, r := range q.Roles {
		if r == role {
			return true
		}
	}
	return false
}
