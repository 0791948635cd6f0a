package model

import (
	"fmt"
	"regexp"

	"github.com/goccy/go-json"

	"github.com/apifoundry/gateway/core"
)

// Document is the declarative, wire-format shape the API Model Registry is
// loaded from (spec §3, §4.1). It mirrors the teacher's collectionConfiguration
// shape (core/backend/configuration.go) generalized from a single "collections"
// list keyed by path to the spec's entity-name-keyed map and its regex+where
// permission format.
type Document struct {
	Entities map[string]EntityDocument      `json:"entities"`
	Custom   map[string]CustomQueryDocument `json:"custom,omitempty"`
}

// CustomQueryDocument declares one pre-authored, parameterized SQL template
// reachable through the Custom SQL Handler (spec §4.4.5). Custom queries are
// role-gated only, never property-filtered: the properties regex concept of
// a Rule does not apply to hand-authored SQL.
type CustomQueryDocument struct {
	SQL   string   `json:"sql"`
	Roles []string `json:"roles"`
}

// EntityDocument is the raw, pre-normalization form of one entity (spec §3).
type EntityDocument struct {
	Database            string                      `json:"database,omitempty"`
	Table                string                      `json:"table"`
	PrimaryKey           string                      `json:"primary_key"`
	PrimaryKeyStrategy   string                      `json:"primary_key_strategy,omitempty"`
	ConcurrencyProperty  string                      `json:"concurrency_property,omitempty"`
	ConcurrencyKind      string                      `json:"concurrency_kind,omitempty"`
	SoftDeleteProperty   string                      `json:"soft_delete_property,omitempty"`
	SchemaID             string                      `json:"schema_id,omitempty"`
	Properties           map[string]PropertyDocument `json:"properties"`
	Relations            map[string]RelationDocument `json:"relations,omitempty"`
	Permissions          PermissionDocument          `json:"permissions,omitempty"`
}

// PropertyDocument is the raw form of one property (spec §3).
type PropertyDocument struct {
	Column    string `json:"column,omitempty"`
	Type      string `json:"type"`
	MaxLength int    `json:"max_length,omitempty"`
	Required  bool   `json:"required,omitempty"`
	Key       bool   `json:"key,omitempty"`
}

// RelationDocument is the raw form of one relation (spec §3).
type RelationDocument struct {
	Cardinality string `json:"cardinality"`
	Entity      string `json:"entity"`
	Parent      string `json:"parent_property"`
	Child       string `json:"child_property,omitempty"`
}

// PermissionDocument is provider -> action -> role -> raw rule entry. A raw
// rule entry is either a bare string (taken as the properties regex, allowed
// unconditionally), a bare bool (taken as Allow with no properties pattern),
// or the full RuleDocument object form (spec §3).
type PermissionDocument map[string]map[string]map[string]RuleDocument

// RuleDocument is the object form of a permission rule entry. The concise
// forms are decoded into it by UnmarshalJSON.
type RuleDocument struct {
	Properties string `json:"properties,omitempty"`
	Where      string `json:"where,omitempty"`
	Allow      *bool  `json:"allow,omitempty"`
}

// UnmarshalJSON decodes a rule entry given as a bare string, a bare bool or
// the object form.
func (r *RuleDocument) UnmarshalJSON(data []byte) error {
	var pattern string
	if json.Unmarshal(data, &pattern) == nil {
		*r = RuleDocument{Properties: pattern}
		return nil
	}
	var allow bool
	if json.Unmarshal(data, &allow) == nil {
		*r = RuleDocument{Allow: &allow}
		return nil
	}
	type objectForm RuleDocument
	return json.Unmarshal(data, (*objectForm)(r))
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parse normalizes and validates a raw Document into a set of Entity values,
// performing the entity/relation/regex/primary-key/concurrency validation of
// spec §4.1. It does not mutate any existing Registry snapshot.
func Parse(doc *Document) (map[string]*Entity, map[string]*CustomQuery, error) {
	entities := make(map[string]*Entity, len(doc.Entities))

	for name, ed := range doc.Entities {
		if !identifierPattern.MatchString(name) {
			return nil, nil, core.NewError(core.KindSpecError, "entity name %q is not a valid identifier", name)
		}
		e, err := parseEntity(name, ed)
		if err != nil {
			return nil, nil, core.WrapError(core.KindSpecError, err, "entity %q", name)
		}
		entities[name] = e
	}

	// Relations can only be validated once every entity is known, since a
	// relation refers to another entity by name.
	for name, e := range entities {
		for relName, rel := range e.Relations {
			target, ok := entities[rel.ReferencedEntity]
			if !ok {
				return nil, nil, core.NewError(core.KindSpecError, "entity %q relation %q references unknown entity %q", name, relName, rel.ReferencedEntity)
			}
			if _, ok := target.Properties[rel.ParentProperty]; rel.Cardinality == CardinalityObject && !ok {
				if _, ok2 := e.Properties[rel.ParentProperty]; !ok2 {
					return nil, nil, core.NewError(core.KindSpecError, "entity %q relation %q parent_property %q not found", name, relName, rel.ParentProperty)
				}
			}
		}
	}

	queries := make(map[string]*CustomQuery, len(doc.Custom))
	for id, cd := range doc.Custom {
		if cd.SQL == "" {
			return nil, nil, core.NewError(core.KindSpecError, "custom query %q has no sql", id)
		}
		queries[id] = &CustomQuery{ID: id, SQL: cd.SQL, Roles: cd.Roles}
	}

	return entities, queries, nil
}

func parseEntity(name string, ed EntityDocument) (*Entity, error) {
	if ed.Table == "" {
		return nil, fmt.Errorf("missing table")
	}
	if ed.PrimaryKey == "" {
		return nil, fmt.Errorf("missing primary_key")
	}

	e := &Entity{
		Name:               name,
		DatabaseBinding:    ed.Database,
		Table:              ed.Table,
		PrimaryKey:         ed.PrimaryKey,
		PrimaryKeyStrategy: KeyGenerationStrategy(ed.PrimaryKeyStrategy),
		ConcurrencyProperty: ed.ConcurrencyProperty,
		SoftDeleteProperty: ed.SoftDeleteProperty,
		SchemaID:           ed.SchemaID,
		Properties:         make(map[string]*PropertyDescriptor, len(ed.Properties)),
		Relations:          make(map[string]*RelationDescriptor, len(ed.Relations)),
	}
	if e.PrimaryKeyStrategy == "" {
		e.PrimaryKeyStrategy = KeyAuto
	}

	if _, ok := ed.Properties[ed.PrimaryKey]; !ok {
		return nil, fmt.Errorf("primary_key %q is not a declared property", ed.PrimaryKey)
	}
	if ed.ConcurrencyProperty != "" {
		if _, ok := ed.Properties[ed.ConcurrencyProperty]; !ok {
			return nil, fmt.Errorf("concurrency_property %q is not a declared property", ed.ConcurrencyProperty)
		}
	}
	if ed.SoftDeleteProperty != "" {
		if _, ok := ed.Properties[ed.SoftDeleteProperty]; !ok {
			return nil, fmt.Errorf("soft_delete_property %q is not a declared property", ed.SoftDeleteProperty)
		}
	}

	for pname, pd := range ed.Properties {
		if !identifierPattern.MatchString(pname) {
			return nil, fmt.Errorf("property name %q is not a valid identifier", pname)
		}
		column := pd.Column
		if column == "" {
			column = pname
		}
		descriptor := &PropertyDescriptor{
			Name:      pname,
			Column:    column,
			Type:      PropertyType(pd.Type),
			MaxLength: pd.MaxLength,
			Required:  pd.Required,
			IsKey:     pname == ed.PrimaryKey || pd.Key,
		}
		if pname == ed.ConcurrencyProperty {
			descriptor.IsConcurrency = true
			descriptor.ConcurrencyOf = ConcurrencyKind(ed.ConcurrencyKind)
			if descriptor.ConcurrencyOf == "" {
				descriptor.ConcurrencyOf = ConcurrencyUUID
			}
		}
		e.Properties[pname] = descriptor
	}

	for rname, rd := range ed.Relations {
		if !identifierPattern.MatchString(rname) {
			return nil, fmt.Errorf("relation name %q is not a valid identifier", rname)
		}
		cardinality := RelationCardinality(rd.Cardinality)
		if cardinality != CardinalityObject && cardinality != CardinalityArray {
			return nil, fmt.Errorf("relation %q has invalid cardinality %q", rname, rd.Cardinality)
		}
		if rd.Entity == "" {
			return nil, fmt.Errorf("relation %q missing entity", rname)
		}
		if rd.Parent == "" {
			return nil, fmt.Errorf("relation %q missing parent_property", rname)
		}
		if cardinality == CardinalityArray && rd.Child == "" {
			return nil, fmt.Errorf("relation %q is an array relation but missing child_property", rname)
		}
		e.Relations[rname] = &RelationDescriptor{
			Name:             rname,
			Cardinality:      cardinality,
			ReferencedEntity: rd.Entity,
			ParentProperty:   rd.Parent,
			ChildProperty:    rd.Child,
		}
	}

	table, err := parsePermissions(ed.Permissions)
	if err != nil {
		return nil, err
	}
	e.Permissions = table

	return e, nil
}

func parsePermissions(pd PermissionDocument) (PermissionTable, error) {
	table := make(PermissionTable, len(pd))
	for provider, byAction := range pd {
		actions := make(map[core.PermissionAction]map[string]*Rule, len(byAction))
		for actionName, byRole := range byAction {
			action := core.PermissionAction(actionName)
			switch action {
			case core.PermissionRead, core.PermissionWrite, core.PermissionDelete:
			default:
				return nil, fmt.Errorf("permissions: provider %q has unknown action %q", provider, actionName)
			}
			roles := make(map[string]*Rule, len(byRole))
			for role, raw := range byRole {
				rule := &Rule{
					PropertiesPattern: raw.Properties,
					Where:             raw.Where,
				}
				if raw.Allow != nil {
					rule.Allow = *raw.Allow
					rule.HasAllow = true
				} else if raw.Properties != "" {
					rule.Allow = true
					rule.HasAllow = true
				}
				if _, err := rule.CompiledProperties(); err != nil {
					return nil, fmt.Errorf("permissions: provider %q action %q role %q: invalid properties regex: %w", provider, actionName, role, err)
				}
				roles[role] = rule
			}
			actions[action] = roles
		}
		table[provider] = actions
	}
	return table, nil
}
