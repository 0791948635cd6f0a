// Package access resolves the Permission Resolver: given an entity, an
// action and a caller's claims, it decides which properties may be read or
// written and which row-filter predicate must additionally be applied (spec
// §4.2). It is grounded on the teacher's Authorization/IsAuthorized
// (core/access/authorization.go), generalized from role:qualifier/resource
// strings to the spec's regex-properties + where-template Rule format.
package access

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/model"
)

// publicRole is consulted for every caller regardless of their own roles, the
// same way the teacher's IsAuthorized always appends "public" to the caller's
// role list before evaluating permissions.
const publicRole = "public"

// Fragment is a row-filter predicate rendered with bound placeholders rather
// than interpolated claim values, so a claim value can never be read as SQL
// (spec §3.2 value-injection-as-bound-param). SQL uses "?" as a placeholder;
// the SQL handler/dialect layer renumbers them into the target dialect's
// placeholder style when it assembles the final statement.
type Fragment struct {
	SQL  string
	Args []interface{}
}

// EffectiveRule is the permission resolver's verdict for one (entity,
// action, claims) triple (spec §4.2).
type EffectiveRule struct {
	// Allowed is false when no role held by the caller grants this action at
	// all; every other field is meaningless when Allowed is false.
	Allowed bool
	// properties reports whether a given property name is permitted.
	properties *regexp.Regexp
	// Where is the OR-combination of every matching role's row filter. A role
	// with no where template contributes no predicate (unconditional access
	// for that role), which makes the overall predicate unconditional too if
	// any matching role has no where template.
	Where *Fragment
}

// AllowsProperty reports whether name is permitted by this verdict.
func (r EffectiveRule) AllowsProperty(name string) bool {
	if !r.Allowed || r.properties == nil {
		return false
	}
	return r.properties.MatchString(name)
}

// Resolver evaluates the Permission Resolver algorithm against a Registry's
// entities (spec §4.2). It caches compiled claim-template fragments keyed by
// (entity, action, role) so repeated requests by callers in the same role
// never recompile the same template twice; this mirrors the teacher's
// AuthorizationCache (core/access/authorization.go), generalized from a
// token->Authorization cache to a rule-template cache.
type Resolver struct {
	registry *model.Registry

	mutex sync.RWMutex
	cache map[string]*compiledTemplate
}

// NewResolver builds a Resolver backed by registry.
func NewResolver(registry *model.Registry) *Resolver {
	return &Resolver{registry: registry, cache: make(map[string]*compiledTemplate)}
}

// Resolve implements the six-step permission algorithm of spec §4.2:
//
//  1. normalize action to a PermissionAction (create/update collapse to write)
//  2. look up the entity's permission table for the requested provider
//  3. collect every role the caller holds, plus the implicit "public" role
//  4. for each matching role's rule, compile its where template, binding each
//     ${claims.PATH} token to the caller's claim value
//  5. union the matching roles' allowed-properties patterns and OR-combine
//     their where fragments
//  6. a where template that references a claim the caller does not carry
//     binds SQL NULL for it, so the rule is kept but its row filter matches
//     nothing; a missing claim is never treated as an unconditional allow
func (res *Resolver) Resolve(entity string, action core.Action, claims core.Claims) (EffectiveRule, error) {
	return res.resolveProvider(entity, model.DefaultProvider, action, claims)
}

func (res *Resolver) resolveProvider(entity, provider string, action core.Action, claims core.Claims) (EffectiveRule, error) {
	e, err := res.registry.Get(entity)
	if err != nil {
		return EffectiveRule{}, err
	}
	permAction := core.NormalizeForPermissions(action)

	byAction, ok := e.Permissions[provider]
	if !ok {
		return EffectiveRule{Allowed: false}, nil
	}
	byRole, ok := byAction[permAction]
	if !ok {
		return EffectiveRule{Allowed: false}, nil
	}

	roles := append([]string{}, claims.Roles...)
	roles = append(roles, publicRole)

	var matched []*model.Rule
	var fragments []Fragment
	var patternSources []string
	unconditional := false

	for _, role := range roles {
		rule, ok := byRole[role]
		if !ok {
			continue
		}
		if rule.HasAllow && !rule.Allow {
			continue
		}
		frag, err := res.renderWhere(entity, provider, string(permAction), role, rule, claims)
		if err != nil {
			return EffectiveRule{}, err
		}
		matched = append(matched, rule)
		if rule.Where == "" {
			unconditional = true
		} else {
			fragments = append(fragments, frag)
		}
		if rule.PropertiesPattern != "" {
			patternSources = append(patternSources, rule.PropertiesPattern)
		} else if rule.HasAllow && rule.Allow {
			patternSources = append(patternSources, ".*")
		}
	}

	if len(matched) == 0 {
		return EffectiveRule{Allowed: false}, nil
	}

	combinedPattern := strings.Join(dedupe(patternSources), "|")
	propRe, err := regexp.Compile("^(?:" + combinedPattern + ")$")
	if err != nil {
		return EffectiveRule{}, core.WrapError(core.KindSpecError, err, "entity %q: invalid combined properties pattern", entity)
	}

	verdict := EffectiveRule{Allowed: true, properties: propRe}
	if !unconditional && len(fragments) > 0 {
		verdict.Where = orCombine(fragments)
	}
	return verdict, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func orCombine(fragments []Fragment) *Fragment {
	if len(fragments) == 1 {
		f := fragments[0]
		return &f
	}
	parts := make([]string, len(fragments))
	var args []interface{}
	for i, f := range fragments {
		parts[i] = "(" + f.SQL + ")"
		args = append(args, f.Args...)
	}
	return &Fragment{SQL: strings.Join(parts, " OR "), Args: args}
}

// compiledTemplate is a where template split into literal segments and the
// claim paths interleaved between them, so rendering never re-parses the
// template string.
type compiledTemplate struct {
	literals []string
	paths    []string
}

var templateToken = regexp.MustCompile(`\$\{claims\.([A-Za-z0-9_.]+)\}`)

func compileTemplate(tpl string) *compiledTemplate {
	ct := &compiledTemplate{}
	last := 0
	for _, m := range templateToken.FindAllStringSubmatchIndex(tpl, -1) {
		ct.literals = append(ct.literals, tpl[last:m[0]])
		ct.paths = append(ct.paths, tpl[m[2]:m[3]])
		last = m[1]
	}
	ct.literals = append(ct.literals, tpl[last:])
	return ct
}

// renderWhere renders rule's where template, binding each ${claims.PATH}
// token as a parameter. A claim path absent from claims binds SQL NULL
// rather than dropping the rule: the rendered fragment's own comparison
// semantics (e.g. "org = ?" bound to NULL) then exclude every row, so a
// missing claim narrows access to nothing instead of silently granting it
// (spec §4.2 step 6).
func (res *Resolver) renderWhere(entity, provider, action, role string, rule *model.Rule, claims core.Claims) (Fragment, error) {
	if rule.Where == "" {
		return Fragment{}, nil
	}
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%s", entity, provider, action, role)

	res.mutex.RLock()
	ct, ok := res.cache[key]
	res.mutex.RUnlock()
	if !ok {
		ct = compileTemplate(rule.Where)
		res.mutex.Lock()
		res.cache[key] = ct
		res.mutex.Unlock()
	}

	var sb strings.Builder
	args := make([]interface{}, 0, len(ct.paths))
	for i, literal := range ct.literals {
		sb.WriteString(literal)
		if i >= len(ct.paths) {
			continue
		}
		value, ok := claims.Path(ct.paths[i])
		if !ok {
			value = nil
		}
		sb.WriteString("?")
		args = append(args, value)
	}
	return Fragment{SQL: sb.String(), Args: args}, nil
}
