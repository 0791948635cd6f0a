package core

// Claims carries the caller's authenticated identity as lifted from the gateway
// event's requestContext.authorizer (spec §3, §6). Subject and Roles are pulled
// out as first-class fields because the permission resolver and claim templating
// consult them on every request; everything else the authorizer attached rides
// along in Custom so provider-specific claims are never lost.
type Claims struct {
	Subject string                 `json:"sub,omitempty"`
	Roles   []string               `json:"roles,omitempty"`
	Scope   []string               `json:"scope,omitempty"`
	Custom  map[string]interface{} `json:"-"`
}

// Path looks up a dotted claim path such as "sub" or "address.city" against the
// claims tree. It consults the first-class fields before falling back to Custom,
// and returns ok=false (never a zero value standing in for "present") when any
// segment is missing — callers must bind that as SQL NULL, never silently grant
// access (spec §4.2 step 6).
func (c Claims) Path(path string) (interface{}, bool) {
	if c.Custom == nil && c.Subject == "" && len(c.Roles) == 0 {
		return nil, false
	}
	switch path {
	case "sub":
		if c.Subject == "" {
			return nil, false
		}
		return c.Subject, true
	case "roles":
		if len(c.Roles) == 0 {
			return nil, false
		}
		return c.Roles, true
	case "scope":
		if len(c.Scope) == 0 {
			return nil, false
		}
		return c.Scope, true
	}
	return lookupDotted(c.Custom, path)
}

func lookupDotted(tree map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = tree
	for _, seg := range splitDotted(path) {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func splitDotted(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

// HasRole reports whether claims carries role.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Operation is the canonical (entity, action, params, claims) intermediate form
// every request is normalized into before it reaches a SQL handler (spec §3).
// It is constructed exactly once — by the request adapter or the batch
// orchestrator — and consumed by exactly one handler invocation. Reference
// substitution (core/batch) produces a new Operation rather than mutating one
// in place.
type Operation struct {
	Entity         string
	Action         Action
	QueryParams    map[string]string
	StoreParams    map[string]interface{}
	MetadataParams map[string]interface{}
	Claims         Claims

	// CustomSQLID names a pre-declared custom SQL template when Action is
	// ActionCustom (spec §4.4.5).
	CustomSQLID string
}
