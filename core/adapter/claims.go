package adapter

import (
	"github.com/aws/aws-lambda-go/events"

	"github.com/apifoundry/gateway/core"
)

// extractClaims lifts core.Claims out of req's requestContext.authorizer map,
// the shape a Lambda custom authorizer attaches (spec §3, §6: "claims arrive
// already verified; this gateway only reads them"). Subject and Roles are
// promoted to first-class fields; everything else rides along in Custom.
func extractClaims(req events.APIGatewayProxyRequest) core.Claims {
	authorizer := req.RequestContext.Authorizer
	if authorizer == nil {
		return core.Claims{}
	}

	claims := core.Claims{Custom: make(map[string]interface{}, len(authorizer))}
	for k, v := range authorizer {
		claims.Custom[k] = v
		switch k {
		case "sub":
			if s, ok := v.(string); ok {
				claims.Subject = s
			}
		case "roles":
			claims.Roles = toStringSlice(v)
		case "scope":
			claims.Scope = toStringSlice(v)
		}
	}
	return claims
}

func toStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case string:
		return splitCSV(val)
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// scopeAllows enforces the authorizer-scope check ahead of the permission
// resolver (spec §4.3). A caller carrying no scope claim at all is allowed
// through to the permission resolver unchanged — scope is an optional,
// coarser-grained gate some authorizers attach, not a required one.
func scopeAllows(claims core.Claims, entity string, action core.Action) bool {
	if len(claims.Scope) == 0 {
		return true
	}
	wanted := entity + ":" + string(core.NormalizeForPermissions(action))
	for _, s := range claims.Scope {
		if s == wanted || s == entity+":*" || s == "*" {
			return true
		}
	}
	return false
}
