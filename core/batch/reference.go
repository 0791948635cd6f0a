package batch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apifoundry/gateway/core"
)

// refPattern matches a "$ref:op_id.path" token that makes up a whole batch
// operation's store_params/query_params value (spec §3, §4.6). A token
// embedded in longer text is not matched and is left as literal text.
var refPattern = regexp.MustCompile(`^\$ref:([A-Za-z0-9_-]+)\.(.+)$`)

// reference is a parsed $ref token.
type reference struct {
	OperationID string
	Path        string
}

// parseReference reports whether value is a $ref token and, if so, parses it.
func parseReference(value string) (reference, bool) {
	m := refPattern.FindStringSubmatch(value)
	if m == nil {
		return reference{}, false
	}
	return reference{OperationID: m[1], Path: m[2]}, true
}

// referencedOperationIDs returns the operation ids referenced by $ref tokens
// among the top-level string values of params; values nested inside maps or
// slices are not searched. It is used to build dependency edges.
func referencedOperationIDs(params map[string]interface{}) []string {
	var ids []string
	for _, v := range params {
		if s, ok := v.(string); ok {
			if ref, ok := parseReference(s); ok {
				ids = append(ids, ref.OperationID)
			}
		}
	}
	return ids
}

// resolveParams returns a copy of params with every top-level $ref value
// replaced by the value it points at in results, keeping that value's type;
// values nested inside maps or slices are copied unchanged. A reference to an operation that did
// not run, failed, or whose path does not exist in its result is a BadRequest
// (spec §4.6 edge case: a dangling reference is a client error, not a panic).
func resolveParams(params map[string]interface{}, results map[string]*core.OperationRecord) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			resolved[k] = v
			continue
		}
		ref, ok := parseReference(s)
		if !ok {
			resolved[k] = v
			continue
		}
		record, ok := results[ref.OperationID]
		if !ok || record.Status != core.StatusCompleted {
			return nil, core.NewError(core.KindBadRequest, "reference %q: operation %q did not complete", s, ref.OperationID)
		}
		value, err := lookupPath(record, ref.Path)
		if err != nil {
			return nil, core.WrapError(core.KindBadRequest, err, "reference %q", s)
		}
		resolved[k] = value
	}
	return resolved, nil
}

// resolveQueryParams is resolveParams for query_params, whose values are
// always strings (spec §4.8 step 2: "Resolve references in query_params and
// store_params using results so far" — query_params is string-keyed and
// string-valued throughout the rest of the gateway, so a resolved reference
// is rendered back to its string form rather than kept as the referenced
// row's native type).
func resolveQueryParams(params map[string]string, results map[string]*core.OperationRecord) (map[string]string, error) {
	resolved := make(map[string]string, len(params))
	for k, v := range params {
		ref, ok := parseReference(v)
		if !ok {
			resolved[k] = v
			continue
		}
		record, ok := results[ref.OperationID]
		if !ok || record.Status != core.StatusCompleted {
			return nil, core.NewError(core.KindBadRequest, "reference %q: operation %q did not complete", v, ref.OperationID)
		}
		value, err := lookupPath(record, ref.Path)
		if err != nil {
			return nil, core.WrapError(core.KindBadRequest, err, "reference %q", v)
		}
		resolved[k] = fmt.Sprintf("%v", value)
	}
	return resolved, nil
}

// lookupPath resolves a reference path against an operation's result data. A
// bare property name ("id") reads it from the first (and, for
// create/update/delete, only) row; "0.id" or "id" are both accepted for a
// single-row result, "N.id" addresses row N of a list result. Whatever
// follows the optional row index is looked up as one property name; nested
// segments inside a property value are not followed.
func lookupPath(record *core.OperationRecord, path string) (interface{}, error) {
	if len(record.Data) == 0 {
		return nil, fmt.Errorf("operation produced no rows")
	}
	segs := strings.SplitN(path, ".", 2)
	row := record.Data[0]
	rest := path
	if idx, err := parseRowIndex(segs[0]); err == nil {
		if idx < 0 || idx >= len(record.Data) {
			return nil, fmt.Errorf("row index %d out of range", idx)
		}
		row = record.Data[idx]
		if len(segs) < 2 {
			return nil, fmt.Errorf("path %q does not name a property after the row index", path)
		}
		rest = segs[1]
	}
	value, ok := row[rest]
	if !ok {
		return nil, fmt.Errorf("property %q not found in referenced row", rest)
	}
	return value, nil
}

func parseRowIndex(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("not an index")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not an index")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
