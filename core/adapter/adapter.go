// Package adapter is the Request Adapter: it turns an inbound AWS API
// Gateway Lambda-proxy event into a canonical core.Operation (or a
// core.BatchRequest), and turns a handler's result or error back into the
// proxy response envelope API Gateway expects (spec §3, §6). It is grounded
// on the teacher's route-parameter and query-string handling in
// createCollectionResource (core/backend/collection.go), retargeted from
// net/http's Request/ResponseWriter onto events.APIGatewayProxyRequest and
// events.APIGatewayProxyResponse, the shape the spec's inbound/outbound event
// already matches verbatim.
package adapter

import (
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goccy/go-json"

	"github.com/apifoundry/gateway/core"
)

// batchPath is the route of the batch endpoint. Every other request is
// routed as "/{entity}", "/{entity}/{id}" or "/custom/{query_id}" (spec §6).
const batchPath = "/batch"

// Unmarshal converts req into a canonical core.Operation. Scope enforcement
// (spec §4.3: an authorizer scope that does not cover the requested entity
// is a 403 before the permission resolver is ever consulted) happens here,
// since it depends only on the envelope, not on the model registry.
func Unmarshal(req events.APIGatewayProxyRequest) (*core.Operation, error) {
	claims := extractClaims(req)

	entity, id, action, err := routeFromRequest(req)
	if err != nil {
		return nil, err
	}

	if !scopeAllows(claims, entity, action) {
		return nil, core.NewError(core.KindForbidden, "token scope does not cover %s %s", action, entity)
	}

	queryParams := make(map[string]string, len(req.QueryStringParameters)+1)
	metadataParams := make(map[string]interface{})
	for k, v := range req.QueryStringParameters {
		name := core.CamelToPropertyName(k)
		if strings.HasPrefix(name, "__") {
			metadataParams[name] = v
			continue
		}
		queryParams[name] = v
	}
	if id != "" {
		queryParams["__path_id"] = id
	}

	var storeParams map[string]interface{}
	if req.Body != "" && (action == core.ActionCreate || action == core.ActionUpdate) {
		storeParams, err = decodeBody(req.Body, req.IsBase64Encoded)
		if err != nil {
			return nil, err
		}
	}

	// The primary key property name is unknown to the adapter (only the
	// registry knows it once the entity is resolved); __path_id carries the
	// raw path value forward for the service pipeline to bind onto the
	// entity's actual primary key property.
	op := &core.Operation{
		Entity:         entity,
		Action:         action,
		QueryParams:    queryParams,
		StoreParams:    storeParams,
		MetadataParams: metadataParams,
		Claims:         claims,
	}
	if strings.HasPrefix(req.Path, "/custom/") {
		op.Action = core.ActionCustom
		op.CustomSQLID = strings.TrimPrefix(req.Path, "/custom/")
	}
	return op, nil
}

// UnmarshalBatch decodes req's body into a core.BatchRequest, applying the
// Atomic-defaults-to-true rule a bare JSON decode cannot express (spec §3).
func UnmarshalBatch(req events.APIGatewayProxyRequest) (*core.BatchRequest, core.Claims, error) {
	claims := extractClaims(req)
	body, err := decodeBodyBytes(req.Body, req.IsBase64Encoded)
	if err != nil {
		return nil, claims, err
	}

	var raw struct {
		Operations []core.OperationSpec `json:"operations"`
		Options    struct {
			Atomic          *bool `json:"atomic"`
			ContinueOnError bool  `json:"continue_on_error"`
		} `json:"options"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, claims, core.WrapError(core.KindBadRequest, err, "batch: malformed JSON body")
	}

	atomic := true
	if raw.Options.Atomic != nil {
		atomic = *raw.Options.Atomic
	}

	for i := range raw.Operations {
		if raw.Operations[i].Claims == nil {
			c := claims
			raw.Operations[i].Claims = &c
		}
	}

	return &core.BatchRequest{
		Operations: raw.Operations,
		Options: core.BatchOptions{
			Atomic:          atomic,
			ContinueOnError: raw.Options.ContinueOnError,
		},
	}, claims, nil
}

// IsBatchRequest reports whether req targets the batch endpoint.
func IsBatchRequest(req events.APIGatewayProxyRequest) bool {
	return req.Path == batchPath
}

func routeFromRequest(req events.APIGatewayProxyRequest) (entity, id string, action core.Action, err error) {
	segments := strings.Split(strings.Trim(req.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", "", "", core.NewError(core.KindBadRequest, "empty path")
	}
	entity = core.CamelToPropertyName(segments[0])
	if len(segments) > 1 {
		id = segments[1]
	}

	switch strings.ToUpper(req.HTTPMethod) {
	case "GET":
		action = core.ActionRead
	case "POST":
		action = core.ActionCreate
	case "PUT", "PATCH":
		action = core.ActionUpdate
	case "DELETE":
		action = core.ActionDelete
	default:
		return "", "", "", core.NewError(core.KindBadRequest, "unsupported HTTP method %q", req.HTTPMethod)
	}
	return entity, id, action, nil
}

func decodeBody(body string, base64Encoded bool) (map[string]interface{}, error) {
	raw, err := decodeBodyBytes(body, base64Encoded)
	if err != nil {
		return nil, err
	}
	params := make(map[string]interface{})
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, core.WrapError(core.KindBadRequest, err, "malformed JSON body")
	}
	normalized := make(map[string]interface{}, len(params))
	for k, v := range params {
		normalized[core.CamelToPropertyName(k)] = v
	}
	return normalized, nil
}

func decodeBodyBytes(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	return decodeBase64(body)
}
