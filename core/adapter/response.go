package adapter

import (
	"encoding/base64"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goccy/go-json"

	"github.com/apifoundry/gateway/core"
)

func decodeBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, core.WrapError(core.KindBadRequest, err, "malformed base64 body")
	}
	return raw, nil
}

// Marshal converts a handler result (or error) into the API Gateway proxy
// response envelope (spec §6, §7). Every error reaching this function has
// already been normalized to an *core.ApplicationError by the service
// pipeline, so the status code is always exactly the kind's StatusCode.
func Marshal(data interface{}, err error) events.APIGatewayProxyResponse {
	if err != nil {
		appErr := core.AsApplicationError(err)
		body, _ := json.Marshal(map[string]interface{}{
			"error": map[string]interface{}{
				"kind":    appErr.Kind,
				"message": appErr.Message,
			},
		})
		return events.APIGatewayProxyResponse{
			StatusCode: appErr.StatusCode(),
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       string(body),
		}
	}

	body, marshalErr := json.Marshal(camelizeTopLevel(data))
	if marshalErr != nil {
		return Marshal(nil, core.WrapError(core.KindInternal, marshalErr, "cannot marshal response"))
	}
	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

// camelizeTopLevel converts snake_case map keys back to camelCase at the
// wire boundary (spec §9: "snake_case internally, camelCase at the edge"),
// one level deep — nested documents (relation results) are already keyed by
// relation name, not by an internal property name, so no deeper recursion is
// needed.
func camelizeTopLevel(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[core.PropertyNameToCamel(k)] = val
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, row := range v {
			out[i] = camelizeTopLevel(row)
		}
		return out
	default:
		return v
	}
}
