package service

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/goccy/go-json"

	"github.com/apifoundry/gateway/core"
)

// marshalBatchResult renders a core.BatchResult as a proxy response with the
// given status code. handleBatch passes 207 Multi-Status whenever any
// operation failed or was skipped, whether the batch was rolled back
// (atomic) or committed (non-atomic), and 200 when every operation
// completed; a batch rejected before it runs is an error envelope instead
// (spec §4.8, §6).
func marshalBatchResult(result *core.BatchResult, statusCode int) events.APIGatewayProxyResponse {
	body, err := json.Marshal(result)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":{"kind":"internal_error","message":"cannot marshal batch result"}}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
