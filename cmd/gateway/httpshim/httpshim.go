// Package httpshim is a local development front door: it translates a plain
// net/http request into the events.APIGatewayProxyRequest shape the Service
// Pipeline expects, and translates the response back, so the gateway can be
// driven with curl without a real API Gateway deployment. It is grounded on
// the teacher's handleCORS middleware (core/backend/cors.go) and mux-based
// router wiring (services/basic/basic.go).
package httpshim

import (
	"context"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/apifoundry/gateway/cmd/gateway/devauth"
)

// Pipeline is the narrow surface httpshim needs from core/service.Pipeline.
type Pipeline interface {
	Handle(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse
}

// NewRouter builds a mux.Router that proxies every request into pipeline via
// the Lambda-proxy event translation, wrapped in permissive CORS middleware
// for local development (spec §9: "the core pipeline is transport-agnostic").
func NewRouter(pipeline Pipeline) *mux.Router {
	router := mux.NewRouter()
	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serve(pipeline, w, r)
	})
	router.Use(func(h http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(h)
	})
	return router
}

func serve(pipeline Pipeline, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	query := make(map[string]string)
	for k, values := range r.URL.Query() {
		if len(values) > 0 {
			query[k] = values[0]
		}
	}

	req := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		QueryStringParameters: query,
		Headers:               singleValueHeaders(r.Header),
		Body:                  string(body),
	}
	req.RequestContext.Authorizer = devauth.DecodeClaims(r.Header.Get("Authorization"))

	resp := pipeline.Handle(r.Context(), req)

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))
}

func singleValueHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
