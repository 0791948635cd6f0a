// Package logger provides a request-scoped structured logger built on logrus.
//
// A logger is attached to a context once, at the edge of the gateway (the
// service pipeline or the batch orchestrator), and retrieved everywhere else
// with FromContext. This keeps every SQL handler and resolver free of direct
// logrus imports while still producing logs correlated by operation id.
package logger

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextLoggerValues struct {
	RequestID string `json:"requestID"`
	OpID      string `json:"opID"`
}

type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	opIDLoggerKey      string = "opID"
)

// InitLogger sets up the formatter and level for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// Default returns a logger without a request id.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a new context with a logger if the given context has no
// logger yet. If the context already has a logger, the given context is returned
// unchanged.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	id, _ := uuid.NewUUID()
	rlog := logrus.WithField(requestIDLoggerKey, id.String())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithOperationID returns a new context with a logger tagged with the given
// batch operation id, for correlating log lines across a multi-operation batch.
func ContextWithOperationID(ctx context.Context, opID string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(opIDLoggerKey, opID)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the logger carried by ctx, or a default logger if none was
// attached yet.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return Default()
	}
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// SerializeLoggerContext extracts the correlatable fields of the logger attached to
// ctx as JSON, so they can be threaded through an out-of-band job (e.g. a
// notification) and reattached later with ContextWithLoggerFromData.
func SerializeLoggerContext(ctx context.Context) []byte {
	v := loggerValues(ctx)
	if v.RequestID == "" {
		return []byte("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// ContextWithLoggerFromData rebuilds a logger context from data produced by
// SerializeLoggerContext. If ctx already carries a logger, ctx is returned
// unchanged.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if loggerFromContext(ctx) != nil {
		return ctx
	}
	var v contextLoggerValues
	if err := json.Unmarshal(data, &v); err != nil || v.RequestID == "" {
		ctx, _ = ContextWithLogger(ctx)
		return ctx
	}
	rlog := logrus.WithField(requestIDLoggerKey, v.RequestID)
	if v.OpID != "" {
		rlog = rlog.WithField(opIDLoggerKey, v.OpID)
	}
	return context.WithValue(ctx, contextKeyRequestLogger, rlog)
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var v contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return v
	}
	if s, ok := rlog.Data[requestIDLoggerKey].(string); ok {
		v.RequestID = s
	}
	if s, ok := rlog.Data[opIDLoggerKey].(string); ok {
		v.OpID = s
	}
	return v
}
