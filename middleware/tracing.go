package middleware

import (
	"context"

	"github.com/shrek82/dbo/core"
)

// TraceKey is a context key the tracing middleware copies into the
// request's log fields.
type TraceKey string

const (
	RequestID TraceKey = "request_id"
	UserIP    TraceKey = "user_ip"
	TraceID   TraceKey = "trace_id"
)

// WithTrace stores a trace value on ctx.
func WithTrace(ctx context.Context, key TraceKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// TracingMiddleware attaches request id, user ip and trace id from the
// context to the statement log of each Select.
type TracingMiddleware struct {
	Keys []TraceKey
}

func NewTracing(extra ...TraceKey) *TracingMiddleware {
	return &TracingMiddleware{Keys: append([]TraceKey{RequestID, UserIP, TraceID}, extra...)}
}

func (m *TracingMiddleware) Name() string {
	return "Tracing"
}

func (m *TracingMiddleware) Init(db *core.DB) error {
	return nil
}

func (m *TracingMiddleware) Shutdown() error {
	return nil
}

func (m *TracingMiddleware) Process(ctx context.Context, req *core.Request, next core.SelectFunc) (core.Result, error) {
	fields := make(map[string]any)
	for _, k := range m.Keys {
		if v := ctx.Value(k); v != nil {
			fields[string(k)] = v
		}
	}
	if len(fields) > 0 {
		req.WithFields(fields)
	}
	return next(ctx, req)
}
