package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

// TraceContext carries W3C trace headers from an inbound API request to the
// upstream fetches it triggers.
type TraceContext struct {
	TraceParent string
	TraceState  string
	SpanID      string
}

type traceKey struct{}

func StartTrace(ctx context.Context, req *http.Request) context.Context {
	trace := &TraceContext{
		TraceParent: req.Header.Get("traceparent"),
		TraceState:  req.Header.Get("tracestate"),
		SpanID:      newSpanID(),
	}
	return context.WithValue(ctx, traceKey{}, trace)
}

func TraceFromContext(ctx context.Context) (*TraceContext, bool) {
	if ctx == nil {
		return nil, false
	}
	trace, ok := ctx.Value(traceKey{}).(*TraceContext)
	return trace, ok
}

func InjectTraceHeaders(req *http.Request, ctx context.Context) {
	trace, ok := TraceFromContext(ctx)
	if !ok {
		return
	}
	if trace.TraceParent != "" {
		req.Header.Set("traceparent", trace.TraceParent)
	}
	if trace.TraceState != "" {
		req.Header.Set("tracestate", trace.TraceState)
	}
}

func newSpanID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
