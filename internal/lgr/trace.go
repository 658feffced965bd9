package lgr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceparentHeader is the W3C trace context header name.
const TraceparentHeader = "traceparent"

// NewTrace returns ctx carrying a fresh trace with a new root span. Records
// logged with it carry trace_id and span_id.
func NewTrace(ctx context.Context) context.Context {
	tid := trace.TraceID(uuid.New())
	return trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     newSpanID(),
		TraceFlags: trace.FlagsSampled,
	}))
}

// FromTraceparent continues the trace named by a traceparent header value
// with a new span. An empty or malformed value starts a new trace.
func FromTraceparent(ctx context.Context, header string) context.Context {
	tid, flags, ok := parseTraceparent(header)
	if !ok {
		return NewTrace(ctx)
	}
	return trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     newSpanID(),
		TraceFlags: flags,
	}))
}

// Traceparent formats the span context in ctx as a traceparent header
// value, or returns "" when ctx carries none.
func Traceparent(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return fmt.Sprintf("00-%s-%s-%s", sc.TraceID(), sc.SpanID(), sc.TraceFlags())
}

// parseTraceparent accepts version-traceid-parentid-flags. Only the trace
// id and flags are kept; the caller's span becomes the parent.
func parseTraceparent(header string) (trace.TraceID, trace.TraceFlags, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) < 4 || len(parts[0]) != 2 || parts[0] == "ff" {
		return trace.TraceID{}, 0, false
	}
	if parts[0] == "00" && len(parts) != 4 {
		return trace.TraceID{}, 0, false
	}
	tid, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return trace.TraceID{}, 0, false
	}
	if _, err := trace.SpanIDFromHex(parts[2]); err != nil {
		return trace.TraceID{}, 0, false
	}
	if len(parts[3]) != 2 {
		return trace.TraceID{}, 0, false
	}
	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return trace.TraceID{}, 0, false
	}
	return tid, trace.TraceFlags(flags), true
}

func newSpanID() trace.SpanID {
	var sid trace.SpanID
	u := uuid.New()
	copy(sid[:], u[8:])
	return sid
}
