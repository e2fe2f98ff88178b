package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit records an administrative action taken through the HTTP API. The
// action is logged with trace correlation ids, added as an event on the
// request span and counted. attrs are slog key/value pairs.
func Audit(r *http.Request, event string, attrs ...any) {
	ctx := r.Context()
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(ctx),
	}
	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		base = append(base, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	slog.InfoContext(ctx, "audit", append(base, attrs...)...)

	if span.IsRecording() {
		span.AddEvent("audit."+event, trace.WithAttributes(auditAttributes(attrs)...))
	}
	RecordAdminAudit(ctx, event)
}

func auditAttributes(attrs []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			out = append(out, attribute.String(key, v))
		case int:
			out = append(out, attribute.Int(key, v))
		case uint:
			out = append(out, attribute.Int64(key, int64(v)))
		case bool:
			out = append(out, attribute.Bool(key, v))
		default:
			out = append(out, attribute.String(key, fmt.Sprint(v)))
		}
	}
	return out
}
