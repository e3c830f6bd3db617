package sqlite

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the OTel tracer for backend-level spans. It uses the global
// provider, which is a no-op until a provider is installed by the host
// application.
var tracer = otel.Tracer("github.com/mxkrt/dadb/backend/sqlite")

var backendMetrics struct {
	retryCount   metric.Int64Counter
	execDuration metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/mxkrt/dadb/backend/sqlite")
	backendMetrics.retryCount, _ = m.Int64Counter("dadb.backend.retry_count",
		metric.WithDescription("statements retried due to a busy/locked store"),
		metric.WithUnit("{retry}"),
	)
	backendMetrics.execDuration, _ = m.Float64Histogram("dadb.backend.exec_ms",
		metric.WithDescription("time spent executing a statement against the store"),
		metric.WithUnit("ms"),
	)
}

func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func spanAttrs(op, stmt string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", spanSQL(stmt)),
	}
}
