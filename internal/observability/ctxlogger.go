package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id/
// span_id from ctx, if a span is active. Every Gateway call opens a
// span (llm.StartRequestSpan); handlers that log mid-call use this so
// a log line can be correlated back to its OTel trace.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return &l
	}
	l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
	if sc.HasSpanID() {
		l = l.With().Str("span_id", sc.SpanID().String()).Logger()
	}
	if sc.IsSampled() {
		l = l.With().Bool("trace_sampled", true).Logger()
	}
	return &l
}

// WorkerLogger returns LoggerWithTrace's logger tagged with the
// supervised worker kind that emitted it (spec §4.5's five-plus
// worker kinds), so a single kaitd.log stream can be filtered per
// worker even though every worker writes through the same zerolog
// sink (InitLogger is called once per re-exec'd process, not once per
// worker kind).
func WorkerLogger(ctx context.Context, workerKind string) *zerolog.Logger {
	l := LoggerWithTrace(ctx).With().Str("worker", workerKind).Logger()
	return &l
}
