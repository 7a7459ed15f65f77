// Package observability wires up structured logging with trace-context
// correlation for the proxy process. The full OTLP export pipeline the
// wider example fleet carries is out of scope here — there is no metrics
// or tracing backend to ship to — but the log handler still threads
// trace_id/span_id through so a request can be correlated end to end if a
// caller's Traceparent header is present.
package observability

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	otelPropagation "go.opentelemetry.io/otel/propagation"
)

// ScopeName identifies this application's logs for trace correlation.
const ScopeName = "github.com/cortexproxy/cortex-proxy"

// Instrument installs the global slog default handler and text-map
// propagator. logFormat is "text" or "json"; level gates both.
func Instrument(level slog.Level, logFormat string) error {
	otel.SetTextMapPropagator(newPropagator())

	handler, err := newStderrHandler(level, logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// newStderrHandler creates a handler for human-readable logs with trace
// correlation; logs are written synchronously to stderr.
func newStderrHandler(level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}

	return newTraceContextHandler(handler), nil
}

func newPropagator() otelPropagation.TextMapPropagator {
	return otelPropagation.NewCompositeTextMapPropagator(
		otelPropagation.TraceContext{},
	)
}
