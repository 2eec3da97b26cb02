// Package telemetry configures OpenTelemetry tracing for the runner.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans emitted by the runner.
const InstrumentationName = "github.com/seantiz/taskrunner"

// ExporterStdout writes finished spans as JSON to the configured writer.
const ExporterStdout = "stdout"

// Tracer returns the runner's tracer from the global provider. It is a no-op
// tracer until Setup installs a real provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Setup installs a global tracer provider for the named exporter and returns
// a function that flushes and stops it. An empty exporter leaves the no-op
// provider in place.
func Setup(exporter string, w io.Writer) (func(context.Context) error, error) {
	switch exporter {
	case "":
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", exporter)
	}
}
