package monitoring

import (
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "rh-orchestrator"

var (
	logger = otelslog.NewLogger(instrumentationName)
	tracer = otel.Tracer(instrumentationName)
)

// Logger returns the process logger. Records are exported through the
// OpenTelemetry log pipeline installed by SetupOTelSDK.
func Logger() *slog.Logger {
	return logger
}

// Tracer returns the process tracer.
func Tracer() trace.Tracer {
	return tracer
}
