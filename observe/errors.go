package observe

import (
	"errors"

	"github.com/jonwraymond/toolgate/observe/exporters"
)

// Configuration errors.
var (
	// ErrMissingServiceName indicates Config.ServiceName is empty.
	ErrMissingServiceName = errors.New("observe: service name is required")

	// ErrInvalidSamplePct indicates Tracing.SamplePct is not in [0.0, 1.0].
	ErrInvalidSamplePct = errors.New("observe: sample percentage must be between 0.0 and 1.0")

	// ErrInvalidTracingExporter indicates an unknown tracing exporter name.
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")

	// ErrInvalidMetricsExporter indicates an unknown metrics exporter name.
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")

	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("observe: invalid log level")
)

// ErrEndpointNotConfigured indicates an OTLP exporter was selected without
// an endpoint in the environment.
var ErrEndpointNotConfigured = exporters.ErrEndpointNotConfigured

// RedactedFields lists field keys whose values are never written to logs.
var RedactedFields = []string{
	"arguments",
	"authorization",
	"password",
	"secret",
	"token",
	"internal_token",
	"api_key",
	"apiKey",
	"credential",
}
