// Package observe provides the gateway's telemetry: a structured JSON
// logger, OpenTelemetry tracing and metrics, and a Middleware that wraps
// every backend call with a span, counters, a duration histogram and a log
// line.
//
// Log fields whose keys name credentials or tool arguments are redacted
// before they are written.
package observe
