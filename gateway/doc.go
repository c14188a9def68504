// Package gateway assembles the components into an HTTP service.
//
// Routes:
//
//	GET  /health, /health/{name}, /healthz, /readyz
//	GET  /metrics                          (prometheus exporter only)
//	POST /api/query                        SSE answer to {"query": ...}
//	GET  /api/query/stream?q=&token=       same, for EventSource clients
//	POST /api/tools/{backend}/{tool}       direct tool call
//	POST /api/confirm/{confirmationID}     approve or reject a pending action
//	GET  /api/confirm/{confirmationID}     state of a pending action
//	GET  /api/backends                     tools the caller may reach
//
// Every /api route requires a bearer token. Tool results pass through the
// Pipeline: proxy, then confirmation interception, then field masking. A
// client can never mark its own call as confirmed.
//
// Build wires a Config into an App; tests substitute the model, verifier,
// cache or backend client with BuildOptions.
package gateway
