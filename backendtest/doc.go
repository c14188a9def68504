// Package backendtest provides in-process tool-execution backends that
// honor the backend contract: POST /tools/<name> with {arguments,
// userContext} behind the internal gateway token, GET /tools and
// GET /health.
//
// HR, Finance, Sales and Support build backends with deterministic data
// sets. List tools honor limit and offset, lookups report absent entities
// as NOT_FOUND and mutating tools answer pending_confirmation until called
// with confirmed set. The gateway's tests and the serve --demo mode run
// against them.
package backendtest
