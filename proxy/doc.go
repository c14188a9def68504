// Package proxy forwards authorized tool calls to backends and shapes their
// results for a model.
//
// Every call is checked against the route table, signed with a fresh internal
// token and executed through the backend's resilience guards. Results of list
// tools are paged by the gateway: a page of N rows is requested as N+1 so a
// truncated result can be detected without a count query. Truncated pages
// carry a warning addressed to the model and a sealed, single-use cursor for
// the next window.
//
// Proxy.InvokeAll follows cursors on the caller's behalf up to a configured
// page ceiling; Proxy.InvokeMany fans independent calls out concurrently.
package proxy
