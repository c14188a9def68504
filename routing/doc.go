// Package routing maps a caller's roles onto the backends and tools they may
// reach.
//
// The route table is static configuration loaded at startup. Every lookup is
// a pure function of that table and the caller's roles: adding roles never
// removes access, and holding the wildcard role grants everything.
package routing
