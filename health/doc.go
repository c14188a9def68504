// Package health reports whether the gateway and its dependencies are usable.
//
// An Aggregator runs registered Checkers concurrently under one timeout:
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.NewPingChecker("redis", redisCache))
//	agg.RegisterOptional(health.NewBackendChecker("hr", "http://hr:8080", nil))
//	agg.RegisterOptional(health.NewCircuitChecker(pool))
//	health.Mount(router, agg)
//
// GET /health answers {"status":"healthy"} plus per-check detail. A failing
// optional check only degrades the status, so one unreachable backend does
// not take the gateway out of rotation.
package health
