// Package resilience guards the gateway's outbound backend calls and its
// inbound request rate.
//
// Each backend gets its own Executor (see Pool) composed, outermost first, of
// a bulkhead, a circuit breaker, a retry and a per-attempt timeout:
//
//	pool := resilience.NewPool(resilience.BackendPolicy{
//	    Timeout:     10 * time.Second,
//	    MaxAttempts: 2,
//	})
//	err := pool.Get("hr").Execute(ctx, func(ctx context.Context) error {
//	    return callBackend(ctx)
//	})
//
// Only transient failures (see Transient) are retried or trip a breaker; a
// backend answering with a structured client error is healthy.
//
// KeyedRateLimiter bounds request rate per caller at the HTTP edge.
package resilience
