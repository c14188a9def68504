// Package cache provides the shared key-value store behind the gateway's
// cross-request state: pending confirmations, cursor nonces, and revoked
// tokens.
//
// The Cache interface exposes only atomic operations (get, set-with-TTL,
// delete, and take, which deletes a key and returns its value in one step),
// so a distributed store can back several gateway instances without any
// in-process locking at call sites. MemoryCache backs tests and single-node
// deployments; RedisCache backs production.
package cache
