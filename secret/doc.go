// Package secret resolves secret material referenced from gateway
// configuration.
//
// Config values go through two steps:
//   - Strict environment expansion of ${VAR} (see ExpandEnvStrict)
//   - Resolution of "secretref:<provider>:<ref>" through a Provider
//
// Two providers are built in and registered in DefaultRegistry:
//   - env:  secretref:env:TOOLGATE_HMAC_SECRET
//   - file: secretref:file:hmac (read from a mounted secrets directory)
//
// References may be the whole value or embedded in it, for example
// "Bearer secretref:env:MODEL_API_KEY".
package secret
