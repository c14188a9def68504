// Package config loads the gateway's YAML configuration.
//
// Values may reference the environment as ${VAR} (the variable must be set)
// or a secret provider as secretref:<provider>:<ref>. Providers other than
// env are declared under the top-level secrets key:
//
//	secrets:
//	  file:
//	    dir: /run/secrets
//	internal:
//	  secret: secretref:file:gateway_hmac
//
// Durations are Go duration strings ("30s", "5m").
package config
