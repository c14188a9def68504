// Package auth verifies inbound bearer tokens and turns them into a Principal.
//
// Tokens are JWTs signed by the identity issuer. Signing keys come from the
// issuer's JWKS endpoint (JWKSKeyProvider), cached and refreshed through a
// singleflight group. Roles are read by a RoleExtractor; the default
// KeycloakRoleExtractor merges realm-wide and client-scoped roles, which is
// how the issuer lays out its claims.
//
// Every verification failure is returned as an *envelope.Error with code
// AUTHENTICATION_ERROR. The underlying reason stays reachable through
// errors.Is, e.g. errors.Is(err, ErrTokenExpired).
package auth
