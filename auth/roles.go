package auth

import (
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleExtractor reads the caller's roles from verified token claims.
// Implementations return a deduplicated, sorted set.
type RoleExtractor interface {
	Roles(claims jwt.MapClaims) []string
}

// RoleExtractorFunc adapts a function to RoleExtractor.
type RoleExtractorFunc func(claims jwt.MapClaims) []string

// Roles calls f.
func (f RoleExtractorFunc) Roles(claims jwt.MapClaims) []string {
	return normalizeRoles(f(claims))
}

// KeycloakRoleExtractor unions the realm-wide roles in realm_access.roles
// with the client-scoped roles in resource_access.<ClientID>.roles.
//
// The issuer places roles granted at realm level and roles granted on the
// gateway's client in two different claims; both count.
type KeycloakRoleExtractor struct {
	// ClientID selects the resource_access entry. Empty means every client.
	ClientID string
}

// Roles returns the merged role set.
func (k KeycloakRoleExtractor) Roles(claims jwt.MapClaims) []string {
	var roles []string
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		roles = append(roles, stringList(realm["roles"])...)
	}
	if resources, ok := claims["resource_access"].(map[string]any); ok {
		for client, entry := range resources {
			if k.ClientID != "" && client != k.ClientID {
				continue
			}
			if m, ok := entry.(map[string]any); ok {
				roles = append(roles, stringList(m["roles"])...)
			}
		}
	}
	return normalizeRoles(roles)
}

// ClaimRoleExtractor reads roles from a single top-level claim holding either
// a list or a space/comma separated string.
type ClaimRoleExtractor struct {
	// Claim is the claim name.
	// Default: "roles"
	Claim string
}

// Roles returns the roles in the claim.
func (c ClaimRoleExtractor) Roles(claims jwt.MapClaims) []string {
	name := c.Claim
	if name == "" {
		name = "roles"
	}
	return normalizeRoles(stringList(claims[name]))
}

// stringList converts a decoded JSON value into strings.
func stringList(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case string:
		return strings.FieldsFunc(val, func(r rune) bool { return r == ' ' || r == ',' })
	default:
		return nil
	}
}

func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

var (
	_ RoleExtractor = KeycloakRoleExtractor{}
	_ RoleExtractor = ClaimRoleExtractor{}
	_ RoleExtractor = RoleExtractorFunc(nil)
)
