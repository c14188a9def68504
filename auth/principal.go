package auth

import (
	"slices"
	"time"
)

// Principal is the authenticated caller for one request. It is derived from
// a verified token and never persisted.
type Principal struct {
	Subject        string   `json:"sub"`
	Username       string   `json:"username,omitempty"`
	Email          string   `json:"email,omitempty"`
	Roles          []string `json:"roles"`
	OrganizationID string   `json:"organizationId,omitempty"`

	// TokenID is the jti of the token the principal came from.
	TokenID string `json:"-"`

	// ExpiresAt is the token expiry.
	ExpiresAt time.Time `json:"-"`
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Roles, role)
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}
