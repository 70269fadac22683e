// Package session defines the OAuth install session: the one stateful
// entity in the system. A session is created when a portal starts the
// install flow and carries the token material for every later proxied call.
package session

import "time"

// Status tracks where a session is in the install flow. There is no
// explicit revoked or expired status; access token expiry is derived from
// ExpiresAt and a dead refresh token surfaces as a reauth failure at
// resolve time.
type Status string

const (
	StatusInitiated     Status = "initiated"
	StatusAuthenticated Status = "authenticated"
)

// Session binds an install attempt to the tokens it produced.
//
// State is the opaque correlation id minted at install time. It is both
// the primary store key and the anti-CSRF state parameter echoed back by
// the HubSpot consent redirect. Immutable once created.
//
// AccessToken and RefreshToken are SENSITIVE: never log them. Audit
// correlation uses sha256 prefixes instead (see internal/audit).
type Session struct {
	State     string
	Status    Status
	CreatedAt time.Time

	// Token material. All three are absent while the session is pending
	// and all present once it is authenticated.
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// PortalID is the HubSpot account id attached after the post-exchange
	// account-info lookup. Secondary lookup key for every proxied call.
	PortalID int64

	// AuthenticatedAt orders competing installs for the same portal:
	// FindByPortal returns the most recently authenticated session.
	AuthenticatedAt time.Time
}

// Authenticated reports whether the install has completed.
func (s *Session) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// TokenValidAt reports whether the stored access token can still be used
// at the given instant. Expiry at exactly now counts as expired.
func (s *Session) TokenValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Update is a partial record for Store.Update. Nil fields are left
// untouched; set fields are merged into the stored session.
type Update struct {
	Status          *Status
	AccessToken     *string
	RefreshToken    *string
	ExpiresAt       *time.Time
	PortalID        *int64
	AuthenticatedAt *time.Time
}

// Apply merges the update into a session copy.
func (u Update) Apply(s *Session) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.AccessToken != nil {
		s.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		s.RefreshToken = *u.RefreshToken
	}
	if u.ExpiresAt != nil {
		s.ExpiresAt = *u.ExpiresAt
	}
	if u.PortalID != nil {
		s.PortalID = *u.PortalID
	}
	if u.AuthenticatedAt != nil {
		s.AuthenticatedAt = *u.AuthenticatedAt
	}
}
