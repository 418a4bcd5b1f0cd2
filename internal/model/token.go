package model

import "time"

// Credential is one issued OAuth2 access/refresh token pair for the
// accounting system. Records are appended, never updated; the one with the
// latest IssuedAt is authoritative.
type Credential struct {
	ID           int64     `json:"id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresIn    int64     `json:"expires_in"` // seconds
	RealmID      string    `json:"realm_id"`
}

// ExpiresAt returns the instant the access token stops being valid.
func (c *Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.ExpiresIn) * time.Second)
}

// IsStale reports whether the access token is expired or will expire within
// skew of now.
func (c *Credential) IsStale(now time.Time, skew time.Duration) bool {
	validity := time.Duration(c.ExpiresIn) * time.Second
	return now.Sub(c.IssuedAt) >= validity-skew
}

// TokenStatus summarizes the authoritative credential for callers.
type TokenStatus struct {
	Connected        bool      `json:"connected"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
	Message          string    `json:"message"`
	RealmID          string    `json:"realm_id,omitempty"`
	IssuedAt         time.Time `json:"issued_at,omitempty"`
}
