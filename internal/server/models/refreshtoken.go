package models

import "time"

// RefreshToken is a long-lived, store-backed credential. Revoked only ever
// goes from false to true; expiry is never recorded, only derived.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the token is usable at now.
func (t *RefreshToken) Valid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Stale reports whether the token may be swept at now.
func (t *RefreshToken) Stale(now time.Time) bool {
	return t.Revoked || t.ExpiresAt.Before(now)
}
