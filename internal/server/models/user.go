// Package models defines server-side data models persisted in the database.
package models

import (
	"strings"
	"time"
)

// RoleAdmin grants the operational /admin endpoints. It is never
// self-assigned at registration.
const RoleAdmin = "admin"

// Privileged reports whether role may only be granted by an operator.
func Privileged(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), RoleAdmin)
}

// User is an account known to the identity provider.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Profile is the public view of a user returned to clients.
type Profile struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// NewProfile maps a user and its roles to the public shape.
func NewProfile(u *User, roles []string) *Profile {
	if roles == nil {
		roles = []string{}
	}
	return &Profile{ID: u.ID, Email: u.Email, Roles: roles}
}
