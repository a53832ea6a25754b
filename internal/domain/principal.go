// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrIdentityEmpty      = errors.New("identity empty")
)

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the roles this control plane issues.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleUser, RoleGuest, RoleAdmin:
		return true
	}
	return false
}

// Principal is an authenticated identity resolved from a bearer credential.
type Principal struct {
	ID          ParticipantID `json:"id"`
	Role        Role          `json:"role"`
	DisplayName string        `json:"displayName,omitempty"`
}

// NewPrincipal is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPrincipal(id ParticipantID, role Role, displayName string) (Principal, error) {
	if id == "" {
		return Principal{}, ErrIdentityEmpty
	}
	if !role.Valid() {
		role = RoleGuest
	}
	if len(displayName) > MaxDisplayNameLen {
		return Principal{}, ErrDisplayNameTooLong
	}
	return Principal{ID: id, Role: role, DisplayName: displayName}, nil
}
