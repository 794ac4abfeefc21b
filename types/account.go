package types

import (
	"strings"
	"time"
)

// Role is the authorization level of an account.
type Role string

const (
	// RoleUser is the default role assigned at registration.
	RoleUser Role = "USER"
	// RoleEditor can publish and curate content.
	RoleEditor Role = "EDITOR"
	// RoleAdmin can manage accounts and roles.
	RoleAdmin Role = "ADMIN"
)

// Roles lists every valid role.
var Roles = []Role{RoleUser, RoleEditor, RoleAdmin}

// ParseRole returns the role named by s, ignoring case.
func ParseRole(s string) (Role, bool) {
	candidate := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, role := range Roles {
		if role == candidate {
			return role, true
		}
	}
	return "", false
}

// Account represents a registered identity on the platform.
// It contains login identifiers, role, and profile metadata.
type Account struct {
	// ID is the opaque unique identifier of the account.
	ID string `json:"id" db:"id"`

	// Email is the login identifier, stored lower-cased.
	Email string `json:"email" db:"email"`

	// Username is the optional public handle. Empty when unset.
	Username string `json:"username,omitempty" db:"username"`

	// DisplayName is the name shown next to authored content.
	DisplayName string `json:"display_name,omitempty" db:"display_name"`

	// Role determines which downstream operations the account may perform.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt digest of the account's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// AvatarKey is the object storage key of the uploaded avatar, if any.
	AvatarKey string `json:"avatar_key,omitempty" db:"avatar_key"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Public returns a copy of the account with the password hash cleared.
func (a Account) Public() Account {
	a.PasswordHash = ""
	return a
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
