package types

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	default:
		return false
	}
}

// SelfAssignable reports whether a user may pick r when registering.
// Admin accounts are provisioned out of band.
func (r Role) SelfAssignable() bool {
	return r == RolePatient || r == RoleDoctor
}

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. It is unique across accounts
	// and stored lower-cased.
	Email string `json:"email" db:"email"`

	// Role is fixed when the account is created.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// It is empty for accounts created through an OAuth provider and
	// is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// OAuthProvider names the identity provider that created the account
	// (e.g., "google"), empty for local accounts.
	OAuthProvider string `json:"oauth_provider,omitempty" db:"oauth_provider"`

	// OAuthSubject is the provider's stable identifier for the user.
	OAuthSubject string `json:"-" db:"oauth_subject"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Identity is the subset of a user carried inside an access token.
type Identity struct {
	ID   int  `json:"id"`
	Role Role `json:"role"`
}
