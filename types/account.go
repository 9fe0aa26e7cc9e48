package types

import "time"

// Role is an authorization level granted to an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole returns the Role named by s, or false if s is not a
// recognized role name.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), true
	default:
		return "", false
	}
}

// Account represents a registered user identity.
type Account struct {
	// ID is the unique identifier of the account.
	ID int64 `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Roles is the set of roles granted to the account. The slice is
	// treated as an immutable value: mutation helpers return a new
	// slice rather than editing in place.
	Roles []Role `json:"roles"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// DeletedAt marks the account as soft-deleted when non-nil.
	// Soft-deleted accounts are invisible to every lookup.
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// HasRole reports whether the account holds the given role.
func (a Account) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithRole returns the account's role set with role added.
// Adding a role that is already held returns an equal set.
func (a Account) WithRole(role Role) []Role {
	if a.HasRole(role) {
		return append([]Role(nil), a.Roles...)
	}
	roles := make([]Role, 0, len(a.Roles)+1)
	roles = append(roles, a.Roles...)
	return append(roles, role)
}

// WithoutRole returns the account's role set with role removed.
// Removing a role that is not held returns an equal set.
func (a Account) WithoutRole(role Role) []Role {
	roles := make([]Role, 0, len(a.Roles))
	for _, r := range a.Roles {
		if r != role {
			roles = append(roles, r)
		}
	}
	return roles
}
