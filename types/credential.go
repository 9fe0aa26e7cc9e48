package types

import "time"

// Credential is a historical password-hash record belonging to an account.
// Credentials are append-only: a password change creates a new row and the
// most recently created one is the authoritative ("current") credential.
type Credential struct {
	// ID is the unique identifier of the credential row.
	ID int64 `json:"id" db:"id"`

	// AccountID references the owning account.
	AccountID int64 `json:"account_id" db:"user_id"`

	// PasswordHash stores the one-way hash of the password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"hashed_password"`

	// CreatedAt orders the credential history; the maximum per
	// account determines the current credential.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
