package types

import "time"

// AuthenticationToken is the persisted record of an issued bearer token.
// Its id is chosen by the issuer from a cryptographically random 64-bit
// space rather than a sequence, so token ids are unguessable and leak no
// ordering. The Valid flag only ever transitions true -> false.
type AuthenticationToken struct {
	// ID is the random identifier embedded in the encoded token.
	ID int64 `json:"id" db:"id"`

	// AccountID references the owning account.
	AccountID int64 `json:"account_id" db:"user_id"`

	// OwnerUsername is the username of the owning account at lookup
	// time, resolved by the store.
	OwnerUsername string `json:"username"`

	// Valid is false once the token has been blacklisted.
	Valid bool `json:"valid" db:"valid"`

	// CreatedAt is the timestamp when the token was issued.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TokenClaims is the structured payload embedded and signed inside an
// encoded token. Username and roles are a denormalized snapshot taken at
// issuance; role changes after issuance are not reflected until a new
// token is issued.
type TokenClaims struct {
	TokenID   int64     `json:"token_id"`
	Username  string    `json:"username"`
	Roles     []Role    `json:"roles"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenData is the listing view of an active token.
type TokenData struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Roles    []Role `json:"roles"`
}

// TokenPage is one page of an account's active tokens.
type TokenPage struct {
	Tokens   []TokenData `json:"tokens"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int         `json:"total"`
}
