package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/userhub/apiserver/types"
)

// CredentialRepository handles persistence for the append-only credential
// history of accounts.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetCurrentByAccount returns the account's authoritative credential:
// the one with the maximum creation timestamp. "Current" is derived
// from the history, not stored as a flag.
func (r *CredentialRepository) GetCurrentByAccount(ctx context.Context, accountID int64) (types.Credential, error) {
	const query = `
		SELECT id, user_id, hashed_password, created_at
		FROM user_credentials
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	var credential types.Credential
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&credential.ID,
		&credential.AccountID,
		&credential.PasswordHash,
		&credential.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Credential{}, ErrNotFound
		}
		return types.Credential{}, err
	}
	return credential, nil
}

// Create appends a new credential row. Existing rows are never mutated
// or deleted.
func (r *CredentialRepository) Create(ctx context.Context, accountID int64, passwordHash string) (types.Credential, error) {
	credential := types.Credential{
		AccountID:    accountID,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}

	const query = `
		INSERT INTO user_credentials (user_id, hashed_password, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, credential.AccountID, credential.PasswordHash, credential.CreatedAt).
		Scan(&credential.ID); err != nil {
		return types.Credential{}, err
	}
	return credential, nil
}
