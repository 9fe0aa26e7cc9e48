package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/userhub/apiserver/types"
)

// TokenRepository handles persistence for authentication token records.
type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// GetByID loads a token record together with its owner's username.
func (r *TokenRepository) GetByID(ctx context.Context, id int64) (types.AuthenticationToken, error) {
	const query = `
		SELECT t.id, t.user_id, u.username, t.valid, t.created_at
		FROM authentication_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1`
	var token types.AuthenticationToken
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&token.ID,
		&token.AccountID,
		&token.OwnerUsername,
		&token.Valid,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.AuthenticationToken{}, ErrNotFound
		}
		return types.AuthenticationToken{}, err
	}
	return token, nil
}

func (r *TokenRepository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM authentication_tokens WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts a token record with its caller-chosen id. An id already
// in use surfaces as ErrDuplicate via the primary key constraint, which
// is what makes the issuer's collision retry loop safe under concurrent
// issuance of the same id.
func (r *TokenRepository) Create(ctx context.Context, token types.AuthenticationToken) (types.AuthenticationToken, error) {
	token.CreatedAt = time.Now()

	const query = `
		INSERT INTO authentication_tokens (id, user_id, valid, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, token.ID, token.AccountID, token.Valid, token.CreatedAt); err != nil {
		return types.AuthenticationToken{}, translateUnique(err)
	}
	return token, nil
}

// Blacklist flips the token's valid flag to false. The transition is
// one-way and idempotent; an unknown id is a no-op, not an error.
func (r *TokenRepository) Blacklist(ctx context.Context, id int64) error {
	const query = `UPDATE authentication_tokens SET valid = FALSE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ListByOwner returns one page of the account's active tokens and the
// total count of active tokens. Blacklisted tokens are not listed.
func (r *TokenRepository) ListByOwner(ctx context.Context, accountID int64, offset, limit int) ([]types.AuthenticationToken, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `
		SELECT COUNT(1)
		FROM authentication_tokens
		WHERE user_id = $1 AND valid = TRUE`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT t.id, t.user_id, u.username, t.valid, t.created_at
		FROM authentication_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.user_id = $1 AND t.valid = TRUE
		ORDER BY t.created_at
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, accountID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tokens := make([]types.AuthenticationToken, 0, limit)
	for rows.Next() {
		var token types.AuthenticationToken
		if err := rows.Scan(
			&token.ID,
			&token.AccountID,
			&token.OwnerUsername,
			&token.Valid,
			&token.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tokens, total, nil
}
