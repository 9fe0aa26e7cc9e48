package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/userhub/apiserver/types"
)

// AccountRepository handles persistence for accounts and their role sets.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByUsername loads an account together with its role set in a single
// query pass, so the returned role slice is an internally consistent
// snapshot with respect to concurrent role mutation.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	const query = `
		SELECT u.id, u.username, u.created_at, u.updated_at,
			COALESCE(array_agg(ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.username = $1 AND u.deleted_at IS NULL
		GROUP BY u.id`
	var account types.Account
	var roles []string
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&account.ID,
		&account.Username,
		&account.CreatedAt,
		&account.UpdatedAt,
		pq.Array(&roles),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.Roles = make([]types.Role, 0, len(roles))
	for _, role := range roles {
		account.Roles = append(account.Roles, types.Role(role))
	}
	return account, nil
}

func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts the account, its role set, and its first credential in
// one transaction. A created account without a credential must never be
// observable, so the writes are not split across calls.
func (r *AccountRepository) Create(ctx context.Context, account types.Account, passwordHash string) (types.Account, error) {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Account{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertUser = `
		INSERT INTO users (username, created_at, updated_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, insertUser, account.Username, account.CreatedAt, account.UpdatedAt).
		Scan(&account.ID); err != nil {
		return types.Account{}, translateUnique(err)
	}

	const insertRole = `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`
	for _, role := range account.Roles {
		if _, err := tx.ExecContext(ctx, insertRole, account.ID, string(role)); err != nil {
			return types.Account{}, err
		}
	}

	const insertCredential = `
		INSERT INTO user_credentials (user_id, hashed_password, created_at)
		VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, insertCredential, account.ID, passwordHash, now); err != nil {
		return types.Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) UpdateUsername(ctx context.Context, id int64, username string) error {
	const query = `
		UPDATE users
		SET username = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, username, time.Now(), id)
	if err != nil {
		return translateUnique(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceRoles persists a full replacement of the account's role set.
// The account's role slice is an immutable value; mutation happens by
// computing a new set and storing it here.
func (r *AccountRepository) ReplaceRoles(ctx context.Context, id int64, roles []types.Role) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const deleteRoles = `DELETE FROM user_roles WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, deleteRoles, id); err != nil {
		return err
	}

	const insertRole = `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, insertRole, id, string(role)); err != nil {
			return err
		}
	}

	const touch = `UPDATE users SET updated_at = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, touch, time.Now(), id); err != nil {
		return err
	}

	return tx.Commit()
}

// SoftDelete marks the account deleted and blacklists every outstanding
// token it owns, in one transaction. Credential and token history rows
// are retained, and the username stays reserved.
func (r *AccountRepository) SoftDelete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const markDeleted = `
		UPDATE users
		SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL`
	result, err := tx.ExecContext(ctx, markDeleted, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	const blacklistTokens = `UPDATE authentication_tokens SET valid = FALSE WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, blacklistTokens, id); err != nil {
		return err
	}

	return tx.Commit()
}
