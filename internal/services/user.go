package services

import (
	"context"
	"errors"

	"github.com/userhub/apiserver/internal/store"
	"github.com/userhub/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	usernameMinLength = 4
	usernameMaxLength = 64
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	GetByUsername(ctx context.Context, username string) (types.Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, account types.Account, passwordHash string) (types.Account, error)
	UpdateUsername(ctx context.Context, id int64, username string) error
	ReplaceRoles(ctx context.Context, id int64, roles []types.Role) error
	SoftDelete(ctx context.Context, id int64) error
}

// CredentialRepository defines persistence operations for the
// append-only credential history.
type CredentialRepository interface {
	GetCurrentByAccount(ctx context.Context, accountID int64) (types.Credential, error)
	Create(ctx context.Context, accountID int64, passwordHash string) (types.Credential, error)
}

// UserService orchestrates account CRUD and role management, delegating
// authorization to the guard and password checks to the validator.
type UserService struct {
	accounts    AccountRepository
	credentials CredentialRepository
	validator   *PasswordValidator
	guard       *Guard
}

func NewUserService(accounts AccountRepository, credentials CredentialRepository,
	validator *PasswordValidator, guard *Guard) *UserService {
	return &UserService{
		accounts:    accounts,
		credentials: credentials,
		validator:   validator,
		guard:       guard,
	}
}

// Register creates an account with the default role set and its first
// credential. The uniqueness pre-check is a fast path; the store's
// unique constraint is the real guarantee, and a constraint violation
// on insert converts to the same unique violation error.
func (s *UserService) Register(ctx context.Context, username, password string) (types.Account, error) {
	if err := validateUsername(username); err != nil {
		return types.Account{}, err
	}

	taken, err := s.accounts.ExistsByUsername(ctx, username)
	if err != nil {
		return types.Account{}, err
	}
	if taken {
		return types.Account{}, uniqueViolation("username", "The username is already in use.")
	}

	if err := s.validator.Validate(password); err != nil {
		return types.Account{}, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.Account{}, err
	}

	account, err := s.accounts.Create(ctx, types.Account{
		Username: username,
		Roles:    []types.Role{types.RoleUser},
	}, string(hashed))
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.Account{}, uniqueViolation("username", "The username is already in use.")
		}
		return types.Account{}, err
	}
	return account, nil
}

// GetByUsername returns the account with the given username.
func (s *UserService) GetByUsername(ctx context.Context, principal *types.Principal, username string) (types.Account, error) {
	if !s.guard.CanReadUser(principal, username) {
		return types.Account{}, unauthorized("cannot read this user")
	}
	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, notFound("no such user")
		}
		return types.Account{}, err
	}
	return account, nil
}

// ChangeUsername renames the account, re-checking uniqueness of the new
// name before applying.
func (s *UserService) ChangeUsername(ctx context.Context, principal *types.Principal, oldUsername, newUsername string) error {
	if !s.guard.CanWriteUser(principal, oldUsername) {
		return unauthorized("cannot write this user")
	}
	if err := validateUsername(newUsername); err != nil {
		return err
	}

	account, err := s.accounts.GetByUsername(ctx, oldUsername)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("no such user")
		}
		return err
	}

	taken, err := s.accounts.ExistsByUsername(ctx, newUsername)
	if err != nil {
		return err
	}
	if taken {
		return uniqueViolation("username", "The username is already in use.")
	}

	if err := s.accounts.UpdateUsername(ctx, account.ID, newUsername); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return uniqueViolation("username", "The username is already in use.")
		}
		return err
	}
	return nil
}

// ChangePassword appends a new credential after verifying the current
// password. The old credential rows are never touched; a mismatch
// leaves the history unchanged.
func (s *UserService) ChangePassword(ctx context.Context, principal *types.Principal,
	username, currentPassword, newPassword string) error {
	if !s.guard.CanWriteUser(principal, username) {
		return unauthorized("cannot write this user")
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("no such user")
		}
		return err
	}
	credential, err := s.credentials.GetCurrentByAccount(ctx, account.ID)
	if err != nil {
		return err
	}

	if currentPassword == "" ||
		bcrypt.CompareHashAndPassword([]byte(credential.PasswordHash), []byte(currentPassword)) != nil {
		return unauthorized("the current password did not match")
	}

	if err := s.validator.Validate(newPassword); err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if _, err := s.credentials.Create(ctx, account.ID, string(hashed)); err != nil {
		return err
	}
	return nil
}

// GetRoles returns the account's role set.
func (s *UserService) GetRoles(ctx context.Context, principal *types.Principal, username string) ([]types.Role, error) {
	if !s.guard.IsAdmin(principal) {
		return nil, unauthorized("admin role required")
	}
	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("no such user")
		}
		return nil, err
	}
	return account.Roles, nil
}

// AddRole grants the role to the account. Adding a role that is already
// held is a no-op.
func (s *UserService) AddRole(ctx context.Context, principal *types.Principal, username string, role types.Role) error {
	return s.mutateRoles(ctx, principal, username, role, types.Account.WithRole)
}

// RemoveRole revokes the role from the account. Removing a role that is
// not held is a no-op.
func (s *UserService) RemoveRole(ctx context.Context, principal *types.Principal, username string, role types.Role) error {
	return s.mutateRoles(ctx, principal, username, role, types.Account.WithoutRole)
}

func (s *UserService) mutateRoles(ctx context.Context, principal *types.Principal, username string,
	role types.Role, apply func(types.Account, types.Role) []types.Role) error {
	if !s.guard.IsAdmin(principal) {
		return unauthorized("admin role required")
	}
	if _, ok := types.ParseRole(string(role)); !ok {
		return validationError(FieldCause{
			Field: "role", Cause: CauseIllegal, Message: "Unrecognized role.",
		})
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("no such user")
		}
		return err
	}
	return s.accounts.ReplaceRoles(ctx, account.ID, apply(account, role))
}

// DeleteByUsername soft-deletes the account and blacklists all of its
// outstanding tokens. Deleting an absent account is a silent no-op.
func (s *UserService) DeleteByUsername(ctx context.Context, principal *types.Principal, username string) error {
	if !s.guard.CanDeleteUser(principal, username) {
		return unauthorized("cannot delete this user")
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.accounts.SoftDelete(ctx, account.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return validationError(FieldCause{
			Field: "username", Cause: CauseMissing, Message: "The username is missing.",
		})
	}
	length := len([]rune(username))
	if length < usernameMinLength {
		return validationError(FieldCause{
			Field: "username", Cause: CauseTooShort, Message: "The username is too short.",
		})
	}
	if length > usernameMaxLength {
		return validationError(FieldCause{
			Field: "username", Cause: CauseTooLong, Message: "The username is too long.",
		})
	}
	return nil
}
