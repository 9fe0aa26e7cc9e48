package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/userhub/apiserver/internal/token"
	"github.com/userhub/apiserver/types"
)

type userFixture struct {
	db           *memDB
	credentials  *memCredentials
	userService  *UserService
	tokenService *TokenService
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	db := newMemDB()
	accounts := &memAccounts{db: db}
	credentials := &memCredentials{db: db}
	tokens := &memTokens{db: db}
	guard := NewGuard(tokens)
	codec := token.NewHMACCodec([]byte("test-secret"), time.Hour)
	return &userFixture{
		db:           db,
		credentials:  credentials,
		userService:  NewUserService(accounts, credentials, NewPasswordValidator(), guard),
		tokenService: NewTokenService(accounts, credentials, tokens, codec, guard),
	}
}

func asSelf(username string) *types.Principal {
	return &types.Principal{Username: username, Roles: []types.Role{types.RoleUser}}
}

func asAdmin() *types.Principal {
	return &types.Principal{Username: "root", Roles: []types.Role{types.RoleAdmin}}
}

func TestRegister_ThenLogin(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	account, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, []types.Role{types.RoleUser}, account.Roles)

	_, raw, err := f.tokenService.CreateToken(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)

	claims, err := f.tokenService.FromEncodedToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []types.Role{types.RoleUser}, claims.Roles)
}

func TestRegister_UsernameValidation(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.userService.Register(ctx, "", "Valid1Pass!")
	require.Equal(t, []string{CauseMissing}, causeCodes(t, err))

	_, err = f.userService.Register(ctx, "abc", "Valid1Pass!")
	require.Equal(t, []string{CauseTooShort}, causeCodes(t, err))

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.userService.Register(ctx, string(long), "Valid1Pass!")
	require.Equal(t, []string{CauseTooLong}, causeCodes(t, err))
}

func TestRegister_WeakPassword(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)

	_, err := f.userService.Register(context.Background(), "alice", "weak")
	require.True(t, IsKind(err, KindValidation))

	// A rejected registration creates nothing.
	_, getErr := f.userService.GetByUsername(context.Background(), asAdmin(), "alice")
	require.True(t, IsKind(getErr, KindNotFound))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	first, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)

	_, err = f.userService.Register(ctx, "alice", "Other1Pass!")
	require.True(t, IsKind(err, KindUniqueViolation), "got %v", err)
	assert.Equal(t, "username", err.(*Error).Field)

	// The first account is unaffected: same identity, same single
	// credential, login still works with the original password.
	got, err := f.userService.GetByUsername(ctx, asSelf("alice"), "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 1, f.credentials.count(first.ID))

	_, _, err = f.tokenService.CreateToken(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)
}

func TestRegister_ConstraintWinsInsertRace(t *testing.T) {
	t.Parallel()

	// The pre-check reports the name free but the insert still hits the
	// unique constraint, as happens when a concurrent registration lands
	// between the two. The constraint violation must surface as the same
	// unique violation the fast path reports.
	db := newMemDB()
	accounts := &racingAccounts{memAccounts: &memAccounts{db: db}}
	service := NewUserService(accounts, &memCredentials{db: db},
		NewPasswordValidator(), NewGuard(&memTokens{db: db}))

	_, err := service.Register(context.Background(), "alice", "Valid1Pass!")
	require.True(t, IsKind(err, KindUniqueViolation), "got %v", err)
	assert.Equal(t, "username", err.(*Error).Field)
}

func TestChangeUsername_ConstraintWinsUpdateRace(t *testing.T) {
	t.Parallel()

	db := newMemDB()
	db.accounts[1] = types.Account{ID: 1, Username: "alice", Roles: []types.Role{types.RoleUser}}
	accounts := &racingAccounts{memAccounts: &memAccounts{db: db}}
	service := NewUserService(accounts, &memCredentials{db: db},
		NewPasswordValidator(), NewGuard(&memTokens{db: db}))

	err := service.ChangeUsername(context.Background(), asSelf("alice"), "alice", "alice_two")
	require.True(t, IsKind(err, KindUniqueViolation), "got %v", err)
	assert.Equal(t, "username", err.(*Error).Field)
}

func TestGetByUsername_Authorization(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)

	_, err = f.userService.GetByUsername(ctx, asSelf("mallory"), "alice")
	require.True(t, IsKind(err, KindUnauthorized))

	_, err = f.userService.GetByUsername(ctx, nil, "alice")
	require.True(t, IsKind(err, KindUnauthorized))

	_, err = f.userService.GetByUsername(ctx, asAdmin(), "alice")
	require.NoError(t, err)
}

func TestChangeUsername(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)
	_, err = f.userService.Register(ctx, "taken_name", "Valid1Pass!")
	require.NoError(t, err)

	err = f.userService.ChangeUsername(ctx, asSelf("alice"), "alice", "taken_name")
	require.True(t, IsKind(err, KindUniqueViolation))

	require.NoError(t, f.userService.ChangeUsername(ctx, asSelf("alice"), "alice", "alice_two"))

	_, err = f.userService.GetByUsername(ctx, asAdmin(), "alice")
	require.True(t, IsKind(err, KindNotFound))
	got, err := f.userService.GetByUsername(ctx, asAdmin(), "alice_two")
	require.NoError(t, err)
	assert.Equal(t, "alice_two", got.Username)
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	account, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)

	// A wrong current password is Unauthorized and must not grow the
	// credential history.
	err = f.userService.ChangePassword(ctx, asSelf("alice"), "alice", "WrongPass1!", "Newer1Pass!")
	require.True(t, IsKind(err, KindUnauthorized))
	assert.Equal(t, 1, f.credentials.count(account.ID))

	err = f.userService.ChangePassword(ctx, asSelf("alice"), "alice", "", "Newer1Pass!")
	require.True(t, IsKind(err, KindUnauthorized))

	require.NoError(t, f.userService.ChangePassword(ctx, asSelf("alice"), "alice", "Valid1Pass!", "Newer1Pass!"))
	assert.Equal(t, 2, f.credentials.count(account.ID))

	// Only the newest credential authenticates.
	_, _, err = f.tokenService.CreateToken(ctx, "alice", "Valid1Pass!")
	require.True(t, IsKind(err, KindUnauthenticated))
	_, _, err = f.tokenService.CreateToken(ctx, "alice", "Newer1Pass!")
	require.NoError(t, err)
}

func TestRoleMutation_Idempotent(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)

	require.NoError(t, f.userService.AddRole(ctx, asAdmin(), "alice", types.RoleAdmin))
	require.NoError(t, f.userService.AddRole(ctx, asAdmin(), "alice", types.RoleAdmin))

	roles, err := f.userService.GetRoles(ctx, asAdmin(), "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Role{types.RoleUser, types.RoleAdmin}, roles)

	require.NoError(t, f.userService.RemoveRole(ctx, asAdmin(), "alice", types.RoleAdmin))
	require.NoError(t, f.userService.RemoveRole(ctx, asAdmin(), "alice", types.RoleAdmin))

	roles, err = f.userService.GetRoles(ctx, asAdmin(), "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Role{types.RoleUser}, roles)
}

func TestRoleMutation_Authorization(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)

	// Not even the account itself may grant roles.
	err = f.userService.AddRole(ctx, asSelf("alice"), "alice", types.RoleAdmin)
	require.True(t, IsKind(err, KindUnauthorized))

	err = f.userService.AddRole(ctx, asAdmin(), "alice", types.Role("superuser"))
	require.True(t, IsKind(err, KindValidation))

	err = f.userService.AddRole(ctx, asAdmin(), "nobody", types.RoleAdmin)
	require.True(t, IsKind(err, KindNotFound))
}

func TestDeleteByUsername(t *testing.T) {
	t.Parallel()

	f := newUserFixture(t)
	ctx := context.Background()

	_, err := f.userService.Register(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)
	id, _, err := f.tokenService.CreateToken(ctx, "alice", "Valid1Pass!")
	require.NoError(t, err)

	err = f.userService.DeleteByUsername(ctx, asSelf("mallory"), "alice")
	require.True(t, IsKind(err, KindUnauthorized))

	require.NoError(t, f.userService.DeleteByUsername(ctx, asSelf("alice"), "alice"))

	// The account is gone and its outstanding tokens are revoked.
	_, err = f.userService.GetByUsername(ctx, asAdmin(), "alice")
	require.True(t, IsKind(err, KindNotFound))
	valid, err := f.tokenService.IsValidToken(ctx, id, "alice")
	require.NoError(t, err)
	assert.False(t, valid)

	// Deleting an absent account is a silent no-op.
	require.NoError(t, f.userService.DeleteByUsername(ctx, asAdmin(), "alice"))
}
