package services

import (
	"context"
	"errors"

	"github.com/userhub/apiserver/internal/store"
	"github.com/userhub/apiserver/types"
)

// TokenFinder is the slice of token persistence the guard needs to
// resolve token ownership.
type TokenFinder interface {
	GetByID(ctx context.Context, id int64) (types.AuthenticationToken, error)
}

// Guard decides, per operation, whether the acting principal may
// proceed. The principal is passed explicitly into every check; a nil
// principal is anonymous and is denied everything.
type Guard struct {
	tokens TokenFinder
}

func NewGuard(tokens TokenFinder) *Guard {
	return &Guard{tokens: tokens}
}

// IsOwnerOrAdmin reports whether the principal may operate on the token
// with the given id: admins always may, the token's owner may. A
// missing token is an error condition, not a false result — nothing can
// be authorized against a non-existent resource, and the enclosing
// operation must report it as not found before any destructive action.
func (g *Guard) IsOwnerOrAdmin(ctx context.Context, principal *types.Principal, tokenID int64) (bool, error) {
	if principal == nil {
		return false, nil
	}
	if principal.IsAdmin() {
		return true, nil
	}

	token, err := g.tokens.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, notFound("no such token")
		}
		return false, err
	}
	return token.OwnerUsername == principal.Username, nil
}

// CanReadUser reports whether the principal may read the account with
// the given username.
func (g *Guard) CanReadUser(principal *types.Principal, username string) bool {
	return g.isSelfOrAdmin(principal, username)
}

// CanWriteUser reports whether the principal may mutate the account
// with the given username.
func (g *Guard) CanWriteUser(principal *types.Principal, username string) bool {
	return g.isSelfOrAdmin(principal, username)
}

// CanDeleteUser reports whether the principal may delete the account
// with the given username.
func (g *Guard) CanDeleteUser(principal *types.Principal, username string) bool {
	return g.isSelfOrAdmin(principal, username)
}

// IsAdmin reports whether the principal holds the admin role.
func (g *Guard) IsAdmin(principal *types.Principal) bool {
	return principal.IsAdmin()
}

func (g *Guard) isSelfOrAdmin(principal *types.Principal, username string) bool {
	if principal == nil {
		return false
	}
	return principal.IsAdmin() || principal.Username == username
}
