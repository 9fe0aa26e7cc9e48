package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"

	"github.com/userhub/apiserver/internal/store"
	"github.com/userhub/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// maxTokenIDTries bounds the collision retry loop during issuance.
// Collisions in a random 64-bit space are vanishingly rare; exhausting
// the bound indicates a generator fault, not bad luck.
const maxTokenIDTries = 10

// TokenRepository defines persistence operations for token records.
type TokenRepository interface {
	GetByID(ctx context.Context, id int64) (types.AuthenticationToken, error)
	ExistsByID(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, token types.AuthenticationToken) (types.AuthenticationToken, error)
	Blacklist(ctx context.Context, id int64) error
	ListByOwner(ctx context.Context, accountID int64, offset, limit int) ([]types.AuthenticationToken, int, error)
}

// TokenCodec signs claims into an opaque string and recovers validated
// claims from one.
type TokenCodec interface {
	Encode(id int64, username string, roles []types.Role) (string, error)
	Decode(raw string) (types.TokenClaims, error)
}

// TokenService orchestrates the authentication token lifecycle:
// credential check, token allocation and encoding, decode-plus-revocation
// validation, and blacklisting.
type TokenService struct {
	accounts    AccountRepository
	credentials CredentialRepository
	tokens      TokenRepository
	codec       TokenCodec
	guard       *Guard
}

func NewTokenService(accounts AccountRepository, credentials CredentialRepository,
	tokens TokenRepository, codec TokenCodec, guard *Guard) *TokenService {
	return &TokenService{
		accounts:    accounts,
		credentials: credentials,
		tokens:      tokens,
		codec:       codec,
		guard:       guard,
	}
}

// CreateToken checks the credentials and, on success, allocates and
// persists a token record and returns its id together with the encoded
// form. An unknown username and a wrong password fail identically.
func (s *TokenService) CreateToken(ctx context.Context, username, password string) (int64, string, error) {
	var causes []FieldCause
	if username == "" {
		causes = append(causes, FieldCause{Field: "username", Cause: CauseMissing, Message: "The username is missing."})
	}
	if password == "" {
		causes = append(causes, FieldCause{Field: "password", Cause: CauseMissing, Message: "The password is missing."})
	}
	if len(causes) > 0 {
		return 0, "", validationError(causes...)
	}

	// The role set is loaded with the account in one pass, so the
	// claims embed an internally consistent snapshot even if a role
	// mutation commits concurrently.
	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, "", invalidCredentials()
		}
		return 0, "", err
	}

	credential, err := s.credentials.GetCurrentByAccount(ctx, account.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, "", invalidCredentials()
		}
		return 0, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(credential.PasswordHash), []byte(password)); err != nil {
		return 0, "", invalidCredentials()
	}

	saved, err := s.allocateToken(ctx, account.ID)
	if err != nil {
		return 0, "", err
	}

	encoded, err := s.codec.Encode(saved.ID, account.Username, account.Roles)
	if err != nil {
		return 0, "", err
	}
	return saved.ID, encoded, nil
}

// allocateToken draws random ids until one inserts cleanly. The store's
// primary key constraint is the real uniqueness guarantee; a duplicate
// insert converts to a retry rather than undefined behavior.
func (s *TokenService) allocateToken(ctx context.Context, accountID int64) (types.AuthenticationToken, error) {
	for tries := 0; tries < maxTokenIDTries; tries++ {
		id, err := randomTokenID()
		if err != nil {
			return types.AuthenticationToken{}, err
		}

		exists, err := s.tokens.ExistsByID(ctx, id)
		if err != nil {
			return types.AuthenticationToken{}, err
		}
		if exists {
			continue
		}

		saved, err := s.tokens.Create(ctx, types.AuthenticationToken{
			ID:        id,
			AccountID: accountID,
			Valid:     true,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return types.AuthenticationToken{}, err
		}
		return saved, nil
	}
	return types.AuthenticationToken{}, tokenAllocationFailure(maxTokenIDTries)
}

// FromEncodedToken decodes raw and additionally verifies the token is
// still active in the store and that the embedded username matches the
// persisted owner. All three failure modes surface as the same invalid
// token error; only a completely absent input is reported separately.
func (s *TokenService) FromEncodedToken(ctx context.Context, raw string) (types.TokenClaims, error) {
	if raw == "" {
		return types.TokenClaims{}, validationError(FieldCause{
			Field: "token", Cause: CauseMissing, Message: "The token is missing.",
		})
	}

	claims, err := s.codec.Decode(raw)
	if err != nil {
		return types.TokenClaims{}, invalidToken()
	}

	record, err := s.tokens.GetByID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenClaims{}, invalidToken()
		}
		return types.TokenClaims{}, err
	}
	if !record.Valid || record.OwnerUsername != claims.Username {
		return types.TokenClaims{}, invalidToken()
	}
	return claims, nil
}

// IsValidToken reports whether a token with the given id exists, is
// active, and is owned by the account with the given username.
func (s *TokenService) IsValidToken(ctx context.Context, id int64, username string) (bool, error) {
	if username == "" {
		return false, validationError(FieldCause{
			Field: "username", Cause: CauseMissing, Message: "The username is missing.",
		})
	}

	record, err := s.tokens.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.Valid && record.OwnerUsername == username, nil
}

// BlacklistToken revokes the token with the given id. The transition is
// one-way and idempotent; revoking an already-revoked token succeeds.
// The guard resolves the token first, so an unknown id surfaces as not
// found before anything else happens.
func (s *TokenService) BlacklistToken(ctx context.Context, principal *types.Principal, id int64) error {
	allowed, err := s.guard.IsOwnerOrAdmin(ctx, principal, id)
	if err != nil {
		return err
	}
	if !allowed {
		return unauthorized("not the token owner")
	}
	return s.tokens.Blacklist(ctx, id)
}

// ListTokens returns one page of the account's active tokens.
func (s *TokenService) ListTokens(ctx context.Context, principal *types.Principal,
	username string, page, pageSize int) (types.TokenPage, error) {
	if !s.guard.CanReadUser(principal, username) {
		return types.TokenPage{}, unauthorized("cannot read this user's tokens")
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPage{}, notFound("no such user")
		}
		return types.TokenPage{}, err
	}

	if page < 0 {
		page = 0
	}
	if pageSize < 1 {
		pageSize = 20
	}
	tokens, total, err := s.tokens.ListByOwner(ctx, account.ID, page*pageSize, pageSize)
	if err != nil {
		return types.TokenPage{}, err
	}

	data := make([]types.TokenData, 0, len(tokens))
	for _, t := range tokens {
		data = append(data, types.TokenData{
			ID:       t.ID,
			Username: account.Username,
			Roles:    account.Roles,
		})
	}
	return types.TokenPage{
		Tokens:   data,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

func randomTokenID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	// Keep ids in the non-negative int63 range so the decimal string
	// form is sign-free for URL encoding.
	return int64(binary.BigEndian.Uint64(buf[:]) & math.MaxInt64), nil
}
