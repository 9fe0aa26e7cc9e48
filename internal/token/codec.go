// Package token implements the authentication token codec: signing token
// claims into an opaque JWT string and recovering validated claims from
// one, without consulting any store.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/userhub/apiserver/types"
)

const rolesClaimName = "roles"

// ErrMissingToken is returned when Decode is given an empty string.
// Callers must be able to distinguish "no token supplied" from "token
// supplied but invalid".
var ErrMissingToken = errors.New("no token supplied")

// ErrDecoding is returned when a supplied token cannot be verified or
// its claims do not pass structural validation.
var ErrDecoding = errors.New("token decoding failed")

// Codec signs and verifies token claims. Both the HMAC and the RSA
// variants are supported; the RSA variant is preferable when tokens are
// verified by services other than the issuer.
type Codec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	ttl       time.Duration
}

// NewHMACCodec returns a codec signing and verifying with a shared
// secret (HS256). ttl is the validity duration stamped into every
// encoded token.
func NewHMACCodec(secret []byte, ttl time.Duration) *Codec {
	return &Codec{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		ttl:       ttl,
	}
}

// NewRSACodec returns a codec signing with the private key and
// verifying with its public key (RS512).
func NewRSACodec(key *rsa.PrivateKey, ttl time.Duration) *Codec {
	return &Codec{
		method:    jwt.SigningMethodRS512,
		signKey:   key,
		verifyKey: &key.PublicKey,
		ttl:       ttl,
	}
}

// Encode builds a signed token from the given identity snapshot. The
// issued-at and expiration instants are stamped here; the returned
// string is independently verifiable from the claims alone.
func (c *Codec) Encode(id int64, username string, roles []types.Role) (string, error) {
	roleNames := make([]string, len(roles))
	for i, role := range roles {
		roleNames[i] = string(role)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"jti":          strconv.FormatInt(id, 10),
		"sub":          username,
		rolesClaimName: roleNames,
		"iat":          jwt.NewNumericDate(now),
		"exp":          jwt.NewNumericDate(now.Add(c.ttl)),
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and validates the claims of raw,
// returning the embedded claims. Signature validity, expiry, and
// future issued-at are checked by the JWT library; the structural
// checks on id, subject, and roles follow. An empty input fails fast
// with ErrMissingToken; every other failure wraps ErrDecoding.
func (c *Codec) Decode(raw string) (types.TokenClaims, error) {
	if raw == "" {
		return types.TokenClaims{}, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.verifyKey, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return types.TokenClaims{}, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	if !parsed.Valid {
		return types.TokenClaims{}, ErrDecoding
	}

	id, err := tokenID(claims)
	if err != nil {
		return types.TokenClaims{}, err
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return types.TokenClaims{}, fmt.Errorf("%w: missing subject", ErrDecoding)
	}

	roles, err := roleSet(claims)
	if err != nil {
		return types.TokenClaims{}, err
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return types.TokenClaims{}, fmt.Errorf("%w: missing issued-at", ErrDecoding)
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return types.TokenClaims{}, fmt.Errorf("%w: missing expiration", ErrDecoding)
	}

	return types.TokenClaims{
		TokenID:   id,
		Username:  subject,
		Roles:     roles,
		IssuedAt:  issuedAt.Time,
		ExpiresAt: expiresAt.Time,
	}, nil
}

func tokenID(claims jwt.MapClaims) (int64, error) {
	value, ok := claims["jti"]
	if !ok {
		return 0, fmt.Errorf("%w: missing token id", ErrDecoding)
	}
	str, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("%w: token id is not a string", ErrDecoding)
	}
	id, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: token id is not an integer", ErrDecoding)
	}
	return id, nil
}

func roleSet(claims jwt.MapClaims) ([]types.Role, error) {
	value, ok := claims[rolesClaimName]
	if !ok {
		return nil, fmt.Errorf("%w: missing roles", ErrDecoding)
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: roles is not a collection", ErrDecoding)
	}
	roles := make([]types.Role, 0, len(list))
	for _, element := range list {
		name, ok := element.(string)
		if !ok {
			return nil, fmt.Errorf("%w: role is not a string", ErrDecoding)
		}
		role, ok := types.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("%w: unrecognized role %q", ErrDecoding, name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}
