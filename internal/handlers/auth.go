package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/userhub/apiserver/internal/services"
	"github.com/userhub/apiserver/types"
)

// AuthHandler provides login and token lifecycle endpoints.
type AuthHandler struct {
	tokenService *services.TokenService
}

func NewAuthHandler(tokenService *services.TokenService) *AuthHandler {
	return &AuthHandler{tokenService: tokenService}
}

// AuthRouter registers auth routes on the given router. Login is
// anonymous, but a bearer token that is supplied and invalid is still
// rejected rather than silently ignored.
func AuthRouter(r chi.Router, tokenService *services.TokenService) {
	handler := NewAuthHandler(tokenService)

	r.With(handler.OptionalAuth).Post("/login", handler.Login)
}

// TokenRouter registers token lifecycle routes. Validity checking is on
// the optional-authentication allowlist; blacklisting requires a
// principal for the owner-or-admin check.
func TokenRouter(r chi.Router, tokenService *services.TokenService) {
	handler := NewAuthHandler(tokenService)

	r.With(handler.OptionalAuth).Get("/{id}/validity", handler.Validity)
	r.With(handler.RequireAuth).Delete("/{id}", handler.Blacklist)
}

// RequireAuth enforces bearer-token authentication and injects the
// decoded principal into the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, err := h.tokenService.FromEncodedToken(r.Context(), raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		principal := &types.Principal{Username: claims.Username, Roles: claims.Roles}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// OptionalAuth decodes a bearer token when one is supplied but lets
// anonymous requests through. A token that is supplied and invalid is
// still rejected; "no token" and "bad token" are different things.
func (h *AuthHandler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := h.tokenService.FromEncodedToken(r.Context(), raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		principal := &types.Principal{Username: claims.Username, Roles: claims.Roles}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// Login checks credentials and issues a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	id, raw, err := h.tokenService.CreateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, LoginResponse{
		ID:    encodeTokenID(id),
		Token: raw,
	})
}

// Validity reports whether the token with the given id is active and
// owned by the queried username.
func (h *AuthHandler) Validity(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))

	valid, err := h.tokenService.IsValidToken(r.Context(), id, username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidityResponse{Valid: valid})
}

// Blacklist revokes the token with the given id.
func (h *AuthHandler) Blacklist(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	principal := principalFromContext(r.Context())
	if err := h.tokenService.BlacklistToken(r.Context(), principal, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type ValidityResponse struct {
	Valid bool `json:"valid"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
