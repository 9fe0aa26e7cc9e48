package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/userhub/apiserver/internal/services"
	"github.com/userhub/apiserver/types"
)

// UserHandler provides account CRUD and role management endpoints.
type UserHandler struct {
	userService  *services.UserService
	tokenService *services.TokenService
}

func NewUserHandler(userService *services.UserService, tokenService *services.TokenService) *UserHandler {
	return &UserHandler{userService: userService, tokenService: tokenService}
}

// UserRouter registers user routes. Registration is on the
// optional-authentication allowlist; everything else requires a
// principal, with per-operation authorization left to the services.
func UserRouter(r chi.Router, userService *services.UserService, tokenService *services.TokenService,
	requireAuth, optionalAuth func(http.Handler) http.Handler) {
	handler := NewUserHandler(userService, tokenService)

	r.With(optionalAuth).Post("/", handler.Register)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/{username}", handler.Get)
		r.Put("/{username}/username", handler.ChangeUsername)
		r.Put("/{username}/password", handler.ChangePassword)
		r.Get("/{username}/roles", handler.GetRoles)
		r.Put("/{username}/roles/{role}", handler.AddRole)
		r.Delete("/{username}/roles/{role}", handler.RemoveRole)
		r.Get("/{username}/tokens", handler.ListTokens)
		r.Delete("/{username}", handler.Delete)
	})
}

// Register creates a new account.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	account, err := h.userService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// Get returns the account with the username in the path.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	principal := principalFromContext(r.Context())

	account, err := h.userService.GetByUsername(r.Context(), principal, username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ChangeUsername renames the account.
func (h *UserHandler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	var req ChangeUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	username := chi.URLParam(r, "username")
	principal := principalFromContext(r.Context())
	if err := h.userService.ChangeUsername(r.Context(), principal, username,
		strings.TrimSpace(req.NewUsername)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword appends a new credential for the account.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	username := chi.URLParam(r, "username")
	principal := principalFromContext(r.Context())
	if err := h.userService.ChangePassword(r.Context(), principal, username,
		req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRoles returns the account's role set.
func (h *UserHandler) GetRoles(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	principal := principalFromContext(r.Context())

	roles, err := h.userService.GetRoles(r.Context(), principal, username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RolesResponse{Roles: roles})
}

// AddRole grants the role in the path to the account.
func (h *UserHandler) AddRole(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.userService.AddRole)
}

// RemoveRole revokes the role in the path from the account.
func (h *UserHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.userService.RemoveRole)
}

func (h *UserHandler) mutateRole(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, principal *types.Principal, username string, role types.Role) error) {
	username := chi.URLParam(r, "username")
	role := types.Role(chi.URLParam(r, "role"))
	principal := principalFromContext(r.Context())

	if err := apply(r.Context(), principal, username, role); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTokens returns one page of the account's active tokens.
func (h *UserHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	principal := principalFromContext(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	tokens, err := h.tokenService.ListTokens(r.Context(), principal, username, page, pageSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// Delete removes the account.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	principal := principalFromContext(r.Context())

	if err := h.userService.DeleteByUsername(r.Context(), principal, username); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangeUsernameRequest struct {
	NewUsername string `json:"new_username"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type RolesResponse struct {
	Roles []types.Role `json:"roles"`
}
