package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/userhub/apiserver/internal/services"
	"github.com/userhub/apiserver/types"
)

type contextKey string

const contextPrincipalKey contextKey = "principal"

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error  string                `json:"error"`
	Field  string                `json:"field,omitempty"`
	Causes []services.FieldCause `json:"causes,omitempty"`
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func principalFromContext(ctx context.Context) *types.Principal {
	principal, _ := ctx.Value(contextPrincipalKey).(*types.Principal)
	return principal
}

func withPrincipal(ctx context.Context, principal *types.Principal) context.Context {
	return context.WithValue(ctx, contextPrincipalKey, principal)
}

// parseTokenID decodes a token id path segment: the base64url encoding
// of the id's decimal string form.
func parseTokenID(segment string) (int64, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		if padded, padErr := base64.URLEncoding.DecodeString(segment); padErr == nil {
			decoded = padded
		} else {
			return 0, err
		}
	}
	return strconv.ParseInt(string(decoded), 10, 64)
}

// encodeTokenID is the inverse of parseTokenID, used when returning ids
// that are meant to appear in URL path segments.
func encodeTokenID(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeDomainError maps domain error kinds to status codes. This is the
// only place the mapping happens; errors propagate here unmodified from
// the point of detection.
func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *services.Error
	if !errors.As(err, &domainErr) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch domainErr.Kind {
	case services.KindValidation:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  domainErr.Message,
			Causes: domainErr.Causes,
		})
	case services.KindUniqueViolation:
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: domainErr.Message,
			Field: domainErr.Field,
		})
	case services.KindNotFound:
		writeError(w, http.StatusNotFound, domainErr.Message)
	case services.KindUnauthenticated:
		writeError(w, http.StatusUnauthorized, domainErr.Message)
	case services.KindUnauthorized:
		writeError(w, http.StatusForbidden, domainErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
