package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withOperation authenticates the bearer token, applies the policy entry for
// op and stores the caller identity in the request context.
func (a *API) withOperation(op auth.Operation, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.access == nil {
			obs.ObserveAuthDecision("error")
			writeError(w, r, http.StatusInternalServerError, "authentication is not configured")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.ObserveAuthDecision("unauthenticated")
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		id, err := a.access.AuthorizeOperation(token, op)
		if err != nil {
			obs.ObserveAuthDecision(decisionResult(err))
			handleAuthError(w, r, err)
			return
		}
		obs.ObserveAuthDecision("allowed")
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// RequireRole gates next on one of roles, independent of the operation policy.
func RequireRole(access *auth.AccessController, roles ...auth.Role) func(http.Handler) http.Handler {
	required := auth.NewRoleSet(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if access == nil {
				writeError(w, r, http.StatusInternalServerError, "authentication is not configured")
				return
			}
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			id, err := access.Authorize(token, required)
			if err != nil {
				handleAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
		})
	}
}

func decisionResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	}
	return "error"
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
