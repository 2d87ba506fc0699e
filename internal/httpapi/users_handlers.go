package httpapi

import (
	"net/http"

	"github.com/epehc/crm-auth-service/internal/auth"
)

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, created, err := a.admin.CreateUser(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, u.View())
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.admin.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u.View())
}

// handleMe echoes the verified token identity without a directory read.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, id)
}
