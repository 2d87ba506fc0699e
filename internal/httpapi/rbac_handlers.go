package httpapi

import (
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/epehc/crm-auth-service/internal/auth"
)

type assignRolesRequest struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

type targetRequest struct {
	UserID string `json:"userId"`
}

var userIDRules = []validation.Rule{validation.Required, validation.Length(1, auth.MaxIDLength)}

func (r assignRolesRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, userIDRules...),
		validation.Field(&r.Roles, validation.Each(validation.Required, validation.Length(1, 64))),
	)
}

func (r targetRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, userIDRules...),
	)
}

type roleChangeResponse struct {
	Message string        `json:"message"`
	User    auth.UserView `json:"user"`
}

type rolesResponse struct {
	Roles []auth.Role `json:"roles"`
}

// handleListRoles serves the closed role set for admin role pickers.
func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rolesResponse{Roles: auth.AllRoles()})
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	var req assignRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.admin.AssignRoles(r.Context(), req.UserID, req.Roles)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roleChangeResponse{Message: "Roles updated successfully", User: u.View()})
}

func (a *API) handleMakeAdmin(w http.ResponseWriter, r *http.Request) {
	a.handleAdminToggle(w, r, true)
}

func (a *API) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	a.handleAdminToggle(w, r, false)
}

func (a *API) handleAdminToggle(w http.ResponseWriter, r *http.Request, grant bool) {
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		u   auth.User
		err error
		msg = "User is now an admin"
	)
	if grant {
		u, err = a.admin.GrantAdmin(r.Context(), req.UserID)
	} else {
		msg = "User is no longer an admin"
		u, err = a.admin.RevokeAdmin(r.Context(), req.UserID)
	}
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roleChangeResponse{Message: msg, User: u.View()})
}
