package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/epehc/crm-auth-service/internal/audit"
	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/federation"
	"github.com/epehc/crm-auth-service/internal/obs"
)

const (
	stateCookieName = "__oauth_state"
	pkceCookieName  = "__oauth_pkce"
	loginCookieTTL  = 5 * time.Minute
)

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      auth.UserView `json:"user"`
}

func (a *API) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	provider, err := a.providers.Get(r.PathValue("provider"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	state := federation.NewState()
	pkce := federation.NewPKCE()
	a.setLoginCookie(w, provider.Name(), stateCookieName, state, loginCookieTTL)
	a.setLoginCookie(w, provider.Name(), pkceCookieName, pkce.Verifier, loginCookieTTL)
	http.Redirect(w, r, provider.AuthCodeURL(state, pkce.Challenge), http.StatusFound)
}

func (a *API) handleProviderStep(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("step") != "callback" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleCallback(w, r)
}

func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := a.providers.Get(r.PathValue("provider"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	name := provider.Name()
	q := r.URL.Query()

	state, stateErr := r.Cookie(stateCookieName)
	verifier, verifierErr := r.Cookie(pkceCookieName)
	a.setLoginCookie(w, name, stateCookieName, "", -1)
	a.setLoginCookie(w, name, pkceCookieName, "", -1)

	if e := q.Get("error"); e != "" {
		obs.ObserveReconcile("invalid")
		writeError(w, r, http.StatusUnauthorized, "authentication failed: "+e)
		return
	}
	if stateErr != nil || verifierErr != nil || state.Value == "" ||
		subtle.ConstantTimeCompare([]byte(state.Value), []byte(q.Get("state"))) != 1 {
		obs.ObserveReconcile("invalid")
		writeError(w, r, http.StatusUnauthorized, "invalid oauth state")
		return
	}

	profile, err := provider.Exchange(r.Context(), q.Get("code"), verifier.Value)
	if err != nil {
		obs.ObserveReconcile("invalid")
		obs.Warn("oauth exchange failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"provider":   name,
			"error":      err.Error(),
		})
		handleAuthError(w, r, err)
		return
	}

	u, created, err := a.reconciler.Reconcile(r.Context(), profile)
	if err != nil {
		obs.ObserveReconcile(reconcileOutcome(err))
		handleAuthError(w, r, err)
		return
	}
	if created {
		obs.ObserveReconcile("created")
	} else {
		obs.ObserveReconcile("existing")
	}

	token, expiresAt, err := a.issuer.Issue(u)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveTokenIssued()

	ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{UserID: u.ID, Email: u.Email, Roles: u.Roles})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"provider": name,
		"created":  created,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, User: u.View()})
}

func (a *API) setLoginCookie(w http.ResponseWriter, provider, name, value string, ttl time.Duration) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/" + provider,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = time.Now().Add(ttl)
	}
	http.SetCookie(w, c)
}

func reconcileOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrConflict):
		return "conflict"
	case errors.Is(err, auth.ErrInvalidAssertion):
		return "invalid"
	}
	return "error"
}
