package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/federation"
	"github.com/epehc/crm-auth-service/internal/obs"
)

const serviceName = "crm-auth-service"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the HTTP layer to the core services.
type Options struct {
	Access     *auth.AccessController
	Admin      *auth.Administration
	Reconciler *auth.Reconciler
	Issuer     *auth.TokenIssuer
	Providers  *federation.Registry
	Ready      readinessChecker
	Version    string

	FrontendURL   string
	SecureCookies bool
	RateBurst     int
	RatePerSecond float64
	MaxBodyBytes  int64
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

// API is the HTTP surface of the service.
type API struct {
	mux        *http.ServeMux
	access     *auth.AccessController
	admin      *auth.Administration
	reconciler *auth.Reconciler
	issuer     *auth.TokenIssuer
	providers  *federation.Registry
	readyProbe readinessChecker
	version    string

	frontendURL   string
	secureCookies bool
	rateBurst     int
	ratePerSec    float64
	maxBodyBytes  int64
	clients       ClientResolver
}

func New(opts Options) *API {
	a := &API{
		mux:           http.NewServeMux(),
		access:        opts.Access,
		admin:         opts.Admin,
		reconciler:    opts.Reconciler,
		issuer:        opts.Issuer,
		providers:     opts.Providers,
		readyProbe:    opts.Ready,
		version:       opts.Version,
		frontendURL:   opts.FrontendURL,
		secureCookies: opts.SecureCookies,
		rateBurst:     opts.RateBurst,
		ratePerSec:    opts.RatePerSecond,
		maxBodyBytes:  opts.MaxBodyBytes,
		clients:       NewClientResolver(opts.TrustedProxies),
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.providers == nil {
		a.providers = federation.NewRegistry()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 60
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 1
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// Login. The callback shares the two-segment shape with /auth/users/{id},
	// so it is dispatched on the second segment.
	a.mux.HandleFunc("GET /auth/{provider}", a.handleLoginStart)
	a.mux.HandleFunc("GET /auth/{provider}/{step}", a.handleProviderStep)

	a.mux.Handle("GET /auth/roles", RequireRole(a.access, auth.RoleAdmin)(http.HandlerFunc(a.handleListRoles)))
	a.mux.Handle("POST /auth/roles/assign", a.withOperation(auth.OpAssignRoles, http.HandlerFunc(a.handleAssignRoles)))
	a.mux.Handle("POST /auth/roles/make-admin", a.withOperation(auth.OpGrantAdmin, http.HandlerFunc(a.handleMakeAdmin)))
	a.mux.Handle("POST /auth/roles/remove-admin", a.withOperation(auth.OpRevokeAdmin, http.HandlerFunc(a.handleRemoveAdmin)))

	a.mux.Handle("POST /auth/users", a.withOperation(auth.OpCreateUser, http.HandlerFunc(a.handleCreateUser)))
	a.mux.Handle("GET /auth/users/{id}", a.withOperation(auth.OpReadUser, http.HandlerFunc(a.handleGetUser)))
	a.mux.Handle("GET /auth/me", a.withOperation(auth.OpReadUser, http.HandlerFunc(a.handleMe)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.clients)
	h = CORS(h, a.frontendURL)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"providers": a.providers.Names(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	if v, ok := dst.(validation.Validatable); ok {
		return v.Validate()
	}
	return nil
}

// handleAuthError maps core errors onto HTTP statuses.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidAssertion):
		writeError(w, r, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, auth.ErrTokenExpired):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "access denied")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, strings.TrimPrefix(err.Error(), "auth: "))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: "))
	default:
		obs.Error("request failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
