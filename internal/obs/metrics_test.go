package obs

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/auth/users":             "/auth/users",
		"/auth/users/01HZX":       "/auth/users/:id",
		"/auth/users/abc?x=1":     "/auth/users/:id",
		"/auth/google":            "/auth/:provider",
		"/auth/google/callback":   "/auth/:provider/callback",
		"/auth/me":                "/auth/me",
		"/auth/roles/assign":      "/auth/roles/assign",
		"/auth/roles/make-admin":  "/auth/roles/make-admin",
		"/auth/users/abc/unknown": OtherPath,
		"/auth/roles":             "/auth/roles",
		"/auth/roles/unknown":     OtherPath,
		"/auth/google/x1":         OtherPath,
		"/wp-login.php":           OtherPath,
		"/healthz":                "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestCanonicalPathBoundsUnknownPaths(t *testing.T) {
	labels := make(map[string]bool)
	for i := 0; i < 10; i++ {
		labels[CanonicalPath(fmt.Sprintf("/scan/%d", i))] = true
		labels[CanonicalPath(fmt.Sprintf("/auth/google/x%d", i))] = true
		labels[CanonicalPath(fmt.Sprintf("/auth/users/%d/extra", i))] = true
	}
	if len(labels) != 1 || !labels[OtherPath] {
		t.Fatalf("expected only %q, got %v", OtherPath, labels)
	}
}

func TestInstrumentExposesMetrics(t *testing.T) {
	Init()
	Init()

	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/users/01ABC", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	ObserveAuthDecision("allowed")
	ObserveReconcile("created")
	ObserveTokenIssued()
	SetReady(true)

	metrics := httptest.NewRecorder()
	Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metrics.Body.String()
	for _, want := range []string{
		`http_requests_total{method="GET",path="/auth/users/:id",status="202"}`,
		`auth_decisions_total{result="allowed"}`,
		`identity_reconciliations_total{outcome="created"}`,
		"tokens_issued_total",
		"service_ready 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
