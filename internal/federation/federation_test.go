package federation

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/epehc/crm-auth-service/internal/auth"
)

const (
	testIssuer   = "https://issuer.test"
	testClientID = "client-1"
)

type tokenServer struct {
	key          *rsa.PrivateKey
	claims       jwt.MapClaims
	omitIDToken  bool
	fail         bool
	lastVerifier string
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	s.lastVerifier = r.PostForm.Get("code_verifier")
	if s.fail || r.PostForm.Get("code") != "good-code" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	body := map[string]any{"access_token": "at", "token_type": "Bearer", "expires_in": 3600}
	if !s.omitIDToken {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, s.claims).SignedString(s.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body["id_token"] = signed
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func newTestProvider(t *testing.T, claims jwt.MapClaims) (*OIDCProvider, *tokenServer) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ts := &tokenServer{key: key, claims: claims}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	cfg := &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/test/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/authorize",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{oidc.ScopeOpenID, "email"},
	}
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	return newOIDCProvider("test", cfg, verifier), ts
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "sub-123",
		"name":           "Ana Pérez",
		"email":          "ana@example.com",
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func TestExchangeReturnsVerifiedProfile(t *testing.T) {
	p, ts := newTestProvider(t, validClaims())
	profile, err := p.Exchange(context.Background(), "good-code", "verifier-abc")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if profile.Provider != "test" || profile.ExternalID != "sub-123" || profile.DisplayName != "Ana Pérez" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if len(profile.Emails) != 1 || profile.Emails[0] != "ana@example.com" {
		t.Fatalf("unexpected emails %v", profile.Emails)
	}
	if ts.lastVerifier != "verifier-abc" {
		t.Fatalf("code_verifier not forwarded, got %q", ts.lastVerifier)
	}
}

func TestExchangeDropsUnverifiedEmail(t *testing.T) {
	claims := validClaims()
	claims["email_verified"] = "false"
	p, _ := newTestProvider(t, claims)
	profile, err := p.Exchange(context.Background(), "good-code", "v")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if len(profile.Emails) != 0 {
		t.Fatalf("unverified email must be dropped, got %v", profile.Emails)
	}
}

func TestExchangeFailures(t *testing.T) {
	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	cases := map[string]struct {
		claims jwt.MapClaims
		code   string
		tweak  func(*tokenServer)
	}{
		"empty code":     {claims: validClaims(), code: ""},
		"rejected grant": {claims: validClaims(), code: "bad-code"},
		"no id token":    {claims: validClaims(), code: "good-code", tweak: func(s *tokenServer) { s.omitIDToken = true }},
		"wrong audience": {claims: wrongAudience, code: "good-code"},
		"expired":        {claims: expired, code: "good-code"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, ts := newTestProvider(t, tc.claims)
			if tc.tweak != nil {
				tc.tweak(ts)
			}
			if _, err := p.Exchange(context.Background(), tc.code, "v"); !errors.Is(err, auth.ErrInvalidAssertion) {
				t.Fatalf("expected ErrInvalidAssertion, got %v", err)
			}
		})
	}
}

func TestAuthCodeURLCarriesStateAndChallenge(t *testing.T) {
	p, _ := newTestProvider(t, validClaims())
	pkce := NewPKCE()
	raw := p.AuthCodeURL("state-1", pkce.Challenge)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-1" || q.Get("code_challenge") != pkce.Challenge || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("client_id") != testClientID {
		t.Fatalf("missing client id in %v", q)
	}
}

func TestPKCEChallengeIsS256(t *testing.T) {
	pkce := NewPKCE()
	sum := sha256.Sum256([]byte(pkce.Verifier))
	if want := base64.RawURLEncoding.EncodeToString(sum[:]); pkce.Challenge != want {
		t.Fatalf("challenge mismatch: %s vs %s", pkce.Challenge, want)
	}
	if NewState() == NewState() {
		t.Fatal("state values must differ")
	}
}

func TestRegistry(t *testing.T) {
	p, _ := newTestProvider(t, validClaims())
	reg := NewRegistry(p, nil)
	got, err := reg.Get("test")
	if err != nil || got.Name() != "test" {
		t.Fatalf("Get: %v %v", got, err)
	}
	if _, err := reg.Get("github"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "test" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNewOIDCRequiresClientConfig(t *testing.T) {
	if _, err := NewOIDC(context.Background(), OIDCConfig{Name: "google", IssuerURL: GoogleIssuer}); err == nil {
		t.Fatal("expected missing client config to fail before discovery")
	}
}
