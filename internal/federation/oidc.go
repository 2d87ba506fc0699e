package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/epehc/crm-auth-service/internal/auth"
)

const GoogleIssuer = "https://accounts.google.com"

// OIDCConfig describes one OpenID Connect client registration.
type OIDCConfig struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCProvider runs the authorization code flow with PKCE and verifies the
// returned ID token against the issuer's keys.
type OIDCProvider struct {
	name     string
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDC discovers the issuer and builds a provider.
func NewOIDC(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.Name == "" || cfg.IssuerURL == "" {
		return nil, errors.New("oidc provider name and issuer are required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("%s oauth config missing required fields", cfg.Name)
	}
	discovered, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("init %s oidc provider: %w", cfg.Name, err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     discovered.Endpoint(),
		Scopes:       scopes,
	}
	verifier := discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newOIDCProvider(cfg.Name, oauthCfg, verifier), nil
}

// NewGoogle is NewOIDC against Google's issuer.
func NewGoogle(ctx context.Context, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	return NewOIDC(ctx, OIDCConfig{
		Name:         "google",
		IssuerURL:    GoogleIssuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	})
}

func newOIDCProvider(name string, cfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *OIDCProvider {
	return &OIDCProvider{name: name, oauth: cfg, verifier: verifier}
}

func (p *OIDCProvider) Name() string { return p.name }

func (p *OIDCProvider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauth.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier string) (auth.ExternalProfile, error) {
	if strings.TrimSpace(code) == "" {
		return auth.ExternalProfile{}, fmt.Errorf("%w: missing authorization code", auth.ErrInvalidAssertion)
	}
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return auth.ExternalProfile{}, fmt.Errorf("%w: %s token exchange: %v", auth.ErrInvalidAssertion, p.name, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return auth.ExternalProfile{}, fmt.Errorf("%w: %s returned no id_token", auth.ErrInvalidAssertion, p.name)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return auth.ExternalProfile{}, fmt.Errorf("%w: %s id_token: %v", auth.ErrInvalidAssertion, p.name, err)
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return auth.ExternalProfile{}, fmt.Errorf("%w: %s claims: %v", auth.ErrInvalidAssertion, p.name, err)
	}
	return profileFromClaims(p.name, claims), nil
}

type idClaims struct {
	Subject       string   `json:"sub"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
}

// profileFromClaims keeps the email only when the issuer vouches for it.
func profileFromClaims(provider string, c idClaims) auth.ExternalProfile {
	profile := auth.ExternalProfile{
		Provider:    provider,
		ExternalID:  strings.TrimSpace(c.Subject),
		DisplayName: strings.TrimSpace(c.Name),
	}
	if email := strings.TrimSpace(c.Email); email != "" && bool(c.EmailVerified) {
		profile.Emails = []string{email}
	}
	return profile
}

// flexBool accepts true and "true"; some issuers send the string form.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = flexBool(strings.EqualFold(s, "true"))
	return nil
}
