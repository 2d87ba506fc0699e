// Package federation talks to external identity providers. Providers return
// identity facts only; record creation and linking belong to auth.Reconciler.
package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/epehc/crm-auth-service/internal/auth"
)

var ErrUnknownProvider = errors.New("federation: unknown provider")

// Provider is one configured OAuth2/OIDC identity provider.
type Provider interface {
	// Name is the path segment used in /auth/{provider}.
	Name() string

	// AuthCodeURL returns the authorization URL for state and PKCE challenge.
	AuthCodeURL(state, codeChallenge string) string

	// Exchange trades an authorization code for a verified profile. Failures
	// wrap auth.ErrInvalidAssertion.
	Exchange(ctx context.Context, code, codeVerifier string) (auth.ExternalProfile, error)
}

// Registry holds providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		if p != nil {
			m[p.Name()] = p
		}
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(name string) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Names lists the registered providers in lexical order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
