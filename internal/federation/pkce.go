package federation

import "golang.org/x/oauth2"

// PKCE is an S256 verifier/challenge pair for one login attempt.
type PKCE struct {
	Verifier  string
	Challenge string
}

func NewPKCE() PKCE {
	v := oauth2.GenerateVerifier()
	return PKCE{Verifier: v, Challenge: oauth2.S256ChallengeFromVerifier(v)}
}

// NewState returns an unguessable value for the OAuth state parameter.
func NewState() string {
	return oauth2.GenerateVerifier()
}
