package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "crm-auth-service"
	defaultTokenTTL = time.Hour
	// MaxTokenTTL bounds configured lifetimes.
	MaxTokenTTL = 24 * time.Hour
)

// Claims is the signed claim bundle of an access token.
type Claims struct {
	Email string  `json:"email"`
	Roles RoleSet `json:"roles"`
	jwt.RegisteredClaims
}

// Identity converts verified claims to the acting caller.
func (c *Claims) Identity() Identity {
	id := Identity{UserID: c.Subject, Email: c.Email, Roles: NewRoleSet(c.Roles...)}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// TokenIssuer signs and verifies access tokens.
type TokenIssuer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer) error

// WithHMACSecret signs with HS256 using a shared secret.
func WithHMACSecret(secret string) IssuerOption {
	return func(i *TokenIssuer) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return nil
		}
		i.method = jwt.SigningMethodHS256
		i.signKey = []byte(secret)
		i.verifyKey = []byte(secret)
		return nil
	}
}

// WithRS256Keys signs with RS256 using PEM encoded keys.
func WithRS256Keys(privatePEM, publicPEM string) IssuerOption {
	return func(i *TokenIssuer) error {
		privatePEM = strings.TrimSpace(privatePEM)
		publicPEM = strings.TrimSpace(publicPEM)
		if privatePEM == "" && publicPEM == "" {
			return nil
		}
		if privatePEM == "" || publicPEM == "" {
			return errors.New("auth: both private and public keys are required")
		}
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
		if err != nil {
			return fmt.Errorf("auth: parse private key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		i.method = jwt.SigningMethodRS256
		i.signKey = priv
		i.verifyKey = pub
		return nil
	}
}

// WithKeyID sets the kid header.
func WithKeyID(kid string) IssuerOption {
	return func(i *TokenIssuer) error {
		i.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) IssuerOption {
	return func(i *TokenIssuer) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			i.issuer = issuer
		}
		return nil
	}
}

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) error {
		if ttl <= 0 || ttl > MaxTokenTTL {
			return fmt.Errorf("%w: token ttl must be within (0, %s]", ErrValidation, MaxTokenTTL)
		}
		i.ttl = ttl
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewTokenIssuer constructs an issuer. Without a key option the issuer exists
// but every Issue fails with ErrSigning.
func NewTokenIssuer(opts ...IssuerOption) (*TokenIssuer, error) {
	i := &TokenIssuer{
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// TTL returns the configured token lifetime.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for u carrying a snapshot of its roles.
func (i *TokenIssuer) Issue(u User) (string, time.Time, error) {
	if i.method == nil || i.signKey == nil {
		return "", time.Time{}, fmt.Errorf("%w: signing key unavailable", ErrSigning)
	}
	if strings.TrimSpace(u.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Email: u.Email,
		Roles: NewRoleSet(u.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(i.method, claims)
	if i.keyID != "" {
		token.Header["kid"] = i.keyID
	}
	signed, err := token.SignedString(i.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, issuer and expiry. Expiry is strict: a token is
// valid only while exp is after now.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSignature
	}
	if i.method == nil || i.verifyKey == nil {
		return nil, fmt.Errorf("%w: verification key unavailable", ErrSigning)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return i.verifyKey, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidSignature
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
