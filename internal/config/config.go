// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/epehc/crm-auth-service/internal/auth"
)

// Config holds every setting the binaries read from the environment.
type Config struct {
	Port        int    `env:"PORT"         envDefault:"4001"`
	GRPCPort    int    `env:"GRPC_PORT"    envDefault:"4002"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`

	JWTSecret     string        `env:"JWT_SECRET"`
	JWTPrivateKey string        `env:"JWT_PRIVATE_KEY"`
	JWTPublicKey  string        `env:"JWT_PUBLIC_KEY"`
	JWTKeyID      string        `env:"JWT_KEY_ID"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"1h"`
	JWTIssuer     string        `env:"JWT_ISSUER"     envDefault:"crm-auth-service"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL"`
	GoogleIssuerURL    string `env:"GOOGLE_ISSUER_URL" envDefault:"https://accounts.google.com"`

	DefaultRoles []string `env:"DEFAULT_ROLES" envDefault:"User" envSeparator:","`

	RateLimitBurst     int     `env:"RATE_LIMIT_BURST"      envDefault:"60"`
	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" envDefault:"1"`
	SecureCookies      bool    `env:"SECURE_COOKIES"        envDefault:"true"`

	// TrustedProxies lists addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads optional dotenv files, then the environment. Variables already
// set in the environment win over the files.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.JWTSecret) == "" && strings.TrimSpace(c.JWTPrivateKey) == "" {
		problems = append(problems, "JWT_SECRET or JWT_PRIVATE_KEY is required")
	}
	if c.JWTPrivateKey != "" && c.JWTPublicKey == "" {
		problems = append(problems, "JWT_PUBLIC_KEY is required with JWT_PRIVATE_KEY")
	}
	if c.JWTExpiration <= 0 || c.JWTExpiration > auth.MaxTokenTTL {
		problems = append(problems, fmt.Sprintf("JWT_EXPIRATION must be within (0, %s]", auth.MaxTokenTTL))
	}
	google := []string{c.GoogleClientID, c.GoogleClientSecret, c.GoogleCallbackURL}
	set := 0
	for _, v := range google {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 0 && set != len(google) {
		problems = append(problems, "GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_CALLBACK_URL must be set together")
	}
	if _, err := auth.ParseRoleSet(c.DefaultRoles); err != nil {
		problems = append(problems, "DEFAULT_ROLES: "+err.Error())
	}
	if c.Port <= 0 || c.GRPCPort <= 0 {
		problems = append(problems, "PORT and GRPC_PORT must be positive")
	}
	if c.RateLimitBurst <= 0 || c.RateLimitPerSecond <= 0 {
		problems = append(problems, "rate limit settings must be positive")
	}
	if _, err := c.Proxies(); err != nil {
		problems = append(problems, "TRUSTED_PROXIES: "+err.Error())
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// GoogleEnabled reports whether the Google provider is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleCallbackURL != ""
}

// Roles returns DEFAULT_ROLES as a role set. Call after Validate.
func (c Config) Roles() auth.RoleSet {
	roles, err := auth.ParseRoleSet(c.DefaultRoles)
	if err != nil || len(roles) == 0 {
		return auth.NewRoleSet(auth.RoleUser)
	}
	return roles
}

// Proxies parses TRUSTED_PROXIES. A bare address is a single-host prefix.
func (c Config) Proxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

func (c Config) HTTPAddr() string { return fmt.Sprintf(":%d", c.Port) }

func (c Config) GRPCAddr() string { return fmt.Sprintf(":%d", c.GRPCPort) }
