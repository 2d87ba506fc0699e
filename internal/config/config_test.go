package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/epehc/crm-auth-service/internal/auth"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4001 || cfg.GRPCPort != 4002 {
		t.Fatalf("unexpected ports %d/%d", cfg.Port, cfg.GRPCPort)
	}
	if cfg.JWTExpiration != time.Hour || cfg.JWTIssuer != "crm-auth-service" {
		t.Fatalf("unexpected jwt settings %+v", cfg)
	}
	if !cfg.Roles().Equal(auth.NewRoleSet(auth.RoleUser)) {
		t.Fatalf("unexpected default roles %v", cfg.Roles())
	}
	if cfg.GoogleEnabled() {
		t.Fatal("google must be disabled without credentials")
	}
	if cfg.HTTPAddr() != ":4001" || cfg.GRPCAddr() != ":4002" {
		t.Fatalf("unexpected addrs %s %s", cfg.HTTPAddr(), cfg.GRPCAddr())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_EXPIRATION", "15m")
	t.Setenv("DEFAULT_ROLES", "User,Reclutador")
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("GOOGLE_CALLBACK_URL", "http://localhost:4001/auth/google/callback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 || cfg.JWTExpiration != 15*time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Roles().Equal(auth.NewRoleSet(auth.RoleUser, auth.RoleRecruiter)) {
		t.Fatalf("unexpected roles %v", cfg.Roles())
	}
	if !cfg.GoogleEnabled() {
		t.Fatal("expected google enabled")
	}
}

func TestLoadDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("JWT_SECRET=from-file\nGRPC_PORT=5002\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// Registered with t.Setenv so the values loaded from the file are restored.
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GRPC_PORT", "")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("GRPC_PORT")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTSecret != "from-file" || cfg.GRPCPort != 5002 {
		t.Fatalf("dotenv values not applied: %+v", cfg)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		want string
	}{
		"no signing key":   {env: map[string]string{}, want: "JWT_SECRET"},
		"private only":     {env: map[string]string{"JWT_PRIVATE_KEY": "pem"}, want: "JWT_PUBLIC_KEY"},
		"ttl too long":     {env: map[string]string{"JWT_SECRET": "s", "JWT_EXPIRATION": "48h"}, want: "JWT_EXPIRATION"},
		"partial google":   {env: map[string]string{"JWT_SECRET": "s", "GOOGLE_CLIENT_ID": "id"}, want: "GOOGLE_CLIENT_ID"},
		"unknown role":     {env: map[string]string{"JWT_SECRET": "s", "DEFAULT_ROLES": "Owner"}, want: "DEFAULT_ROLES"},
		"zero rate limits": {env: map[string]string{"JWT_SECRET": "s", "RATE_LIMIT_BURST": "0"}, want: "rate limit"},
		"bad proxy":        {env: map[string]string{"JWT_SECRET": "s", "TRUSTED_PROXIES": "10.0.0.0/8,proxy.local"}, want: "TRUSTED_PROXIES"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseEnvWrapsErrors(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	var cfg Config
	err := ParseEnv(&cfg)
	if err == nil || !strings.HasPrefix(err.Error(), "parse env:") {
		t.Fatalf("expected wrapped parse error, got %v", err)
	}
}

func TestProxies(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7 ,,::1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	proxies, err := cfg.Proxies()
	if err != nil {
		t.Fatalf("Proxies: %v", err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.7/32", "::1/128"}
	if len(proxies) != len(want) {
		t.Fatalf("got %v, want %v", proxies, want)
	}
	for i, p := range proxies {
		if p.String() != want[i] {
			t.Fatalf("proxy %d = %s, want %s", i, p, want[i])
		}
	}

	t.Setenv("TRUSTED_PROXIES", "")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if proxies, _ := cfg.Proxies(); len(proxies) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", proxies)
	}
}
