package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epehc/crm-auth-service/internal/audit"
	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/config"
	"github.com/epehc/crm-auth-service/internal/federation"
	"github.com/epehc/crm-auth-service/internal/grpcapi"
	"github.com/epehc/crm-auth-service/internal/httpapi"
	"github.com/epehc/crm-auth-service/internal/migrate"
	"github.com/epehc/crm-auth-service/internal/obs"
	"github.com/epehc/crm-auth-service/internal/store/pg"
	"github.com/epehc/crm-auth-service/internal/store/sqlite"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log.SetFlags(0)
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, "crm-auth-service", version, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	dir, db, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}

	issuerOpts := []auth.IssuerOption{auth.WithIssuer(cfg.JWTIssuer), auth.WithTTL(cfg.JWTExpiration)}
	if cfg.JWTPrivateKey != "" {
		issuerOpts = append(issuerOpts, auth.WithRS256Keys(cfg.JWTPrivateKey, cfg.JWTPublicKey), auth.WithKeyID(cfg.JWTKeyID))
	} else {
		issuerOpts = append(issuerOpts, auth.WithHMACSecret(cfg.JWTSecret))
	}
	issuer, err := auth.NewTokenIssuer(issuerOpts...)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	var providers []federation.Provider
	if cfg.GoogleEnabled() {
		google, err := federation.NewOIDC(ctx, federation.OIDCConfig{
			Name:         "google",
			IssuerURL:    cfg.GoogleIssuerURL,
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL,
		})
		if err != nil {
			log.Fatalf("google provider: %v", err)
		}
		providers = append(providers, google)
	} else {
		obs.Warn("google login disabled", map[string]any{"reason": "GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET or GOOGLE_CALLBACK_URL unset"})
	}

	proxies, err := cfg.Proxies()
	if err != nil {
		log.Fatalf("trusted proxies: %v", err)
	}

	access := auth.NewAccessController(issuer, nil)
	reconciler := auth.NewReconciler(dir, auth.WithDefaultRoles(cfg.Roles()))
	admin := auth.NewAdministration(dir, nil, reconciler)
	admin.SetAuditor(audit.RecordRoleChange)
	probe := httpapi.ReadyProbe{DB: db}

	api := httpapi.New(httpapi.Options{
		Access:        access,
		Admin:         admin,
		Reconciler:    reconciler,
		Issuer:        issuer,
		Providers:     federation.NewRegistry(providers...),
		Ready:         probe,
		Version:       version,
		FrontendURL:   cfg.FrontendURL,
		SecureCookies: cfg.SecureCookies,
		RateBurst:     cfg.RateLimitBurst,
		RatePerSecond: cfg.RateLimitPerSecond,

		TrustedProxies: proxies,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	roleAdmin := grpcapi.NewServer(admin, access, probe)
	grpcServer := grpcapi.NewGRPCServer(roleAdmin)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go roleAdmin.WatchHealth(ctx, 15*time.Second)

	obs.Info("starting", map[string]any{
		"service":   "crm-auth-service",
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr(),
		"providers": federation.NewRegistry(providers...).Names(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcLis); err != nil {
			obs.Error("grpc serve", err, nil)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	_ = shutdownTracing(shutdownCtx)
	if err := closeDir(); err != nil {
		obs.Error("close directory", err, nil)
	}
	obs.Info("stopped", nil)
}

// openDirectory picks Postgres when DATABASE_URL is set, then SQLite, then an
// in-memory directory for local experiments.
func openDirectory(ctx context.Context, cfg config.Config) (auth.Directory, *sql.DB, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		store, err := pg.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.MigrateOnStart {
			if err := migrate.NewManager(store.DB(), pg.Migrations(), nil).Up(ctx); err != nil {
				_ = store.Close()
				return nil, nil, nil, err
			}
		}
		return store, store.DB(), store.Close, nil
	case cfg.SQLitePath != "":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store.DB(), store.Close, nil
	}
	obs.Warn("using in-memory directory", map[string]any{"reason": "DATABASE_URL and SQLITE_PATH unset"})
	return auth.NewMemoryDirectory(), nil, func() error { return nil }, nil
}
