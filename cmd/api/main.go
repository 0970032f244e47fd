package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"omicsauth.org/internal/access"
	"omicsauth.org/internal/config"
	"omicsauth.org/internal/httpapi"
	"omicsauth.org/internal/identity"
	"omicsauth.org/internal/oauth"
	"omicsauth.org/internal/obs"
	"omicsauth.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	log.SetFlags(0)

	configPath := flag.String("config", os.Getenv("OMICSAUTH_CONFIG"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Tokens.SigningSecret == "" {
		log.Fatal("missing token signing secret: set tokens.signing_secret or OMICSAUTH_TOKEN_SECRET")
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Without a DSN everything runs on in-memory stores, which is enough
	// for local development and demos.
	var (
		identityStore identity.Store = identity.NewInMemory()
		accessStore   access.Store   = access.NewInMemory()
		oauthStore    oauth.Store    = oauth.NewInMemory()
		pgStore       *pg.Store
	)
	if cfg.Database.DSN != "" {
		pgStore, err = pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		pgStore.SetPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		identityStore, accessStore, oauthStore = pgStore, pgStore, pgStore
	}

	users, err := identity.NewService(identityStore)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	authz := access.NewAuthorizer(accessStore)
	groups := access.NewGroupService(accessStore, authz)
	roles := access.NewRoleService(accessStore, authz)
	resources := access.NewResourceService(accessStore, authz)
	grants := access.NewGrantService(accessStore, authz)
	tokens := oauth.NewService(oauthStore, users, authz, []byte(cfg.Tokens.SigningSecret),
		oauth.WithIssuer(cfg.Tokens.Issuer),
		oauth.WithAccessTTL(cfg.Tokens.AccessTTL),
		oauth.WithRefreshTTL(cfg.Tokens.RefreshTTL),
	)

	if err := accessStore.EnsurePrivileges(context.Background(), access.BuiltinPrivileges); err != nil {
		log.Fatalf("ensure privilege catalog: %v", err)
	}

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(probe, version, httpapi.Services{
		Users:     users,
		Groups:    groups,
		Roles:     roles,
		Resources: resources,
		Grants:    grants,
		Authz:     authz,
		Tokens:    tokens,
	})

	handler := httpapi.Logging(
		httpapi.RateLimit(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(api.Handler(), 1<<20),
				),
			),
			cfg.Limits.RateBurst, cfg.Limits.RatePerSec,
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting omicsauth-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
