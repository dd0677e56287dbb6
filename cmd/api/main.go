package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"authgrid.dev/internal/auth"
	"authgrid.dev/internal/federation"
	"authgrid.dev/internal/httpapi"
	"authgrid.dev/internal/obs"
	"authgrid.dev/internal/rbac"
	"authgrid.dev/internal/store/pg"
)

var (
	version = "0.3.1"
	// commit is set at build time via -ldflags "-X main.commit=...".
	commit = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("AUTHGRID_PG_DSN")
	if dsn == "" {
		log.Fatal("AUTHGRID_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	keys := auth.KeyConfig{
		Secret:        os.Getenv("AUTHGRID_JWT_SECRET"),
		PrivateKeyPEM: os.Getenv("AUTHGRID_JWT_PRIVATE_KEY"),
		PublicKeyPEM:  os.Getenv("AUTHGRID_JWT_PUBLIC_KEY"),
	}
	// No silent insecure default: a missing secret stops the process here.
	if err := keys.Validate(); err != nil {
		log.Fatalf("signing config: %v", err)
	}

	tokenOpts := []auth.TokenOption{auth.WithAdminDirectory(store)}
	if issuer := os.Getenv("AUTHGRID_ISSUER"); issuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(issuer))
	}
	if ttl := envDuration("AUTHGRID_SESSION_TTL"); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithTTL(auth.KindSession, ttl))
	}
	tokens, err := auth.NewTokenService(keys, tokenOpts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	engine, err := rbac.NewEngine(store)
	if err != nil {
		log.Fatalf("rbac engine: %v", err)
	}
	authSvc, err := auth.NewService(store, tokens, engine)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	registry := federation.NewRegistry(authSvc)

	api := httpapi.New(httpapi.Config{
		Auth:          authSvc,
		RBAC:          engine,
		Federation:    registry,
		TenantConfigs: store,
		ReadyProbe:    httpapi.ReadyProbe{DB: store.DB()},
		Version:       version,
		SSOSuccessURL: os.Getenv("AUTHGRID_SSO_SUCCESS_URL"),
		SSOErrorURL:   os.Getenv("AUTHGRID_SSO_ERROR_URL"),
	})

	handler := httpapi.RequestID(httpapi.Logging(httpapi.SecurityHeaders(api.Handler())))
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, envInt("AUTHGRID_RATE_BURST", 50), envInt("AUTHGRID_RATE_PER_SECOND", 25))

	addr := os.Getenv("AUTHGRID_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authgrid-api %s on %s (signing: %s)", version, srv.Addr, tokens.Algorithm())

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return n
}
