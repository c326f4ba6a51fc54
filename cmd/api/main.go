package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"srphub.org/internal/authn"
	"srphub.org/internal/config"
	"srphub.org/internal/events"
	"srphub.org/internal/httpapi"
	"srphub.org/internal/obs"
	"srphub.org/internal/srp"
	"srphub.org/internal/store/pg"
	"srphub.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Postgres when configured, otherwise the in-memory store for local runs.
	var (
		store srp.Store
		db    *sql.DB
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("SRP_DATABASE_URL is empty, using in-memory store")
		store = srp.NewInMemory()
	}

	var publisher events.Publisher = events.Fallback{}
	if cfg.AMQPURL != "" {
		producer, err := events.NewProducer(cfg.AMQPURL)
		if err != nil {
			log.Printf("amqp unavailable, events disabled: %v", err)
		} else {
			defer producer.Close()
			publisher = producer
		}
	}

	accounts := authn.NewAccounts()
	adminID, err := bootstrapAdmin(context.Background(), cfg, store, accounts)
	if err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	api := httpapi.New(store,
		httpapi.WithAccounts(accounts, cfg.TokenTTL()),
		httpapi.WithStream(stream.New()),
		httpapi.WithEvents(publisher),
		httpapi.WithReadyProbe(httpapi.ReadyProbe{DB: db}),
		httpapi.WithVersion(version),
		httpapi.WithSiteAdmin(adminID),
	)

	handler := api.Handler()
	handler = httpapi.MaxBodyBytes(handler, cfg.MaxBodyBytes)
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, cfg.RateLimitRPS)
	handler = httpapi.CORS(handler, cfg.CORSOrigin)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.Logging(handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting srp-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// bootstrapAdmin creates the initial administrator account when credentials
// are configured and no such user exists yet. Returns the admin's user id,
// or 0 when bootstrapping is disabled.
func bootstrapAdmin(ctx context.Context, cfg config.Config, store srp.Store, accounts *authn.Accounts) (int64, error) {
	if cfg.AdminName == "" || cfg.AdminPassword == "" {
		return 0, nil
	}
	admin, err := store.CreateUser(ctx, cfg.AdminName)
	if err != nil {
		if !errors.Is(err, srp.ErrConflict) {
			return 0, err
		}
		log.Printf("admin user %q already exists, login bootstrap skipped", cfg.AdminName)
		return 0, nil
	}
	if err := accounts.Register(cfg.AdminName, admin.ID, cfg.AdminPassword); err != nil {
		return 0, err
	}
	log.Printf("bootstrapped admin user %q (id %d)", cfg.AdminName, admin.ID)
	return admin.ID, nil
}
