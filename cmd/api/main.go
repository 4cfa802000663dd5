package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credvault.org/internal/httpapi"
	"credvault.org/internal/obs"
	"credvault.org/internal/ratelimit"
	"credvault.org/internal/store/pg"
	"credvault.org/internal/stream"
	"credvault.org/internal/wallet"
)

var version = "0.3.1"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CREDVAULT_COMMIT"))

	// Share issuance is deliberately scarce: a handful of links per hour is
	// plenty for a personal wallet.
	limiter := ratelimit.New(map[string]ratelimit.Rule{
		wallet.EndpointCreateShare: {Limit: 10, Window: time.Hour},
	})

	// Postgres when a DSN is set, otherwise the in-memory store (dev mode).
	var svc wallet.Service
	probe := httpapi.ReadyProbe{}
	if dsn := os.Getenv("CREDVAULT_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		store.Limiter = limiter
		svc = store
		probe.DB = store.DB()
	} else {
		mem := wallet.NewInMemory()
		mem.Limiter = limiter
		svc = mem
		log.Println("CREDVAULT_PG_DSN not set, using in-memory store")
	}

	addr := os.Getenv("CREDVAULT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	baseURL := os.Getenv("CREDVAULT_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost" + addr
	}

	// HTTP API
	api := httpapi.New(probe, version, svc, stream.New(), baseURL)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting credvault-api %s on %s", version, srv.Addr)

	// graceful shutdown
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
	log.Println("Stopped")
}
