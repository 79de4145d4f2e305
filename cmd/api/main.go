package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"idealab/internal/account"
	"idealab/internal/app"
	"idealab/internal/config"
	"idealab/internal/relay"
	"idealab/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	accounts := account.NewService(dataStore, cfg.TokenSecret, cfg.AccessTTL)

	// Redis makes fan-out span relay instances; without it this instance
	// only serves its own sockets.
	var bridge *relay.RedisBridge
	if strings.TrimSpace(cfg.RedisURL) != "" {
		bridge, err = relay.NewRedisBridge(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		log.Printf("relay bridge enabled")
	}
	var hub *relay.Hub
	if bridge != nil {
		hub = relay.NewHub(bridge)
		bridge.Start(hub)
	} else {
		hub = relay.NewHub(nil)
	}
	go hub.Run()
	defer hub.Close()

	service := app.New(dataStore, accounts)
	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("idealab API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
