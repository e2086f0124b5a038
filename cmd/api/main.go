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

	"canvas/api/internal/app"
	"canvas/api/internal/catalog"
	"canvas/api/internal/config"
	"canvas/api/internal/gitrepo"
	"canvas/api/internal/presence"
	"canvas/api/internal/search"
	"canvas/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var dataStore app.DataStore
	if cfg.StoreDriver == "memory" {
		log.Printf("Using in-memory document registry")
		dataStore = store.NewMemoryStore()
	} else {
		db, err := store.Open(ctx, store.PoolFromConfig(cfg))
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		pg := store.NewPostgresStore(db)
		defer pg.Close()
		dataStore = pg
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}
	gitService := gitrepo.New(cfg.ReposDir)

	components := catalog.Builtin()
	if strings.TrimSpace(cfg.CatalogPath) != "" {
		loaded, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			log.Fatalf("catalog load failed: %v", err)
		}
		components = loaded
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewMemory())

	opts := []app.Option{
		app.WithCatalog(components),
		app.WithSearch(searchService),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for presence")
		client, err := presence.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer client.Close()
		opts = append(opts, app.WithPresenceStore(func(documentID string) presence.Store {
			return presence.NewRedisStore(client, documentID, cfg.PresenceTimeout)
		}))
	} else {
		log.Printf("Using in-memory presence")
	}

	service := app.New(cfg, dataStore, gitService, opts...)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Canvas API listening on %s (%s mode)", cfg.Addr, service.Mode())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := service.Close(shutdownCtx); err != nil {
		log.Printf("flush error: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
