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

	"github.com/redis/go-redis/v9"

	"devshare/api/internal/app"
	"devshare/api/internal/config"
	"devshare/api/internal/email"
	"devshare/api/internal/live"
	"devshare/api/internal/media"
	"devshare/api/internal/search"
	"devshare/api/internal/session"
	"devshare/api/internal/snippets"
	"devshare/api/internal/store"
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

	if err := os.MkdirAll(cfg.SnippetsDir, 0o755); err != nil {
		log.Fatalf("failed to create snippets dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	snippetService := snippets.New(cfg.SnippetsDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var mediaService *media.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaService, err = media.NewService(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		log.Printf("Using MinIO at %s for image storage", cfg.MinioEndpoint)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	// Redis carries refresh tokens and live change fanout when configured.
	// Without it, refresh tokens live in Postgres and fanout is poll-only.
	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		log.Printf("Using Redis for refresh token storage and live fanout")
		hub := live.NewHub(redisClient, 15*time.Second)
		redisStore := session.NewRedisStoreWithClient(redisClient)
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, hub, snippetService, searchService, mediaService, mailer)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		hub := live.NewHub(nil, 15*time.Second)
		service = app.New(cfg, dataStore, hub, snippetService, searchService, mediaService, mailer)
	}

	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays unset: comment streams are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Devshare API listening on %s", cfg.Addr)
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
