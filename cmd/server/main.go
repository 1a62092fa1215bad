package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sjsunlp/leetcode-assistant/internal/api"
	"github.com/sjsunlp/leetcode-assistant/internal/config"
	"github.com/sjsunlp/leetcode-assistant/internal/core"
	"github.com/sjsunlp/leetcode-assistant/internal/embedding"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/session"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
	"github.com/sjsunlp/leetcode-assistant/internal/vectorindex"
)

func main() {
	// Command line flag for the embedding backfill
	reembedFlag := flag.Bool("reembed", false, "Embed stored user messages that have no embedding yet and exit")
	reembedInterval := flag.Duration("reembed-interval", 200*time.Millisecond, "Delay between provider calls during -reembed")
	flag.Parse()

	cfg, foundDotEnv, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !foundDotEnv {
		log.Debug("No .env file found, using process environment")
	}
	if cfg.SecretKeyGenerated {
		log.Warn("SECRET_KEY not set; generated a random one, sessions will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	embedder, err := embedding.New(ctx, log, cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedding provider", "error", err)
	}
	defer embedder.Close()

	index, err := vectorindex.New(log, cfg)
	if err != nil {
		log.Fatal("Failed to initialize vector index", "error", err)
	}

	chatService := core.NewChatService(log, dbStore, embedder, index, cfg.ProviderTimeout)

	// Handle the backfill if the flag is set
	if *reembedFlag {
		log.Info("Starting re-embedding run", "model", embedder.Model())
		stats, err := core.NewReembedder(log, chatService, dbStore, *reembedInterval).Run(ctx)
		if err != nil {
			log.Fatal("Re-embedding failed", "error", err)
		}
		log.Info("Re-embedding complete", "embedded", stats.Embedded, "failed", stats.Failed)
		return
	}

	sessions, err := session.New(ctx, log, cfg)
	if err != nil {
		log.Fatal("Failed to initialize sessions", "error", err)
	}

	authService := core.NewAuthService(log, dbStore)
	ragService := core.NewRAGService(log, dbStore, embedder, index, cfg.ProviderTimeout)

	apiHandler := api.NewAPIHandler(log, authService, chatService, ragService, sessions, dbStore)
	router := api.NewRouter(log, apiHandler, cfg.CORSAllowedOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout*2 + 10*time.Second, // search waits on two provider calls
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting server", "addr", serverAddr, "env", cfg.Env,
			"embedding_provider", cfg.EmbeddingProvider, "vector_backend", cfg.VectorBackend, "session_backend", cfg.SessionBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Could not listen", "addr", serverAddr, "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		return
	}
	log.Info("Server exiting gracefully")
}
