package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mockprep/interview-server/internal/api"
	"github.com/mockprep/interview-server/internal/auth"
	"github.com/mockprep/interview-server/internal/config"
	"github.com/mockprep/interview-server/internal/core"
	"github.com/mockprep/interview-server/internal/livestate"
	"github.com/mockprep/interview-server/internal/llm"
	"github.com/mockprep/interview-server/internal/store"
	"github.com/mockprep/interview-server/internal/stream"
)

func main() {
	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load configuration
	config.LoadConfig()
	cfg := &config.AppConfig
	if cfg.Debug() {
		log.Println("Service starting in DEBUG mode")
	}

	// Tracing: spans are recorded; no exporter is installed here.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}()

	// Initialize database store
	dbStore, err := store.NewSQLStore(store.Dialect(cfg.DatabaseDriver), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// A missing provider setting is reported on every generation, not at startup.
	provider, providerErr := llm.NewProvider(context.Background(), cfg)
	if providerErr != nil {
		log.Printf("WARN: LLM provider unavailable: %v", providerErr)
		provider = nil
	} else {
		log.Printf("Using LLM provider %s", provider.Name())
		defer provider.Close()
	}
	gateway := core.NewGateway(provider, providerErr)
	gateway.SetDebug(cfg.Debug())

	snapshots, err := newLiveStateStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize live state store: %v", err)
	}
	defer snapshots.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := stream.NewHub()
	go hub.Run(hubCtx)

	deps := core.Deps{
		Gateway:   gateway,
		Store:     dbStore,
		Events:    hub,
		Snapshots: snapshots,
	}
	feedbackService := core.NewFeedbackService(gateway, dbStore, hub)
	manager := core.NewSessionManager(deps, feedbackService, cfg.SelfPlayDelay)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(api.Services{
		Users:      dbStore,
		JWT:        auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL),
		BcryptCost: cfg.BcryptCost,
		Manager:    manager,
		Chat:       core.NewChatService(deps, feedbackService, manager),
		History:    core.NewHistoryService(dbStore, manager),
		Events:     stream.NewServer(hub),
	})
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 30*time.Second, // feedback generation can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	manager.Shutdown()
	stopHub()

	log.Println("Server exiting gracefully")
}

func newLiveStateStore(cfg *config.Config) (livestate.Store, error) {
	storeType := livestate.StoreType(cfg.LiveStateDriver)
	opts := []livestate.StoreOption{livestate.WithTTL(cfg.LiveStateTTL)}
	if storeType == livestate.StoreTypeRedis {
		client, err := livestate.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, livestate.WithRedisClient(client))
	}
	return livestate.NewStore(storeType, opts...)
}
