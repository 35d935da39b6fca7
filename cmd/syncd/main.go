package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/photosync/sync/internal/config"
	"github.com/photosync/sync/internal/handlers"
	"github.com/photosync/sync/internal/middleware"
	"github.com/photosync/sync/internal/observability"
	"github.com/photosync/sync/internal/repository"
	"github.com/photosync/sync/internal/services"
)

const serviceName = "photosync-syncd"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	telemetry, err := observability.Initialize(ctx, observability.NewConfig(serviceName, "1.0.0"))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	logger := observability.GetLogger()

	// Authoritative store: PostgreSQL when DATABASE_URL is set, SQLite
	// otherwise
	var (
		entityRepo repository.ServerEntityRepo
		deviceRepo repository.DeviceRepo
	)
	if cfg.UsePostgres() {
		logger.Info("using PostgreSQL database")
		db, err := repository.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
		defer db.Close()
		entityRepo = repository.NewServerEntityRepositoryPostgres(db)
		deviceRepo = repository.NewDeviceRepositoryPostgres(db)
	} else {
		logger.Info("using SQLite database")
		db, err := repository.NewServerSQLiteDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite database: %v", err)
		}
		defer db.Close()
		entityRepo = repository.NewServerEntityRepository(db)
		deviceRepo = repository.NewDeviceRepository(db)
	}

	feedHub := services.NewFeedHub()
	go feedHub.Run()

	applyService := services.NewApplyService(entityRepo, feedHub)

	syncHandler := handlers.NewSyncHandler(applyService)
	deviceHandler := handlers.NewDeviceHandler(deviceRepo)
	wsHandler := handlers.NewWebSocketHandler(feedHub)
	healthHandler := handlers.NewHealthHandler()

	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize HTTP metrics: %v", err)
	}

	r := chi.NewRouter()

	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware(serviceName))
	r.Use(observability.MetricsMiddleware(httpMetrics))
	r.Use(middleware.DeviceAuth(deviceRepo, cfg.Security))

	r.Get("/health", healthHandler.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/devices/register", deviceHandler.RegisterDevice)
		r.Route("/sync", func(r chi.Router) {
			r.Post("/mutations", syncHandler.PostMutations)
			r.Get("/status", syncHandler.GetStatus)
			r.Get("/ws", wsHandler.ServeFeed)
		})
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("PhotoSync sync server starting on %s", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server stopped")
}
