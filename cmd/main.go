package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundstage-io/soundstage-backend/internal/api/live"
	"github.com/soundstage-io/soundstage-backend/internal/config"
	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/metrics"
	"github.com/soundstage-io/soundstage-backend/internal/middleware"
	"github.com/soundstage-io/soundstage-backend/internal/storage"
	"github.com/soundstage-io/soundstage-backend/internal/storage/memory"
	"github.com/soundstage-io/soundstage-backend/internal/storage/postgres"
	"github.com/soundstage-io/soundstage-backend/internal/storage/valkey"
	"github.com/soundstage-io/soundstage-backend/internal/studio"
)

func main() {
	logger := logging.NewLoggerWithService("studio-sync")
	config.LoadEnv(logger)

	logger.Info("Starting studio synchronization engine")

	sessionStore, commentStore := setupStores(logger)

	serviceMetrics := metrics.New()
	registry := studio.NewRegistry(logger, serviceMetrics)
	router := studio.NewRouter(registry, sessionStore, commentStore, logger, serviceMetrics)

	liveHandler := &live.LiveHandler{
		Sessions: sessionStore,
		Registry: registry,
		Router:   router,
		Logger:   logger,
	}

	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))

	r := mux.NewRouter()
	live.RegisterLiveRoutes(r, liveHandler, jwtSecret)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "studio-sync"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		sessions, connections := registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"sessions": sessions, "connections": connections})
	}).Methods(http.MethodGet)

	port := config.GetEnv("PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      middleware.CORS(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}

// setupStores selects the storage backends from the environment: memory for
// development, Valkey for session records and Postgres for comments in
// production.
func setupStores(logger logging.Logger) (storage.SessionStore, storage.CommentStore) {
	var sessions storage.SessionStore
	switch backend := config.GetEnv("SESSION_STORE", "memory"); backend {
	case "valkey":
		store, err := valkey.NewSessionStore(
			config.RequireEnv("VALKEY_ADDR"),
			config.GetEnv("VALKEY_PASSWORD", ""),
			logger,
		)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Valkey")
		}
		sessions = store
	case "memory":
		sessions = memory.NewSessionStore()
	default:
		logger.WithField("backend", backend).Fatal("Unknown SESSION_STORE backend")
	}

	var comments storage.CommentStore
	switch backend := config.GetEnv("COMMENT_STORE", "memory"); backend {
	case "postgres":
		store, err := postgres.NewCommentStore(config.RequireEnv("DATABASE_URL"), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		comments = store
	case "memory":
		comments = memory.NewCommentStore()
	default:
		logger.WithField("backend", backend).Fatal("Unknown COMMENT_STORE backend")
	}

	return sessions, comments
}
