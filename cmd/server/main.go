package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/opsdeck/opsdeck-backend/internal/alerting"
	"github.com/opsdeck/opsdeck-backend/internal/analytics"
	"github.com/opsdeck/opsdeck-backend/internal/api/middleware"
	"github.com/opsdeck/opsdeck-backend/internal/api/rest"
	"github.com/opsdeck/opsdeck-backend/internal/api/websocket"
	"github.com/opsdeck/opsdeck-backend/internal/auth"
	"github.com/opsdeck/opsdeck-backend/internal/config"
	"github.com/opsdeck/opsdeck-backend/internal/dashboard"
	"github.com/opsdeck/opsdeck-backend/internal/ingest"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/logger"
	"github.com/opsdeck/opsdeck-backend/internal/realtime"
	"github.com/opsdeck/opsdeck-backend/internal/repository"
	dbmigrations "github.com/opsdeck/opsdeck-backend/migrations"
)

func main() {
	log := logger.StdLogger()
	log.Info("opsdeck backend starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "port", cfg.Port, "db", cfg.DatabasePath)

	// Persistent store with embedded migrations
	sqlite, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer sqlite.Close()

	entries, err := dbmigrations.FS.ReadDir(".")
	if err != nil {
		log.Error("failed to read embedded migrations", "error", err)
		os.Exit(1)
	}
	for _, entry := range entries {
		migrationSQL, readErr := dbmigrations.FS.ReadFile(entry.Name())
		if readErr != nil {
			log.Error("failed to read migration", "file", entry.Name(), "error", readErr)
			os.Exit(1)
		}
		if err := sqlite.RunMigrations(string(migrationSQL)); err != nil {
			log.Error("migration failed", "file", entry.Name(), "error", err)
			os.Exit(1)
		}
	}
	log.Info("database migrations completed", "count", len(entries))

	repo := &repository.Repository{
		Pinger:    sqlite,
		Snapshots: sqlite,
		Rules:     sqlite,
		Events:    sqlite,
		Blocks:    sqlite,
	}

	storeTimeout := time.Duration(cfg.StoreTimeoutSec) * time.Second
	notifyTimeout := time.Duration(cfg.NotifyTimeoutSec) * time.Second

	// Ingestion buffer
	buffer := ingest.NewBuffer(sqlite, ingest.Options{
		FlushInterval: time.Duration(cfg.FlushIntervalSec) * time.Second,
		BatchSize:     cfg.FlushBatchSize,
		RetryMax:      cfg.RetryQueueMax,
		StoreTimeout:  storeTimeout,
	}, log)
	go buffer.Run(ctx)

	// Analytics
	analyticsEngine := analytics.NewEngine(sqlite, storeTimeout)

	// Alerting
	notifiers := []alerting.Notifier{&alerting.SlogNotifier{Log: log}}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.AlertWebhookURL, notifyTimeout))
	}
	alertEngine := alerting.NewEngine(repo, notifiers, alerting.Options{
		EvalInterval:  time.Duration(cfg.AlertEvalIntervalSec) * time.Second,
		BlockDuration: time.Duration(cfg.EntityBlockMinutes) * time.Minute,
		StoreTimeout:  storeTimeout,
		NotifyTimeout: notifyTimeout,
	}, log)
	alertEngine.Start(ctx)
	defer alertEngine.Stop()

	// Permissions: static role mapping behind a TTL cache
	resolver := auth.NewCachingResolver(&auth.StaticResolver{
		Roles:       cfg.AdminRoles,
		DefaultRole: cfg.DefaultAdminRole,
	}, time.Duration(cfg.PermissionCacheTTLSec)*time.Second)

	// Dashboard fan-out
	sources := []dashboard.ModuleSource{
		&dashboard.SystemMetricsSource{Snapshots: sqlite, Engine: analyticsEngine},
		&dashboard.AnalyticsSource{Snapshots: sqlite, Engine: analyticsEngine},
		&dashboard.SecurityAlertsSource{Events: sqlite, Blocks: sqlite},
		&dashboard.SystemHealthSource{Snapshots: sqlite, Engine: analyticsEngine, Ping: sqlite.Ping},
	}
	aggregator := dashboard.NewAggregator(resolver, sources,
		time.Duration(cfg.DashboardCacheTTLSec)*time.Second, log)
	dispatcher := dashboard.NewActionDispatcher(resolver, sqlite, alertEngine, nil,
		aggregator, time.Duration(cfg.EntityBlockMinutes)*time.Minute, log)

	// Realtime push
	scheduler := realtime.NewScheduler(aggregator, sqlite, log)
	defer scheduler.Close()

	wsHub := websocket.NewHub(ctx, log)
	go wsHub.Run()
	wsHandler := websocket.NewHandler(wsHub, scheduler, log)

	// Connected sessions hear about store connectivity transitions.
	scheduler.OnStatusChange(func(status realtime.ConnectionStatus) {
		if err := wsHub.BroadcastStatus(string(status)); err != nil {
			log.Warn("connection status broadcast failed", "error", err)
		}
	})
	if err := scheduler.Reconnect(ctx); err != nil {
		log.Warn("realtime starts degraded, store probe failed", "error", err)
	}

	// HTTP surface
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.SecureHeaders)
	router.Use(recoveryMiddleware(log))
	router.Use(middleware.RateLimit(middleware.NewAPIRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)))
	router.Use(middleware.MaxBodySize(middleware.DefaultMaxBodyBytes, middleware.IngestMaxBodyBytes))

	healthz := rest.NewHealthzHandler(sqlite)
	router.HandleFunc("/healthz", healthz.Ready).Methods("GET")
	router.HandleFunc("/healthz/live", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", healthz.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/ws", wsHandler.ServeWS).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler := rest.NewHandler(cfg, buffer, analyticsEngine, alertEngine,
		aggregator, dispatcher, scheduler, repo, log)
	rest.SetupRoutes(apiRouter, handler)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Admin-ID", "X-Request-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  time.Duration(cfg.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening",
			"port", cfg.Port,
			"api", fmt.Sprintf("http://localhost:%d/api/v1", cfg.Port),
			"ws", fmt.Sprintf("ws://localhost:%d/ws", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Close the scheduler first so clients hear the disconnected notice
	// before the hub drops them.
	scheduler.Close()
	wsHub.Stop()
	alertEngine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", "error", err)
	}

	// Final flush so buffered snapshots survive the restart
	buffer.Close(shutdownCtx)
	cancel()

	log.Info("server exited gracefully")
}

func recoveryMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered", "panic", err, "path", r.URL.Path)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
