package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ashureev/backlog-triage/internal/api"
	"github.com/ashureev/backlog-triage/internal/config"
	"github.com/ashureev/backlog-triage/internal/feed"
	"github.com/ashureev/backlog-triage/internal/grpchealth"
	"github.com/ashureev/backlog-triage/internal/metrics"
	"github.com/ashureev/backlog-triage/internal/middleware"
	"github.com/ashureev/backlog-triage/internal/store"
	"github.com/ashureev/backlog-triage/internal/sweeper"
	"github.com/ashureev/backlog-triage/internal/triage"
	"github.com/ashureev/backlog-triage/web"
)

const healthWatchInterval = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, widget and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "agent_provider", cfg.Agent.Provider)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	retriever, invoker, prompt, err := newPipelineParts(cfg, logger)
	if err != nil {
		return err
	}
	slog.Info("Agent initialized", "provider", invoker.Name())

	// Initialize services.
	hub := feed.NewHub(0)
	recorder := metrics.Prometheus{}

	svc := triage.NewService(repo, retriever, invoker, prompt, logger)
	svc.SetFeed(hub)
	svc.SetMetrics(recorder)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, svc)
	chatHandler := api.NewChatHandler(baseHandler)
	chatHandler.SetFeed(feed.NewWebSocketHandler(hub, repo, cfg.CORSOrigins))
	adminHandler := api.NewAdminHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	adminHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/widget/*", web.WidgetHandler("/widget"))
	r.Get("/widget", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/widget/", http.StatusMovedPermanently)
	})

	// Analysis calls can take as long as the agent timeout; the websocket
	// feed must not be cut by a write deadline.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.GRPCPort != "" {
		health, err := startGRPCHealth(ctx, cfg.GRPCPort, repo, logger)
		if err != nil {
			return err
		}
		defer health.Stop()
	}

	if cfg.Sweeper.Enabled() {
		sw := sweeper.New(repo, cfg.Sweeper.IdleTTL, func(sessionID string) {
			hub.CloseSession(sessionID)
			recorder.SessionClosed(metrics.CloseIdle)
		})
		if err := sw.Start(ctx, cfg.Sweeper.Schedule); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func startGRPCHealth(ctx context.Context, port string, db grpchealth.Pinger, logger *slog.Logger) (*grpchealth.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("listen grpc health: %w", err)
	}

	health := grpchealth.New(db, logger)
	health.Watch(ctx, healthWatchInterval)
	go func() {
		if err := health.Serve(lis); err != nil {
			slog.Error("gRPC health server stopped", "error", err)
		}
	}()
	return health, nil
}
