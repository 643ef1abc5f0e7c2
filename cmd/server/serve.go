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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ashureev/intakeflow/internal/agent"
	"github.com/ashureev/intakeflow/internal/api"
	"github.com/ashureev/intakeflow/internal/config"
	"github.com/ashureev/intakeflow/internal/identity"
	"github.com/ashureev/intakeflow/internal/metrics"
	"github.com/ashureev/intakeflow/internal/middleware"
	"github.com/ashureev/intakeflow/internal/session"
	"github.com/ashureev/intakeflow/internal/store"
)

const healthWatchInterval = 15 * time.Second

func newServeCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and gRPC health servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	m := metrics.New()

	repo, err := store.NewSQLite(cfg.DBPath,
		store.WithRetry(cfg.Retry.DatabaseMaxRetries, cfg.Retry.DatabaseRetryBaseDelay),
		store.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	processor, err := newProcessor(ctx, cfg, m, repo, logger)
	if err != nil {
		return err
	}

	var remote session.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		pctx, cancel := context.WithTimeout(ctx, cfg.Timeout.HealthCheck)
		if err := rdb.Ping(pctx).Err(); err != nil {
			slog.Warn("Redis unreachable, turn locks fall back to this process", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		remote = session.NewRedisLocker(rdb, "intakeflow:")
		slog.Info("Distributed turn lock enabled", "addr", cfg.Redis.Addr)
	}
	guard := session.NewGuard(remote, cfg.Redis.LockTTL, logger)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}

	interviewHandler := agent.NewHandler(processor, repo, guard, conversationLogger, cfg)
	defer interviewHandler.Close()

	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)
	wsHandler := api.NewWebSocketHandler(interviewHandler, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		interviewHandler.RegisterRoutes(r)
		r.Get("/ws/interview", wsHandler.ServeHTTP)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // websocket connections are long-lived
		IdleTimeout:       120 * time.Second,
	}

	grpcHealth := agent.NewHealthService(logger)

	sweeperDone := store.StartSweeper(ctx, repo, cfg.SweepInterval, cfg.SessionTTL, func(deleted int64) {
		m.AddSwept(int(deleted))
	})
	watchDone := grpcHealth.Watch(ctx, repo, healthWatchInterval, cfg.Timeout.HealthCheck)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.GRPCPort != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			slog.Info("gRPC health service listening", "addr", lis.Addr().String())
			if err := grpcHealth.Server().Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
		defer cancel()

		grpcHealth.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	stop()
	<-sweeperDone
	<-watchDone
	if err != nil {
		return err
	}

	slog.Info("Server stopped successfully")
	return nil
}
