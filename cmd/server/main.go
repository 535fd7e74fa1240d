// Visual Study Buddy - multimodal tutor server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/visual-study-buddy/internal/api"
	"github.com/ashureev/visual-study-buddy/internal/config"
	"github.com/ashureev/visual-study-buddy/internal/conversation"
	"github.com/ashureev/visual-study-buddy/internal/convlog"
	"github.com/ashureev/visual-study-buddy/internal/credential"
	"github.com/ashureev/visual-study-buddy/internal/gemini"
	"github.com/ashureev/visual-study-buddy/internal/health"
	"github.com/ashureev/visual-study-buddy/internal/middleware"
	"github.com/ashureev/visual-study-buddy/internal/sandbox"
	"github.com/ashureev/visual-study-buddy/internal/store"
	"github.com/ashureev/visual-study-buddy/internal/telemetry"
	"github.com/ashureev/visual-study-buddy/internal/tutor"
	"github.com/ashureev/visual-study-buddy/web"
)

const (
	healthWatchInterval = 15 * time.Second
	sandboxPrepareLimit = 10 * time.Minute
	shutdownTimeout     = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	metrics, shutdownMetrics, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Path:     cfg.Telemetry.Path,
		Interval: cfg.Telemetry.Interval,
	})
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	convLogger, err := convlog.New(convlog.Config{
		Enabled:    cfg.ConversationLog.Enabled,
		Path:       cfg.ConversationLog.Path,
		MaxSizeMB:  cfg.ConversationLog.MaxSizeMB,
		MaxBackups: cfg.ConversationLog.MaxBackups,
		MaxAgeDays: cfg.ConversationLog.MaxAgeDays,
		QueueSize:  cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := convLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation log", "error", closeErr)
		}
	}()

	instructions, err := tutor.LoadInstructions()
	if err != nil {
		return err
	}

	creds := credential.NewResolver(repo, cfg.APIKey)
	backend := gemini.NewBackend(cfg.ChatModel, cfg.ImageModel)
	sessions := tutor.NewSessionManager(backend, creds, instructions)
	dispatcher := tutor.NewDispatcher(sessions, backend, creds, instructions, conversation.NewStore(),
		tutor.WithMetrics(metrics),
		tutor.WithTurnObserver(convLogger.ObserveTurn),
	)
	slog.Info("Tutor ready", "chat_model", cfg.ChatModel, "image_model", cfg.ImageModel)

	// Interfaces stay nil when the sandbox is disabled.
	var (
		runner  sandbox.Runner
		ready   api.ReadyReporter
		gateway *sandbox.DockerGateway
	)
	if cfg.Sandbox.Enabled {
		gateway, err = sandbox.NewDockerGateway(cfg.Sandbox.Image, cfg.Sandbox.Runtime, cfg.Sandbox.Timeout)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := gateway.Close(); closeErr != nil {
				slog.Debug("Failed to close docker client", "error", closeErr)
			}
		}()
		executor := sandbox.NewExecutor(gateway, int64(cfg.Sandbox.MaxConcurrent))
		runner, ready = executor, executor
	} else {
		slog.Info("Sandbox disabled")
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	api.NewHealthHandler(repo, ready).RegisterHealth(r)
	api.NewSettingsHandler(dispatcher, creds, ready).RegisterRoutes(r)
	api.NewTutorHandler(dispatcher).RegisterRoutes(r)
	if runner != nil {
		api.NewSandboxHandler(runner, metrics).RegisterRoutes(r)
		r.Get("/ws/sandbox", sandbox.NewWebSocketHandler(runner, cfg.FrontendURL, cfg.IsDevelopment()).ServeHTTP)
	}
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           telemetry.HTTPHandler(r, otel.GetMeterProvider()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0, // model calls and websocket runs can be long
		IdleTimeout:       120 * time.Second,
	}

	healthSrv := health.NewServer(repo, ready)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if gateway != nil {
		g.Go(func() error {
			prepareCtx, cancel := context.WithTimeout(gctx, sandboxPrepareLimit)
			defer cancel()
			if err := gateway.Prepare(prepareCtx); err != nil {
				// Runs keep reporting the initializing line; the rest of the server is fine.
				slog.Error("Sandbox unavailable", "error", err, "image", cfg.Sandbox.Image)
				return nil
			}
			healthSrv.Refresh(gctx)
			return nil
		})
		gateway.StartReaper(gctx, cfg.Sandbox.ReapAfter)
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return healthSrv.Serve(lis)
	})

	g.Go(func() error {
		healthSrv.Watch(gctx, healthWatchInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		healthSrv.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
