// Sales Coach - real-time call coaching server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/worldwidesoldier/sales-coach-ai/internal/agent"
	"github.com/worldwidesoldier/sales-coach-ai/internal/api"
	"github.com/worldwidesoldier/sales-coach-ai/internal/coach"
	"github.com/worldwidesoldier/sales-coach-ai/internal/config"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/middleware"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
	"github.com/worldwidesoldier/sales-coach-ai/internal/session"
	"github.com/worldwidesoldier/sales-coach-ai/internal/store"
	"github.com/worldwidesoldier/sales-coach-ai/internal/transcribe"
	"github.com/worldwidesoldier/sales-coach-ai/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"coaching_mode", cfg.Coach.Mode,
		"coach_provider", cfg.Coach.Provider,
		"stt_provider", cfg.Transcription.Provider,
	)

	pb, err := loadPlaybook(cfg.PlaybookPath)
	if err != nil {
		slog.Error("Failed to load playbook", "path", cfg.PlaybookPath, "error", err)
		os.Exit(1)
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	generator, err := newGenerator(cfg, pb, logger)
	if err != nil {
		slog.Error("Failed to initialize coach provider", "error", err)
		os.Exit(1)
	}
	if generator != nil {
		defer func() {
			if closeErr := generator.Close(); closeErr != nil {
				slog.Warn("Failed to close coach provider", "error", closeErr)
			}
		}()
	} else {
		slog.Warn("Coach provider unavailable, serving fallback suggestions only")
	}

	transcriber, err := newTranscriber(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize transcription provider", "error", err)
		os.Exit(1)
	}

	engine := coach.NewEngine(coach.EngineConfig{
		Mode:    domain.CoachingMode(cfg.Coach.Mode),
		Timeout: cfg.Coach.Timeout,
	}, pb, coach.NewKeywordClassifier(pb), generator, logger)
	analyzer := coach.NewAnalyzer(generator, cfg.Coach.Timeout, logger)

	hub := transport.NewHub(logger)
	manager := session.NewManager(session.Config{
		ContextMessages: cfg.Session.MaxContextMessages,
		QueuePolicy:     session.QueuePolicy(cfg.Session.QueuePolicy),
		QueueDepth:      cfg.Session.QueueDepth,
		IdleTimeout:     cfg.Session.Timeout,
	}, session.Deps{
		Engine:        engine,
		Conversations: coach.NewConversationStore(logger),
		Attributor:    coach.NewAttributor(cfg.Session.SpeakerSwitchThreshold.Seconds()),
		Transcriber:   transcriber,
		Saver:         repo,
		Notifier:      hub,
	}, logger)

	audioLimiter := middleware.NewRateLimiter(cfg.MaxAudioChunksPerSecond, time.Second)
	defer audioLimiter.Stop()
	analyzeLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	defer analyzeLimiter.Stop()

	// Initialize handlers.
	checks := map[string]api.HealthCheck{
		"transcription": func(context.Context) bool { return transcriber.Name() != transcribe.Disabled{}.Name() },
		"coach": func(ctx context.Context) bool {
			return generator != nil && generator.Healthy(ctx)
		},
	}
	restHandler := api.NewHandler(repo, analyzer, manager, pb, checks)
	wsHandler := transport.NewHandler(manager, hub, audioLimiter, cfg.CORSOrigins, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	restHandler.RegisterRoutes(r, analyzeLimiter.Limit)

	// WebSocket endpoint.
	r.Get("/ws/call", wsHandler.ServeHTTP)

	// Long-lived WebSocket connections rule out a WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle session reaper.
	manager.StartReaper(ctx, session.DefaultReapInterval)
	slog.Info("Session reaper started", "session_timeout", cfg.Session.Timeout)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	manager.Shutdown(shutdownCtx)
	if n := manager.UnsavedCount(); n > 0 {
		slog.Error("Calls could not be persisted before exit", "count", n)
	}

	slog.Info("Server stopped successfully")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func loadPlaybook(path string) (*playbook.Playbook, error) {
	if path == "" {
		return playbook.Default()
	}
	return playbook.Load(path)
}

// newGenerator returns nil without error when the gRPC sidecar is
// unreachable; the engine then serves fallbacks.
func newGenerator(cfg *config.Config, pb *playbook.Playbook, logger *slog.Logger) (agent.Generator, error) {
	switch cfg.Coach.Provider {
	case config.CoachGRPC:
		slog.Info("Connecting to coach sidecar via gRPC", "address", cfg.Coach.GrpcAddr)
		client, err := agent.NewGrpcClient(cfg.Coach.GrpcAddr, logger)
		if err != nil {
			slog.Warn("Failed to connect to coach sidecar", "error", err)
			return nil, nil
		}
		return client, nil
	default:
		client, err := agent.NewAnthropicClient(agent.AnthropicConfig{
			APIKey:      cfg.Coach.APIKey,
			Model:       cfg.Coach.Model,
			MaxTokens:   cfg.Coach.MaxTokens,
			Temperature: cfg.Coach.Temperature,
		}, pb.Prompts, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func newTranscriber(cfg *config.Config, logger *slog.Logger) (transcribe.Provider, error) {
	if cfg.Transcription.Provider == config.STTNone {
		slog.Info("Transcription disabled, accepting client transcript messages only")
		return transcribe.Disabled{}, nil
	}
	return transcribe.NewDeepgram(transcribe.DeepgramConfig{
		APIKey:   cfg.Transcription.APIKey,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
	}, logger)
}
