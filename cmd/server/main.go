// Campaign chatbot server: persona-constrained RAG chat with per-session
// conversational memory.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/tribu-digital/campaignbot/internal/api"
	"github.com/tribu-digital/campaignbot/internal/chat"
	"github.com/tribu-digital/campaignbot/internal/config"
	"github.com/tribu-digital/campaignbot/internal/genai"
	"github.com/tribu-digital/campaignbot/internal/index"
	"github.com/tribu-digital/campaignbot/internal/middleware"
	"github.com/tribu-digital/campaignbot/internal/persona"
	"github.com/tribu-digital/campaignbot/internal/prompt"
	"github.com/tribu-digital/campaignbot/internal/session"
	"github.com/tribu-digital/campaignbot/internal/tribal"
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

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.LLMModel, "session_backend", cfg.SessionBackend)

	p, err := persona.Load(cfg.PersonaPath)
	if err != nil {
		slog.Error("Failed to load persona", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies.
	gemini := genai.New(genai.Config{
		APIKey:         cfg.GoogleAPIKey,
		ModelID:        cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		SystemPrompt:   p.SystemPrompt,
	})

	idx, err := index.Load(cfg.IndexPath, gemini)
	if err != nil {
		slog.Error("Failed to load retrieval index; run cmd/indexer first", "path", cfg.IndexPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Retrieval index loaded", "path", cfg.IndexPath, "fragments", idx.Len())

	policy := session.Policy{
		IdleTimeout:     cfg.SessionIdleTimeout,
		MaxSessions:     cfg.MaxSessions,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
	}
	var store session.Store
	if cfg.SessionBackend == "sqlite" {
		store, err = session.NewSQLite(cfg.DBPath, policy)
		if err != nil {
			slog.Error("Failed to initialize session database", "error", err)
			os.Exit(1)
		}
	} else {
		store = session.NewMemoryStore(policy)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	assembler := prompt.NewAssembler(p.Template, cfg.PromptMaxChars, cfg.MaxHistoryTurns)

	orc := chat.New(store, idx, gemini, assembler, p, chat.Config{
		TopK:              cfg.TopK,
		RetrievalTimeout:  cfg.RetrievalTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
		GenerationRetries: cfg.GenerationRetries,
	})

	var transcript chat.TranscriptLogger = chat.NoopTranscriptLogger{}
	if cfg.Transcript.Enabled {
		transcript, err = chat.NewFileTranscriptLogger(chat.TranscriptConfig{
			Dir:           cfg.Transcript.Dir,
			GlobalEnabled: cfg.Transcript.GlobalEnabled,
			GlobalPath:    cfg.Transcript.GlobalPath,
			QueueSize:     cfg.Transcript.QueueSize,
		})
		if err != nil {
			slog.Error("Failed to initialize transcript logger", "error", err)
			os.Exit(1)
		}
	}
	orc.WithTranscript(transcript)
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	handler := api.NewHandler(orc, tribal.NewDetector(p.TribalPatterns), api.Config{
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + cfg.RetrievalTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartEvictionWorker(ctx, store, cfg.EvictionInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
