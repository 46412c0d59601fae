// Indexer builds the retrieval index snapshot from a directory of .txt
// documents. Run it before starting the server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tribu-digital/campaignbot/internal/config"
	"github.com/tribu-digital/campaignbot/internal/genai"
	"github.com/tribu-digital/campaignbot/internal/index"
)

func main() {
	dataDir := flag.String("data", "./data/docs", "Directory with .txt source documents")
	out := flag.String("out", "", "Output snapshot path (defaults to INDEX_PATH)")
	sentences := flag.Int("sentences", 5, "Sentences per chunk")
	overlap := flag.Int("overlap", 1, "Overlapping sentences between chunks")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	outPath := *out
	if outPath == "" {
		outPath = cfg.IndexPath
	}

	gemini := genai.New(genai.Config{
		APIKey:         cfg.GoogleAPIKey,
		ModelID:        cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := index.NewBuilder(index.NewSentenceChunker(*sentences, *overlap), gemini, cfg.EmbeddingModel)

	slog.Info("Building index", "data_dir", *dataDir, "embedding_model", cfg.EmbeddingModel)
	snap, err := builder.Build(ctx, *dataDir)
	if err != nil {
		slog.Error("Failed to build index", "error", err)
		os.Exit(1)
	}

	if err := snap.Save(outPath); err != nil {
		slog.Error("Failed to save index snapshot", "error", err)
		os.Exit(1)
	}
	slog.Info("Index snapshot saved", "path", outPath, "fragments", len(snap.Entries), "dimension", snap.Dimension)
}
