package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agenticlabs/workspace/internal/config"
	"github.com/agenticlabs/workspace/internal/orchestrator"
	"github.com/agenticlabs/workspace/internal/provider"
	"github.com/agenticlabs/workspace/internal/rag"
	"github.com/agenticlabs/workspace/internal/server"
	"github.com/agenticlabs/workspace/internal/settings"
	"github.com/agenticlabs/workspace/internal/storage/sqlite"
	"github.com/agenticlabs/workspace/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("workspace", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	provider.RegisterBuiltins()

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open chat log: %v", err)
	}
	defer store.Close()

	ragSvc := rag.NewService(rag.ChunkerConfig{
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
	}, logger)

	st := settings.New(
		cfg.Chat.DefaultProvider,
		cfg.Chat.Model,
		cfg.Chat.MultiAgent,
		cfg.Chat.Retrieval,
		cfg.APIKeys,
	)

	orch := orchestrator.New(st, store, ragSvc, logger, orchestrator.Options{
		HistoryTokenBudget: cfg.Chat.HistoryTokenBudget,
		TopK:               cfg.Retrieval.TopK,
		MaxConcurrent:      cfg.Chat.MaxConcurrentCycles,
		PersistPartial:     cfg.Chat.PersistPartial,
	})

	bridge := server.NewBridge(st, ragSvc, store, orch, logger, cfg.Server.AllowedOrigin)
	srv := server.New(cfg.Server.Port, cfg.Server.AllowedOrigin, logger, bridge)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("workspace backend started",
		slog.Int("port", cfg.Server.Port),
		slog.String("db", cfg.Storage.Path),
		slog.String("default_provider", cfg.Chat.DefaultProvider))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	orch.Wait()

	logger.Info("workspace backend stopped")
}
