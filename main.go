package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felo/mailtrap/internal/blob"
	"github.com/felo/mailtrap/internal/config"
	"github.com/felo/mailtrap/internal/db"
	"github.com/felo/mailtrap/internal/handlers"
	"github.com/felo/mailtrap/internal/ingest"
	capture "github.com/felo/mailtrap/internal/smtp"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	// One store instance for the whole process, shared by the ingestion
	// path and the query/delete API.
	database, err := db.Open(cfg.DBPath())
	if err != nil {
		slog.Error("failed to open message store", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	blobs, err := blob.NewStore(cfg.AttachmentsDir())
	if err != nil {
		slog.Error("failed to open attachment store", "error", err)
		os.Exit(1)
	}

	pipeline := ingest.New(database, blobs, cfg.IngestTimeout())

	smtpServer := capture.NewServer(cfg, pipeline)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Listen,
		Handler:      handlers.Router(handlers.New(database, blobs)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("SMTP server listening", "addr", cfg.SMTP.Listen)
		if err := smtpServer.ListenAndServe(); err != nil {
			slog.Error("SMTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		slog.Info("HTTP API listening", "addr", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("received signal, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := smtpServer.Close(); err != nil {
		slog.Error("SMTP server shutdown error", "error", err)
	}

	slog.Info("stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
