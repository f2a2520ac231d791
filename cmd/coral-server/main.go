package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MarkAustinGrow/Coral-server/internal/archive"
	"github.com/MarkAustinGrow/Coral-server/internal/config"
	"github.com/MarkAustinGrow/Coral-server/internal/logging"
	"github.com/MarkAustinGrow/Coral-server/internal/panel"
	"github.com/MarkAustinGrow/Coral-server/internal/session"
	"github.com/MarkAustinGrow/Coral-server/internal/stats"
	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
	"github.com/MarkAustinGrow/Coral-server/pkg/mcp"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Application registry.
	apps := config.DefaultRegistry()
	if cfg.AppsPath != "" {
		loaded, err := config.Load(cfg.AppsPath)
		if err != nil {
			return err
		}
		apps = loaded
		logger.Info("application registry loaded", "path", cfg.AppsPath)
	}

	hub := streaming.NewMemoryHub()
	sessions := session.NewManager(hub, logger)

	// Optional event archive.
	var arch *archive.Archive
	if cfg.ArchiveOn {
		if err := os.MkdirAll(filepath.Dir(cfg.ArchivePath), 0o755); err != nil {
			return err
		}
		opened, err := archive.Open("file:"+cfg.ArchivePath, logger)
		if err != nil {
			return err
		}
		arch = opened
		defer arch.Close()
		go func() {
			if err := arch.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("archive loop stopped", "error", err)
			}
		}()
		logger.Info("event archive enabled", "path", cfg.ArchivePath)
	}

	// Periodic stats reporting.
	if cfg.StatsOn {
		reporter, err := stats.NewReporter(sessions, hub, cfg.StatsSpec, logger)
		if err != nil {
			return err
		}
		if err := reporter.Start(ctx); err != nil {
			return err
		}
		defer reporter.Stop()
	}

	coralServer := mcp.NewCoralServer(mcp.CoralServerDeps{
		Sessions: sessions,
		Apps:     apps,
		Hub:      hub,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	if cfg.Panel {
		panelServer := panel.NewPanelServer(panel.PanelDeps{
			Sessions: sessions,
			Apps:     apps,
			Hub:      hub,
			Archive:  arch,
			Logger:   logger,
		})
		mux.Handle("/api/", panelServer.Handler())
		mux.Handle("/sse/", panelServer.Handler())
		mux.Handle("/health", panelServer.Handler())
	}
	mux.Handle("/", coralServer.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coral-server listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
