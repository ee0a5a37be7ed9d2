// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/termboard/internal/api"
	"github.com/starford/termboard/internal/catalog"
	"github.com/starford/termboard/internal/mcpserver"
	"github.com/starford/termboard/internal/sse"
	"github.com/starford/termboard/internal/storage"
	"github.com/starford/termboard/internal/termservice"
	"github.com/starford/termboard/internal/watcher"
)

// core is the storage, catalog and term service shared by every run mode.
type core struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *catalog.DB
	svc    *termservice.Service
}

func newApplication(opts []Option, defaultOutput io.Writer) (*application, error) {
	app := &application{version: "dev", logOutput: defaultOutput}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// open builds the core. The caller owns close.
func (app *application) open() (*core, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("books", len(cfg.Books)),
		slog.String("mastered_mode", string(cfg.Vocabulary.MasteredDetectionMode)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Vault.Path, cfg.Vault.Extensions...)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite catalog.
	db, err := catalog.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	svc, err := termservice.New(store, db, termservice.Config{
		Books:           cfg.Books,
		Board:           cfg.Vocabulary.BoardOptions(),
		MasteredEnabled: cfg.Vocabulary.MasteredEnabled,
		DebounceWindow:  cfg.Vocabulary.DebounceWindow,
		FlushRetries:    cfg.Vocabulary.FlushRetries,
		MatchCacheSize:  cfg.Vocabulary.MatchCacheSize,
		Logger:          logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init term service: %w", err)
	}

	return &core{cfg: cfg, logger: logger, store: store, db: db, svc: svc}, nil
}

// load reads every enabled book. Per-book failures are logged by the service.
func (c *core) load(ctx context.Context) {
	start := time.Now()
	if err := c.svc.LoadAll(ctx); err != nil {
		c.logger.Warn("initial load failed", slog.String("error", err.Error()))
		return
	}
	c.logger.Info("Books loaded", slog.Duration("took", time.Since(start)))
}

// close flushes queued adds when configured, then stops the service and the catalog.
func (c *core) close() {
	if c.cfg.Vocabulary.FlushOnShutdown {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.svc.Flush(ctx); err != nil {
			c.logger.Error("flush on shutdown failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	c.svc.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Error("catalog close failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stdout)
	if err != nil {
		return err
	}

	c, err := app.open()
	if err != nil {
		return err
	}
	defer c.close()

	var ready atomic.Bool

	cfg, logger := c.cfg, c.logger

	// SSE broker fed by the refresh registry.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	detach := broker.Attach(c.svc.Registry())
	defer detach()

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Any("refresh_subscribers", c.svc.Registry().Names()),
	)

	g, gCtx := errgroup.WithContext(ctx)

	// Load books, then start the file watcher with SSE callback.
	g.Go(func() error {
		c.load(gCtx)
		ready.Store(true)
		if !cfg.Vault.Watch {
			return nil
		}
		err := watcher.Watch(gCtx, c.svc, watcher.Config{
			Root:       cfg.Vault.Path,
			IsDocument: c.store.IsSupportedDocument,
			Logger:     logger,
			OnReload:   broker.PublishBookEvent,
		})
		if err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server is down so the watcher exits.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio until stdin closes or ctx is done.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stderr)
	if err != nil {
		return err
	}
	c, err := app.open()
	if err != nil {
		return err
	}
	defer c.close()
	c.load(ctx)

	srv := mcpserver.New(c.svc, app.version)
	c.logger.Info("MCP server starting on stdio")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
