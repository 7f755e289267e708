// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/preambled/internal/api"
	"github.com/starford/preambled/internal/links"
	"github.com/starford/preambled/internal/mcpserver"
	"github.com/starford/preambled/internal/preamble"
	"github.com/starford/preambled/internal/renderservice"
	"github.com/starford/preambled/internal/settings"
	"github.com/starford/preambled/internal/sse"
	"github.com/starford/preambled/internal/storage"
	"github.com/starford/preambled/internal/watcher"
)

// runtime holds the components shared by every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *settings.DB
	broker *sse.Broker
	engine *preamble.Engine
	render *renderservice.Service
}

func newRuntime(opts ...Option) (*runtime, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

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
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := settings.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init settings: %w", err)
	}

	broker := sse.NewBroker(cfg.Render.RerenderWindow)

	engine := preamble.New(store,
		preamble.WithLinkResolver(links.NewResolver(store, logger)),
		preamble.WithTypesetter(broker),
		preamble.WithRerenderer(broker),
		preamble.WithNotifier(broker),
		preamble.WithPersister(db),
		preamble.WithLogger(logger),
		preamble.WithReadConcurrency(cfg.Render.ReadConcurrency),
	)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		broker: broker,
		engine: engine,
		render: renderservice.NewService(store, engine, logger),
	}, nil
}

func (rt *runtime) close() {
	rt.broker.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("settings close failed", slog.String("error", err.Error()))
	}
}

// load reads persisted settings and populates the engine, waiting for every
// preamble read.
func (rt *runtime) load(ctx context.Context) error {
	s, err := rt.db.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	return rt.engine.Deserialize(ctx, s)
}

// watch runs the vault watcher until ctx is cancelled.
func (rt *runtime) watch(ctx context.Context) error {
	return watcher.Watch(ctx, rt.engine, rt.store, rt.cfg.Render.RenameWindow, rt.logger, nil)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := newRuntime(opts...)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, logger := rt.cfg, rt.logger

	apiRouter := api.NewRouter(rt.engine, rt.render, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.broker)

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
	r.Get("/health/ready", readyHandler(rt.engine))

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Load settings, then follow vault changes.
	g.Go(func() error {
		if err := rt.load(gCtx); err != nil {
			return err
		}
		return rt.watch(gCtx)
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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// readyHandler reports 503 until the first settings load has finished.
func readyHandler(engine *preamble.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !engine.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// RunMCP serves the preamble tools over stdio until stdin closes or ctx is
// cancelled. Vault changes are followed while it runs.
func RunMCP(ctx context.Context, opts ...Option) error {
	rt, err := newRuntime(append([]Option{WithLogOutput(os.Stderr)}, opts...)...)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.load(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(wctx)
	g.Go(func() error {
		return rt.watch(gCtx)
	})
	g.Go(func() error {
		defer cancel()
		rt.logger.Info("MCP server starting on stdio")
		return mcpserver.New(rt.engine).ServeStdio()
	})
	return g.Wait()
}

// Resolve prints the render result for one document as JSON to out.
func Resolve(ctx context.Context, docPath string, out io.Writer, opts ...Option) error {
	rt, err := newRuntime(append([]Option{WithLogOutput(os.Stderr)}, opts...)...)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.load(ctx); err != nil {
		return err
	}
	res, err := rt.render.Render(ctx, docPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", docPath, err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Import converts a legacy plugin data file and stores it as the current
// settings, replacing what was there.
func Import(ctx context.Context, file string, opts ...Option) error {
	rt, err := newRuntime(append([]Option{WithLogOutput(os.Stderr)}, opts...)...)
	if err != nil {
		return err
	}
	defer rt.close()

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	s, err := settings.ImportLegacy(data)
	if err != nil {
		return err
	}
	if err := rt.engine.Replace(ctx, s); err != nil {
		return fmt.Errorf("apply imported settings: %w", err)
	}
	rt.logger.Info("settings imported",
		slog.String("file", file),
		slog.Int("preambles", len(s.Preambles)),
		slog.Int("folder_bindings", len(s.FolderPreambles)))
	return nil
}
