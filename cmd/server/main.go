package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-learn/internal/api"
	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/platform/logging"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// app owns the process-wide dependencies behind the HTTP handler.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp connects the configured backends, loads the catalog and builds the router.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	ready := map[string]api.HealthCheck{}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	slog.Info("catalog loaded", "path", cfg.Catalog.Path, "courses", len(cat.AllCourses()))

	var (
		store  progression.Store
		events progression.EventLogger
	)
	if cfg.UsesPostgres() {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		ready["database"] = db.HealthCheck

		pgStore, err := progression.NewPostgresStore(db.Pool)
		if err != nil {
			a.Close()
			return nil, err
		}
		store = pgStore
		events = progression.NewPostgresEventLogger(db.Pool)
		slog.Info("progress store", "backend", config.StorePostgres)
	} else {
		store = progression.NewMemoryStore()
		events = progression.NewMemoryEventLogger()
		slog.Warn("progress store is in-memory; records are lost on restart")
	}

	var locker progression.Locker
	if cfg.UsesRedisLock() {
		c, err := cache.Open(ctx, cfg.Cache)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		ready["cache"] = c.HealthCheck
		locker = c.SubmissionLocker(cfg.Progression)
	} else {
		locker = progression.NewMemoryLocker()
	}

	engine := progression.NewEngine(progression.EngineConfig{
		Catalog:           cat,
		Store:             store,
		Locker:            locker,
		Events:            events,
		CertificatePrefix: cfg.Progression.CertificatePrefix,
	})

	a.handler = api.NewRouter(api.Config{
		Engine: engine,
		Logger: logger,
		Ready:  ready,
	})
	return a, nil
}
