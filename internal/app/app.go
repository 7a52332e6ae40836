package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/owlby/owlby-backend/internal/config"
	"github.com/owlby/owlby-backend/internal/health"
	"github.com/owlby/owlby-backend/internal/observability"
)

// App owns the gateway process: the HTTP server, the observability
// runtime, and any background tasks started at boot.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	Readiness       *health.ProbeRunner
	ShutdownTimeout time.Duration

	stopBackground func()
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, readiness *health.ProbeRunner, stopBackground func()) *App {
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		Readiness:       readiness,
		ShutdownTimeout: cfg.ShutdownTimeout,
		stopBackground:  stopBackground,
	}
}

func (a *App) StopBackgroundTasks() {
	if a.stopBackground != nil {
		a.stopBackground()
	}
}

// Run serves until the context is cancelled or a signal arrives, then
// drains in-flight requests and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down")
		a.StopBackgroundTasks()

		timeout := a.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("http server shutdown", slog.String("error", err.Error()))
		}
		if a.Observability != nil {
			if err := a.Observability.Shutdown(shutdownCtx); err != nil {
				a.Logger.Error("observability shutdown", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	return g.Wait()
}
