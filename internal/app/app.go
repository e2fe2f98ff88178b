package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/secure-auth-core/internal/config"
	"github.com/sandeepkv93/secure-auth-core/internal/health"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Bootstrap     *Bootstrapper
	Sweeper       *SessionSweeper
	Readiness     *health.ReadinessRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stopBackgroundTasks func()
	closers             []func() error
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	bootstrap *Bootstrapper,
	sweeper *SessionSweeper,
	readiness *health.ReadinessRunner,
	stopBackgroundTasks func(),
) *App {
	if stopBackgroundTasks == nil {
		stopBackgroundTasks = func() {}
	}
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Bootstrap:                    bootstrap,
		Sweeper:                      sweeper,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stopBackgroundTasks:          stopBackgroundTasks,
	}
}

// OnClose registers fn to run after the HTTP server and telemetry have shut
// down. Closers run in reverse registration order.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) StopBackgroundTasks() {
	a.stopBackgroundTasks()
}

// Run bootstraps the catalog, serves HTTP and runs the session sweeper until
// ctx is cancelled or the server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if a.Bootstrap != nil {
		if err := a.Bootstrap.Run(ctx); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return err
	}
	a.Logger.Info("http server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	bgCtx, cancelBackground := context.WithCancel(gctx)
	stop := a.stopBackgroundTasks
	a.stopBackgroundTasks = func() {
		cancelBackground()
		stop()
	}

	if a.Sweeper != nil {
		g.Go(func() error {
			a.Sweeper.Run(bgCtx)
			return nil
		})
	}
	g.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) shutdown() error {
	a.Logger.Info("shutting down")
	a.StopBackgroundTasks()

	overall, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()

	var errs []error
	drainCtx, drainCancel := context.WithTimeout(overall, a.ShutdownHTTPDrainTimeout)
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, err)
	}
	drainCancel()

	obsCtx, obsCancel := context.WithTimeout(overall, a.ShutdownObservabilityTimeout)
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		errs = append(errs, err)
	}
	obsCancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Error("shutdown completed with errors", "error", err)
		return err
	}
	a.Logger.Info("shutdown complete")
	return nil
}
