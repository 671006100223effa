package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/driptech/admin-session/config"
	redisadapter "github.com/driptech/admin-session/internal/adapters/redis"
	"github.com/driptech/admin-session/internal/ports"
	"github.com/driptech/admin-session/internal/service/session"
)

// App is a fully wired admin session service.
type App struct {
	Controller    *session.Controller
	Backend       AuthBackend
	Roles         ports.RoleResolver
	Handler       http.Handler
	Observability ObservabilityContainer

	relay      *redisadapter.EventRelay
	cfg        *config.AppConfig
	logger     *slog.Logger
	closeStore func() error
}

// AppDeps groups the inputs of NewApp.
type AppDeps struct {
	Config *config.AppConfig
	Infra  *Infrastructure
	Logger *slog.Logger
	Clock  ports.Clock // real clock when nil
}

// NewApp wires store, backend, roles, observability, controller and router.
// It does not start anything.
func NewApp(ctx context.Context, deps AppDeps) (*App, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("app config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, closeStore, err := BuildSessionStore(ctx, SessionStoreConfig{
		Session: cfg.Session,
		Infra:   deps.Infra,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, logger: logger, closeStore: closeStore}
	fail := func(err error) (*App, error) {
		return nil, errors.Join(err, closeStore())
	}

	app.Backend, err = BuildAuthBackend(ctx, AuthConfig{Auth: cfg.Auth, Store: store, Logger: logger})
	if err != nil {
		return fail(err)
	}

	app.Roles, err = BuildRoleResolver(RoleResolverConfig{Auth: cfg.Auth, Infra: deps.Infra, Logger: logger})
	if err != nil {
		return fail(err)
	}

	if cfg.Session.EventRelay {
		if deps.Infra == nil || deps.Infra.Redis == nil {
			return fail(errors.New("event relay: redis client not configured"))
		}
		app.relay = redisadapter.NewEventRelay(deps.Infra.Redis, cfg.Session.EventChannel, app.Backend.Bus(), logger)
	}

	app.Observability = buildObservability(logger, cfg.Observability)

	app.Controller, err = session.NewController(session.Options{
		Backend:  app.Backend,
		Roles:    app.Roles,
		Notifier: app.Observability.Notifier,
		Clock:    deps.Clock,
		Timings: session.Timings{
			IdleTimeout:      cfg.Session.IdleTimeout,
			WarningWindow:    cfg.Session.WarningWindow,
			ActivityThrottle: cfg.Session.ActivityThrottle,
			ActivityGrace:    cfg.Session.ActivityGrace,
			RoleLookup:       cfg.Auth.RoleLookupTimeout,
		},
		Logger:  logger,
		Metrics: app.Observability.Metrics,
	})
	if err != nil {
		return fail(errors.Join(err, app.Observability.Close()))
	}

	app.Handler = BuildHTTPHandler(HTTPHandlerConfig{
		HTTP:          cfg.HTTP,
		Controller:    app.Controller,
		Notifications: app.Observability.Hub,
		Metrics:       app.Observability.Counters.Snapshot,
		Health:        deps.Infra.HealthChecks(),
		Logger:        logger,
	})

	return app, nil
}

// Run starts the relay, bootstraps the controller and serves HTTP on ln
// until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.relay != nil {
		g.Go(func() error {
			if err := a.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event relay: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.Controller.Start(gctx)
		a.logger.InfoContext(gctx, "session controller started", "authenticated", a.Controller.State().IsAuthenticated)
		return nil
	})

	g.Go(func() error {
		server := newServer(a.cfg.HTTP.Addr, a.Handler)
		return serveHTTP(gctx, server, ln, a.cfg.HTTP.ShutdownTimeout, a.logger)
	})

	return g.Wait()
}

// Close tears down the controller and releases everything NewApp opened.
func (a *App) Close() error {
	a.Controller.Close()
	var errs []error
	if err := a.Observability.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close observability: %w", err))
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close session store: %w", err))
	}
	return errors.Join(errs...)
}

// ServiceOrchestrationConfig contains what RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config *config.AppConfig
	Infra  *Infrastructure
	Logger *slog.Logger
}

// RunServicesWithShutdown wires the app, serves until SIGINT/SIGTERM or a
// component failure, then shuts everything down.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app, err := NewApp(ctx, AppDeps{Config: cfg.Config, Infra: cfg.Infra, Logger: logger})
	if err != nil {
		return err
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", listenAddr(cfg.Config.HTTP.Addr))
	if err != nil {
		return errors.Join(fmt.Errorf("listen: %w", err), app.Close())
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(sigCtx, ln)
	if runErr != nil {
		logger.Error("service error", "error", runErr)
	} else {
		logger.Info("shutting down services...")
	}

	if err := app.Close(); err != nil {
		logger.Warn("close app", "error", err)
	}
	return runErr
}
