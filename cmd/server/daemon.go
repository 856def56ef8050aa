package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/ai-in-one/internal/api"
	"github.com/shehryarbajwa/ai-in-one/internal/browser"
	"github.com/shehryarbajwa/ai-in-one/internal/config"
	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/internal/cookiejar"
	"github.com/shehryarbajwa/ai-in-one/internal/cookies"
	"github.com/shehryarbajwa/ai-in-one/internal/events"
	"github.com/shehryarbajwa/ai-in-one/internal/identity"
	"github.com/shehryarbajwa/ai-in-one/internal/login"
	"github.com/shehryarbajwa/ai-in-one/internal/metrics"
	"github.com/shehryarbajwa/ai-in-one/internal/ratelimit"
	"github.com/shehryarbajwa/ai-in-one/internal/session"
	"github.com/shehryarbajwa/ai-in-one/internal/tasks"
)

// daemon holds every long-lived component of the server
type daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *ctxmgr.Registry
	contexts  *ctxmgr.Manager
	jar       *cookiejar.Jar
	runtime   *browser.Runtime
	pool      *browser.Pool
	metrics   *metrics.Metrics
	sync      *cookies.Synchronizer
	scheduler *tasks.Scheduler
	limiter   *ratelimit.Limiter
	login     *login.Fallback
	hub       *events.Hub
	sessions  *session.Manager
}

// openStorage opens the pieces shared by the server and the offline commands
func openStorage(cfg *config.Config, logger *zap.Logger) (*ctxmgr.Registry, *ctxmgr.Manager, *cookiejar.Jar, error) {
	registry := ctxmgr.NewDefaultRegistry()

	contexts, err := ctxmgr.NewManager(registry, filepath.Join(cfg.Storage.Dir, "contexts"))
	if err != nil {
		return nil, nil, nil, err
	}

	jar, err := cookiejar.Open(filepath.Join(cfg.Storage.Dir, "cookies"), logger.Named("cookiejar"))
	if err != nil {
		return nil, nil, nil, err
	}
	return registry, contexts, jar, nil
}

// newDaemon wires the components together from configuration
func newDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger, metrics: metrics.New()}

	var err error
	d.registry, d.contexts, d.jar, err = openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("storage ready", zap.String("dir", cfg.Storage.Dir))

	if err := d.startRuntime(ctx); err != nil {
		d.Close()
		return nil, err
	}

	var store cookies.Store = d.jar
	if cfg.Cookies.Store == "browser" {
		store = d.runtime
	}

	d.sync = cookies.NewSynchronizer(d.registry, store, logger.Named("cookies"), cookies.Options{
		PinDuration: cfg.Cookies.PinDuration,
		PinSession:  cfg.Cookies.PinSession,
		Recorder:    d.metrics,
	})
	d.sync.WatchSSOContexts()

	d.scheduler, err = tasks.NewScheduler(logger.Named("tasks"))
	if err != nil {
		d.Close()
		return nil, err
	}

	d.hub = events.NewHub(logger.Named("events"), cfg.Server.AllowedOrigin, d.metrics)
	d.limiter = ratelimit.NewLimiter(cfg.Login.RatePerHour, cfg.Login.Burst)

	d.login = login.NewFallback(d.registry, d.sync, d.scheduler, logger.Named("login"), login.Options{
		SyncDelay: cfg.Login.SyncDelay,
		Limiter:   d.limiter,
		Opener:    login.SystemOpener(),
		Publisher: d.hub,
		Recorder:  d.metrics,
	})

	targets := []identity.Target{d.contexts}
	navigators := session.Navigators{d.hub}
	if d.runtime != nil {
		targets = append(targets, d.runtime)
		navigators = append(navigators, d.runtime)
	}
	policy := identity.NewPolicy(d.registry, logger.Named("identity"), targets...)

	d.sessions = session.NewManager(d.contexts, d.sync, policy, d.login, logger.Named("session"), session.Options{
		Navigator: navigators,
		Recorder:  d.metrics,
	})

	return d, nil
}

// startRuntime launches the optional live browser runtime
func (d *daemon) startRuntime(ctx context.Context) error {
	var launcher browser.Launcher
	switch d.cfg.Browser.Runtime {
	case "local":
		launcher = browser.LocalLauncher{ChromePath: d.cfg.Browser.ChromePath, Headless: d.cfg.Browser.Headless}
	case "docker":
		pool, err := browser.NewPool()
		if err != nil {
			return fmt.Errorf("failed to connect to docker: %w", err)
		}
		d.pool = pool

		pullCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := pool.EnsureImage(pullCtx); err != nil {
			return err
		}
		launcher = browser.DockerLauncher{Pool: pool, Logger: d.logger.Named("docker")}
	default:
		return nil
	}

	d.runtime = browser.NewRuntime(launcher, d.contexts, d.cfg.Browser.MaxInstances, d.logger.Named("browser"))
	d.logger.Info("browser runtime enabled",
		zap.String("runtime", d.cfg.Browser.Runtime),
		zap.Int64("max_instances", d.cfg.Browser.MaxInstances))
	return nil
}

// routes builds the HTTP handler tree
func (d *daemon) routes() api.Routes {
	return api.Routes{
		Handler:       api.NewHandler(d.sessions, d.registry, d.limiter, d.logger.Named("api")),
		Contexts:      api.NewContextHandler(d.contexts, d.logger.Named("api")),
		Events:        d.hub,
		Metrics:       d.metrics.Handler(),
		Observer:      d.metrics,
		AllowedOrigin: d.cfg.Server.AllowedOrigin,
		Logger:        d.logger.Named("http"),
	}
}

// Close releases components in reverse dependency order
func (d *daemon) Close() {
	if d.sync != nil {
		d.sync.Close()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			d.logger.Warn("scheduler shutdown failed", zap.Error(err))
		}
	}
	if d.hub != nil {
		d.hub.Close()
	}
	if d.runtime != nil {
		d.runtime.Close()
	}
	if d.pool != nil {
		if err := d.pool.Close(); err != nil {
			d.logger.Warn("docker client close failed", zap.Error(err))
		}
	}
	if d.jar != nil {
		if err := d.jar.Close(); err != nil {
			d.logger.Warn("cookie jar close failed", zap.Error(err))
		}
	}
}
