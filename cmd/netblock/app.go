package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/haukened/adobe-netblock/internal/netblock/common/clock"
	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/config"
	"github.com/haukened/adobe-netblock/internal/netblock/gateways/api"
	"github.com/haukened/adobe-netblock/internal/netblock/gateways/fetcher"
	"github.com/haukened/adobe-netblock/internal/netblock/infra/metrics"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/bloom"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/lru"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/parsers"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/hosts"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/lock"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/mirrors"
	"github.com/haukened/adobe-netblock/internal/netblock/services/status"
	"github.com/haukened/adobe-netblock/internal/netblock/services/updater"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultHeaderTimeout   = 10 * time.Second
)

// Application holds the wired components behind every command.
type Application struct {
	config   *config.AppConfig
	service  *updater.Service
	recorder *metrics.Recorder
	logger   log.Logger
}

// buildOptions tunes buildApplication per command.
type buildOptions struct {
	// Runtime adds Go runtime collectors for the long-running server.
	Runtime bool
	// Client replaces the HTTP client used for fetching.
	Client fetcher.Doer
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig, opts buildOptions) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	recorder := metrics.New(metrics.Options{Runtime: opts.Runtime})

	parse := parsers.Options{
		DefaultSink: cfg.Sink.Default,
		ForceSink:   cfg.Sink.Force,
		Logger:      logger,
	}

	repos, err := buildRepositories(cfg, parse, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	fetch := fetcher.New(fetcher.Options{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: fmt.Sprintf("%s/%s", cfg.Fetch.UserAgent, version),
		MaxBytes:  cfg.Fetch.MaxBytes,
		Upstream:  repos.registry.Upstream(),
		Logger:    logger,
		Observe:   recorder.ObserveFetch,
		Client:    opts.Client,
		Now:       clk.Now,
	})

	evaluator := status.New(status.Options{
		Index:  repos.index,
		Parse:  parse,
		Logger: logger,
	})

	svc := updater.New(updater.Options{
		Registry:  repos.registry,
		Fetcher:   fetch,
		Store:     repos.store,
		Evaluator: evaluator,
		Locker:    repos.locker,
		Metrics:   recorder,
		Clock:     clk,
		Logger:    logger,
		Parse:     parse,
		Timeout:   cfg.Fetch.Timeout,
	})

	logger.Debug(map[string]any{
		"hosts":     repos.store.Path(),
		"lock":      repos.locker.Path(),
		"preferred": cfg.Source.Preferred,
		"sources":   len(repos.registry.List()),
	}, "application_built")

	return &Application{
		config:   cfg,
		service:  svc,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// repositories holds all repository implementations
type repositories struct {
	registry *mirrors.Registry
	store    *hosts.Store
	locker   *lock.Locker
	index    blocklist.Index
}

// buildRepositories creates and configures all repository implementations
func buildRepositories(cfg *config.AppConfig, parse parsers.Options, clk clock.Clock, logger log.Logger) (*repositories, error) {
	registry := mirrors.New(mirrors.Options{
		Sources:  cfg.Source.MirrorSources(mirrors.DefaultSources),
		Upstream: cfg.Source.Upstream(),
		Logger:   logger,
	})

	store := hosts.New(hosts.Options{
		Path:   cfg.Hosts.Path,
		Logger: logger,
		Parse:  parse,
	})

	locker := lock.New(lock.Options{
		Path:   cfg.Hosts.Lock,
		Clock:  clk,
		Logger: logger,
	})

	cache, err := lru.New(cfg.Index.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	index := blocklist.NewIndex(cache, bloom.NewFactory(), cfg.Index.FPRate)

	return &repositories{
		registry: registry,
		store:    store,
		locker:   locker,
		index:    index,
	}, nil
}

// ExportMetrics writes the textfile export when one is configured.
func (app *Application) ExportMetrics() {
	path := app.config.Metrics.Textfile
	if path == "" {
		return
	}
	if err := app.recorder.WriteTextfile(path); err != nil {
		app.logger.Warn(map[string]any{"path": path, "error": err}, "metrics_textfile_failed")
	}
}

// Serve runs the HTTP API until ctx is cancelled. ready, when set, receives
// the bound address once the listener is open.
func (app *Application) Serve(ctx context.Context, ready func(addr string)) error {
	router := api.NewRouter(api.Options{
		Service: app.service,
		Metrics: app.recorder.Handler(),
		Token:   app.config.API.Token,
		Logger:  app.logger,
	})

	ln, err := net.Listen("tcp", app.config.API.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.API.Listen, err)
	}
	srv := &http.Server{Handler: router, ReadHeaderTimeout: defaultHeaderTimeout}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	app.logger.Info(map[string]any{"address": ln.Addr().String(), "version": version}, "api_server_started")
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info(nil, "api_server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Warn(map[string]any{"timeout": defaultShutdownTimeout, "error": err}, "api_server_shutdown_failed")
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
