// Package app wires the module host together: configuration, logging, the
// module container and its collaborators, hot reload and metrics.
package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/modhost/internal/config"
	"github.com/dshills/modhost/internal/isolation"
	"github.com/dshills/modhost/internal/logging"
	"github.com/dshills/modhost/internal/plugin"
	plua "github.com/dshills/modhost/internal/plugin/lua"
)

// Application owns every long-lived component of the host.
type Application struct {
	mu sync.Mutex

	config *config.Config
	logger *log.Logger

	registry  *isolation.Registry
	runtime   *plugin.LuaRuntime
	discovery *plugin.DirectoryDiscovery
	container *plugin.Container
	bootstrap *plugin.Bootstrap
	manager   *plugin.Manager

	metrics  *prometheus.Registry
	watcher  *plugin.Watcher
	server   *http.Server
	listener net.Listener

	running atomic.Bool
	stopped atomic.Bool
}

// Options configures the application. Non-zero fields override the
// config file and environment.
type Options struct {
	// ConfigPath names a TOML file; empty means defaults only.
	ConfigPath string

	// ModulePaths replaces the configured module directories.
	ModulePaths []string

	// Watch enables hot reload.
	Watch bool

	// LogLevel overrides log.level.
	LogLevel string

	// MetricsListen sets the metrics endpoint address.
	MetricsListen string

	// LogOutput is where logs are written. Defaults to os.Stderr.
	LogOutput io.Writer
}

// New loads the configuration and builds the application. Nothing is
// loaded until Start.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	return NewWithConfig(cfg, opts)
}

// NewWithConfig builds the application from cfg, applying opts on top.
func NewWithConfig(cfg *config.Config, opts Options) (*Application, error) {
	applyOptions(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{config: cfg}
	if err := app.build(opts.LogOutput); err != nil {
		return nil, err
	}
	return app, nil
}

func applyOptions(cfg *config.Config, opts Options) {
	if len(opts.ModulePaths) > 0 {
		cfg.Modules.Paths = opts.ModulePaths
	}
	if opts.Watch {
		cfg.Modules.Watch = true
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.MetricsListen != "" {
		cfg.Metrics.Listen = opts.MetricsListen
	}
}

// build creates the components in dependency order.
func (app *Application) build(out io.Writer) error {
	cfg := app.config

	// 1. Logger
	logCfg := cfg.LoggingConfig()
	if out != nil {
		logCfg.Output = out
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return &InitError{Component: "logger", Err: err}
	}
	app.logger = logger

	// 2. Metrics
	app.metrics = prometheus.NewRegistry()
	app.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsObserver, err := plugin.NewMetricsObserver(app.metrics)
	if err != nil {
		return &InitError{Component: "metrics", Err: err}
	}

	// 3. Isolation registry and Lua runtime
	app.registry = isolation.NewRegistry(isolation.WithLogger(logging.WithComponent(logger, "isolation")))
	app.runtime = plugin.NewLuaRuntime(app.registry,
		plugin.WithStateOptions(
			plua.WithCallTimeout(cfg.Lua.CallTimeout.Std()),
			plua.WithCallStackSize(cfg.Lua.CallStackSize),
		),
		plugin.WithModuleConfig(cfg.ModuleConfig),
		plugin.WithRuntimeLogger(logging.WithComponent(logger, "lua")),
	)

	// 4. Discovery
	app.discovery = plugin.NewDirectoryDiscovery(app.runtime.Loadable,
		plugin.WithPaths(cfg.Modules.Paths...),
		plugin.WithDiscoveryLogger(logger),
	)

	// 5. Container, bootstrap and manager
	app.container = plugin.NewContainer(
		plugin.WithContainerLogger(logger),
		plugin.WithObserver(metricsObserver),
		plugin.WithValidator(plugin.VersionValidator{}),
	)
	app.bootstrap = plugin.NewBootstrap(app.discovery, app.container, plugin.WithBootstrapLogger(logger))
	app.manager = plugin.NewManager(app.container, app.discovery, plugin.WithManagerLogger(logger))

	return nil
}

// Start loads every discovered module and starts the watcher and metrics
// endpoint when configured. A bootstrap failure is returned together with
// the modules that did load; the application keeps running.
func (app *Application) Start(ctx context.Context) ([]*plugin.LoadedModule, error) {
	if app.stopped.Load() {
		return nil, ErrNotRunning
	}
	if !app.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	if app.config.Metrics.Listen != "" {
		if err := app.serveMetrics(app.config.Metrics.Listen); err != nil {
			app.running.Store(false)
			return nil, &InitError{Component: "metrics server", Err: err}
		}
	}

	loaded, loadErr := app.bootstrap.LoadAll(ctx)
	if loadErr != nil {
		app.logger.Error("bootstrap failed", "loaded", len(loaded), "err", loadErr)
	} else {
		app.logger.Info("bootstrap complete", "modules", len(loaded))
	}

	if app.config.Modules.Watch {
		if err := app.startWatcher(ctx); err != nil {
			return loaded, errors.Join(loadErr, &InitError{Component: "watcher", Err: err})
		}
	}
	return loaded, loadErr
}

func (app *Application) startWatcher(ctx context.Context) error {
	w, err := plugin.NewWatcher(app.manager, app.config.Modules.Paths,
		plugin.WithDebounce(app.config.Modules.Debounce.Std()),
		plugin.WithWatcherLogger(app.logger),
	)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Close()
		return err
	}

	app.mu.Lock()
	app.watcher = w
	app.mu.Unlock()
	app.logger.Info("watching module paths", "paths", app.config.Modules.Paths)
	return nil
}

func (app *Application) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.metrics, promhttp.HandlerOpts{Registry: app.metrics}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	app.mu.Lock()
	app.server = srv
	app.listener = ln
	app.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("metrics server stopped", "err", err)
		}
	}()
	app.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// Shutdown stops the watcher, unloads every module and stops the metrics
// endpoint, in that order. It is safe to call more than once.
func (app *Application) Shutdown(ctx context.Context) {
	if !app.stopped.CompareAndSwap(false, true) {
		return
	}
	app.running.Store(false)

	app.mu.Lock()
	w, srv := app.watcher, app.server
	app.mu.Unlock()

	// 1. Stop reacting to file changes
	if w != nil {
		if err := w.Close(); err != nil {
			app.logger.Warn("closing watcher", "err", err)
		}
	}

	// 2. Unload modules
	app.manager.Shutdown(ctx)
	app.registry.Close()

	// 3. Stop metrics
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn("stopping metrics server", "err", err)
		}
	}
	app.logger.Info("shutdown complete")
}

// IsRunning reports whether Start succeeded and Shutdown has not run.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the effective configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() *log.Logger {
	return app.logger
}

// Manager returns the module manager.
func (app *Application) Manager() *plugin.Manager {
	return app.manager
}

// Bootstrap returns the bootstrap over the configured module paths.
func (app *Application) Bootstrap() *plugin.Bootstrap {
	return app.bootstrap
}

// Discovery returns the discovery over the configured module paths.
func (app *Application) Discovery() *plugin.DirectoryDiscovery {
	return app.discovery
}

// Registry returns the isolation registry.
func (app *Application) Registry() *isolation.Registry {
	return app.registry
}

// Metrics returns the Prometheus registry.
func (app *Application) Metrics() prometheus.Gatherer {
	return app.metrics
}

// MetricsAddr returns the address the metrics endpoint listens on, or ""
// if it is not serving.
func (app *Application) MetricsAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener == nil {
		return ""
	}
	return app.listener.Addr().String()
}
