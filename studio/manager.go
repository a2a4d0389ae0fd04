// Package studio serves the configuration, dispatch and status API and a
// small preview UI.
package studio

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mostlygeek/genstudio/backend"
	"github.com/mostlygeek/genstudio/resolver"
	"github.com/mostlygeek/genstudio/studio/config"
)

type Options struct {
	Config     config.Config
	Resolver   *resolver.Resolver
	Dispatcher *backend.Dispatcher
	Logger     *LogMonitor
	Metrics    *Metrics

	// WatchInterval is the delay between polls for streamed job updates.
	WatchInterval time.Duration

	Version   string
	Commit    string
	BuildDate string
}

// Manager owns the gin engine and the shared services behind it.
type Manager struct {
	sync.Mutex

	config     config.Config
	resolver   *resolver.Resolver
	dispatcher *backend.Dispatcher
	logger     *LogMonitor
	metrics    *Metrics

	ginEngine     *gin.Engine
	uiPages       uiPages
	wsHub         *WSHub
	jobs          *JobRegistry
	watchInterval time.Duration

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	version   string
	commit    string
	buildDate string
}

func New(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = NewLogMonitor()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(nil, opts.Config.Configurations)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = backend.NewDispatcher()
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = backend.DefaultWatchInterval
	}
	opts.Dispatcher.SetObserver(opts.Metrics)
	opts.Logger.SetLogLevel(ParseLogLevel(opts.Config.LogLevel))

	pages, err := compileUIPages()
	if err != nil {
		return nil, err
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	pm := &Manager{
		config:         opts.Config,
		resolver:       opts.Resolver,
		dispatcher:     opts.Dispatcher,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		ginEngine:      gin.New(),
		uiPages:        pages,
		wsHub:          NewWSHub(),
		jobs:           NewJobRegistry(jobRetention),
		watchInterval:  opts.WatchInterval,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		version:        opts.Version,
		commit:         opts.Commit,
		buildDate:      opts.BuildDate,
	}

	pm.ginEngine.MaxMultipartMemory = maxUploadMemory
	pm.ginEngine.Use(gin.Recovery(), pm.requestLogger(), pm.metrics.middleware(), tracingMiddleware())
	pm.ginEngine.GET("/metrics", gin.WrapH(pm.metrics.Handler()))
	pm.ginEngine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	addApiHandlers(pm)
	addUIHandlers(pm)

	go pm.wsHub.Run(shutdownCtx)
	go pm.jobs.Run(shutdownCtx, jobCleanupPeriod)
	pm.forwardJobUpdates()

	return pm, nil
}

func (pm *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pm.ginEngine.ServeHTTP(w, r)
}

// ApplyConfig swaps in a reloaded config: built-in configurations, API keys
// and log level. Vendor credentials need a restart.
func (pm *Manager) ApplyConfig(cfg config.Config) {
	pm.Lock()
	pm.config = cfg
	pm.Unlock()

	pm.resolver.SetBuiltins(cfg.Configurations)
	pm.logger.SetLogLevel(ParseLogLevel(cfg.LogLevel))
	pm.logger.Infof("<studio> config reloaded, %d built-in configurations", len(cfg.Configurations))
}

func (pm *Manager) apiKeys() []string {
	pm.Lock()
	defer pm.Unlock()
	return pm.config.APIKeys
}

// Shutdown stops streaming handlers and the websocket hub.
func (pm *Manager) Shutdown() {
	pm.shutdownCancel()
}

func (pm *Manager) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		pm.logger.Debugf("<studio> %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
