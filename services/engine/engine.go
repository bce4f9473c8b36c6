// Package engine wires together the bot hosting control plane's
// collaborators — persistence, workspace materialization, installation,
// risk analysis, process supervision, the event bus, and the facade — into
// one runnable HTTP service.
package engine

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatforge/engine/pkg/logging"
	"github.com/chatforge/engine/services/bot/eventbus"
	"github.com/chatforge/engine/services/bot/facade"
	"github.com/chatforge/engine/services/bot/installer"
	"github.com/chatforge/engine/services/bot/procexec"
	"github.com/chatforge/engine/services/bot/radar"
	"github.com/chatforge/engine/services/bot/store"
	"github.com/chatforge/engine/services/bot/supervisor"
	"github.com/chatforge/engine/services/bot/workspace"
	"github.com/chatforge/engine/services/engine/middleware"
	"github.com/chatforge/engine/services/engine/routes"
)

// Service is the engine's runnable HTTP server.
type Service interface {
	// Run starts the HTTP server and blocks until it stops or errors.
	Run() error

	// Router exposes the underlying gin.Engine, mainly for tests that want
	// to drive requests without binding a real listener.
	Router() *gin.Engine
}

// Config bundles everything needed to construct a Service.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port int

	// GinMode is one of gin.DebugMode, gin.ReleaseMode, gin.TestMode.
	// Defaults to gin.ReleaseMode.
	GinMode string

	// WorkspaceRoot is the directory bot workspaces are materialized under.
	WorkspaceRoot string

	// BadgerPath is the directory the embedded database persists to. Ignored
	// when InMemoryStore is set.
	BadgerPath string

	// InMemoryStore runs the store without disk persistence; used by tests.
	InMemoryStore bool

	// LogDir, if set, additionally writes structured logs to this directory.
	LogDir string

	// RuntimeABinary and RuntimeBBinary override the interpreter binaries
	// the supervisor spawns. Empty keeps the supervisor package defaults
	// ("python3", "node").
	RuntimeABinary string
	RuntimeBBinary string

	// Quota overrides the runtime RADAR quota. Zero value uses
	// radar.DefaultQuota().
	Quota radar.Quota

	// MaxBotsPerUser is the MAX_BOTS_PER_USER cap enforced by the facade at
	// creation time. Zero means unlimited.
	MaxBotsPerUser int

	// Authenticator validates bearer tokens on every HTTP and WebSocket
	// route except /health. Required.
	Authenticator middleware.Authenticator
}

// applyConfigDefaults fills the zero-valued fields of cfg with production
// defaults.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = "/var/lib/chatforge/workspaces"
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "/var/lib/chatforge/db"
	}
	return cfg
}

// service is the concrete Service implementation.
type service struct {
	config Config
	router *gin.Engine
	logger *logging.Logger
	st     store.Store
}

// New constructs a Service: opens the store, builds every collaborator, and
// registers HTTP routes. The caller owns calling Run; Run releases the
// store and the log file when the server stops.
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("engine: Authenticator is required")
	}

	logger := logging.New(logging.Config{Level: logging.LevelInfo, JSON: true, LogDir: cfg.LogDir, Service: "engine"})

	storeCfg := store.DefaultConfig(cfg.BadgerPath)
	if cfg.InMemoryStore {
		storeCfg = store.InMemoryConfig()
	}
	storeCfg.Logger = logger.Slog()
	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	if cfg.RuntimeABinary != "" {
		supervisor.RuntimeABinary = cfg.RuntimeABinary
	}
	if cfg.RuntimeBBinary != "" {
		supervisor.RuntimeBBinary = cfg.RuntimeBBinary
	}

	runner := procexec.NewDefaultRunner()
	bus := eventbus.New()

	sup := supervisor.New(supervisor.Config{
		Store:        st,
		Materializer: workspace.New(cfg.WorkspaceRoot),
		Installer:    installer.New(runner, logger.Slog()),
		Scanner:      radar.NewStaticScanner(),
		Runner:       runner,
		Bus:          bus,
		Quota:        cfg.Quota,
		Logger:       logger.Slog(),
	})

	fc := facade.New(st, sup, bus, cfg.MaxBotsPerUser)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	routes.SetupRoutes(router, fc, bus, cfg.Authenticator)

	return &service{config: cfg, router: router, logger: logger, st: st}, nil
}

// Run starts the HTTP server and blocks until it exits.
func (s *service) Run() error {
	defer s.cleanup()
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("engine: listening", "addr", addr)
	return s.router.Run(addr)
}

// Router exposes the gin.Engine for tests.
func (s *service) Router() *gin.Engine { return s.router }

func (s *service) cleanup() {
	if closer, ok := s.st.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("engine: store close failed", "err", err)
		}
	}
	if err := s.logger.Close(); err != nil {
		// nothing left to log to at this point
		_ = err
	}
}

// requestLogger logs each request's method, path, status, and latency
// through the engine's structured logger, mirroring gin.Logger's shape but
// routed through log/slog instead of writing directly to stdout.
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("engine: request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}
