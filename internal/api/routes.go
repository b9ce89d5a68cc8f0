// Package api provides the HTTP API of the backup server.
package api

import (
	"time"

	"github.com/attic-backup/attic/internal/api/handlers"
	"github.com/attic-backup/attic/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// Environment selects gin's mode; "production" disables debug output.
	Environment string
	// RegisterRateLimit is the number of register calls allowed per period
	// from one client IP.
	RegisterRateLimit  int64
	RegisterRatePeriod time.Duration
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// Deps are the services the routes dispatch to.
type Deps struct {
	Agents   handlers.AgentService
	Devices  handlers.DeviceStore
	Engine   handlers.BackupEngine
	Trust    handlers.TrustService
	Versions handlers.VersionBrowser
	Cleaner  handlers.VersionCleaner
	Restorer handlers.Restorer
	Shares   handlers.ShareDeprovisioner
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) *Router {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(logger))

	r := &Router{
		Engine: engine,
		logger: logger.With().Str("component", "router").Logger(),
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	engine.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":   cfg.Version,
			"commit":    cfg.Commit,
			"buildDate": cfg.BuildDate,
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")

	registerLimiter := middleware.NewRateLimiter(cfg.RegisterRateLimit, cfg.RegisterRatePeriod)
	handlers.NewAgentHandler(deps.Agents, logger).RegisterRoutes(v1, registerLimiter)
	handlers.NewDeviceHandler(deps.Devices, deps.Engine, deps.Trust, deps.Cleaner, deps.Shares, logger).RegisterRoutes(v1)
	handlers.NewVersionHandler(deps.Devices, deps.Versions, deps.Restorer, logger).RegisterRoutes(v1)

	return r
}
