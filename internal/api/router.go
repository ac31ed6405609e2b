package api

import (
	"net/http"
	"time"

	"github.com/arencloud/depot/internal/command"
	"github.com/arencloud/depot/internal/config"
	"github.com/arencloud/depot/internal/db"
	"github.com/arencloud/depot/internal/deploy"
	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/middleware"
	"github.com/arencloud/depot/internal/provider"
	"github.com/arencloud/depot/internal/reconcile"
	"github.com/arencloud/depot/internal/teardown"
	"github.com/arencloud/depot/internal/version"

	"github.com/gin-contrib/requestid"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Config     *config.Config
	Logger     *logging.ZapLogger
	Store      *db.Store
	Provider   provider.Provider
	Runner     *deploy.Runner
	Reconciler *reconcile.Reconciler
	Teardown   *teardown.Pipeline
	Commands   *command.Executor
	Gatherer   prometheus.Gatherer // defaults to the global registry
}

type server struct {
	Deps
}

func Router(d Deps) *gin.Engine {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	s := &server{Deps: d}

	r := gin.New()
	r.Use(requestid.New())
	r.Use(ginzap.GinzapWithConfig(d.Logger.Zap(), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health", "/metrics"},
		Context: func(c *gin.Context) []zapcore.Field {
			return []zapcore.Field{zap.String("requestId", requestid.Get(c))}
		},
	}))
	r.Use(middleware.Recoverer(d.Logger))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": "depot", "version": version.String()})
	})

	v1 := api.Group("/v1")
	v1.GET("/resources", s.listResources)
	v1.POST("/resources", s.createResource)
	v1.GET("/resources/:id", s.getResource)
	v1.DELETE("/resources/:id", s.softDeleteResource)

	v1.POST("/deploy", s.deploy)
	v1.GET("/resources/:id/sync", s.checkSync)
	v1.POST("/resources/:id/sync", s.applySync)
	v1.POST("/sync/all", s.syncAll)
	v1.POST("/resources/:id/teardown", s.teardown)

	v1.GET("/resources/:id/objects", s.listObjects)
	v1.DELETE("/resources/:id/objects", s.deleteObject)
	v1.POST("/resources/:id/objects/move", s.moveObject)
	v1.POST("/resources/:id/upload-url", s.uploadURL)
	v1.GET("/resources/:id/files", s.listFiles)

	v1.POST("/commands", s.runCommand)
	v1.DELETE("/commands/:session", s.killCommand)

	v1.GET("/logs/recent", logsRecent)
	v1.GET("/logs/level", logsGetLevel)
	v1.PUT("/logs/level", logsSetLevel)
	return r
}
