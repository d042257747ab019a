// Package api exposes the Courier engine over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier/engine"
)

// API wires the HTTP handlers for the courier pipeline.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
	now    func() time.Time
}

// New creates an API from a courier Engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger, now: eng.Courier().Clock()}
}

// Handler returns a gin engine with every route and the default
// middleware installed.
func (a *API) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.logger))

	r.GET("/health", a.health)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the /v1 routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	{
		jobs := v1.Group("/jobs")
		jobs.POST("", a.submitJob)
		jobs.GET("", a.listJobs)
		jobs.GET("/counts", a.jobCounts)
		jobs.GET("/:jobId", a.getJob)
		jobs.POST("/:jobId/cancel", a.cancelJob)

		dlqs := v1.Group("/dlq")
		dlqs.GET("", a.listDLQ)
		dlqs.GET("/count", a.dlqCount)
		dlqs.GET("/:entryId", a.getDLQ)
		dlqs.POST("/:entryId/replay", a.replayDLQ)

		v1.GET("/usage/:profile", a.usage)
	}
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "courier"})
}

// requestLogger logs each request with slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("http request", attrs...)
			return
		}
		logger.Debug("http request", attrs...)
	}
}
