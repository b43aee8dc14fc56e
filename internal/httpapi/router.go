// Package httpapi serves the local debug endpoints: health, a status
// snapshot, and Prometheus metrics.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Status is a point-in-time snapshot of the watcher.
type Status struct {
	ClientID         string `json:"client_id"`
	SessionState     string `json:"session_state"`
	FramesSent       uint64 `json:"frames_sent"`
	FramesSkipped    uint64 `json:"frames_skipped"`
	CapturePublished uint64 `json:"capture_published"`
	CaptureDropped   uint64 `json:"capture_dropped"`
}

// StatusFunc produces the current status snapshot.
type StatusFunc func() Status

// NewRouter executes the newRouter function.
func NewRouter(status StatusFunc, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, status())
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
		)
	}
}
