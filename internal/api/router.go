package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kandev/execwatch/internal/common/logger"
)

const serverName = "execwatch-api"

// NewRouter builds the control API. A nil gatherer serves the default
// Prometheus registry on /metrics.
func NewRouter(monitor Monitor, gatherer prometheus.Gatherer, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(OtelTracing(serverName))
	router.Use(RequestLogger(log, serverName))

	NewHandlers(monitor, log).registerHTTP(router)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}
