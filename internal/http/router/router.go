package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"ripple.app/sync/internal/engine"
	"ripple.app/sync/internal/metadata"
)

// New builds the operational surface: liveness and a counters/position view
// for dashboards. No other HTTP API is served by this process.
func New(stats *engine.Stats, loader *metadata.Loader, serviceName string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(otelgin.Middleware(serviceName), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		graph := loader.Graph()
		c.JSON(http.StatusOK, gin.H{
			"stats":               stats.Snapshot(),
			"watched_collections": len(graph.WatchedCollections()),
		})
	})

	return r
}
