package api

import (
	"talkpip/config"
	"talkpip/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())
	h := NewHandler(tm, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/batches", h.handleCreateBatch)
		v1.GET("/batches", h.handleListBatches)
		v1.GET("/batches/:batchId", h.handleGetBatch)

		// Composite download for finished talks.
		v1.GET("/files/:key", h.handleGetFile)
	}
	return r
}
