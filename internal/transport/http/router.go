package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func Router(h *PipelineHandler, apiKey string) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"X-Api-Key", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1", APIKeyAuth(apiKey))
	{
		api.POST("/reconciliation/run", h.RunReconciliation)
		api.POST("/retries/run", h.RunRetries)
		api.POST("/duplicates/run", h.RunDuplicates)
		api.POST("/orders/:id/split", h.SplitOrder)
		api.POST("/payments/verify", h.VerifyPayment)
	}

	return r
}
