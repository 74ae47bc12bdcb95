package apihandlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API on router.
func RegisterRoutes(router gin.IRouter, h *APIHandler) {
	router.GET("/health", h.HealthHandler)

	v1 := router.Group("/api/v1")
	v1.Use(CheckSourceMiddleware)
	{
		watchGroup := v1.Group("/watches")
		{
			watchGroup.POST("", h.StartWatchHandler)
			watchGroup.GET("", h.ListWatchesHandler)
			watchGroup.GET("/:id", h.GetWatchHandler)
			watchGroup.DELETE("/:id", h.CancelWatchHandler)
			watchGroup.GET("/:id/checks", h.WatchChecksHandler)
		}

		v1.GET("/status", h.StatusHandler)
		v1.GET("/history", h.HistoryHandler)
	}
}
