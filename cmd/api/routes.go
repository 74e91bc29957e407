package main

import (
	"net/http"

	"paircall/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Anonymous session issuance; everything below requires a token.
	r.POST("/v1/auth/session", h.CreateSession)
	r.POST("/v1/auth/refresh", h.RefreshSession)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.POST("/match/request", h.RequestMatch)
		v1.POST("/match/stop", h.StopSearch)
		v1.POST("/matches/:match_id/end", h.EndMatch)
		v1.POST("/matches/:match_id/connected", h.ReportConnected)

		v1.POST("/reports", h.SubmitReport)
		v1.POST("/blocks", h.CreateBlock)

		v1.GET("/rewards/balance", h.GetBalance)
		v1.GET("/profiles/:user_id", h.GetProfile)
	}

	// Browser WebSocket clients cannot set headers, so the middleware also
	// accepts the token as a query parameter here.
	r.GET("/ws/matches/:match_id", authMW, h.SignalingSocket)
}
