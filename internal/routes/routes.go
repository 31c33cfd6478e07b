package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/caremesh/telecare/internal/handlers"
	"github.com/caremesh/telecare/internal/middlewares"
	"github.com/caremesh/telecare/internal/token"
)

// RegisterEndpoints wires the session API. The explicit middleware chain
// composed here is the single place request interception happens: no
// handler is reachable without passing through it.
func RegisterEndpoints(
	router *gin.Engine,
	sessionHandler *handlers.SessionHandler,
	webSocketHandler *handlers.WebSocketHandler,
	tokens *token.Manager,
) {
	api := router.Group("/api")

	// Scheduling and token issuance are called by the trusted upstream
	// request layer, which performs its own identity checks.
	api.POST("/sessions", sessionHandler.CreateSession)
	api.POST("/sessions/:id/token", sessionHandler.GenerateToken)

	// Session operations require a session-scoped access token.
	protected := api.Group("")
	protected.Use(middlewares.SessionAuthMiddleware(tokens))

	protected.POST("/sessions/:id/join", sessionHandler.JoinSession)
	protected.POST("/sessions/:id/leave", sessionHandler.LeaveSession)
	protected.POST("/sessions/:id/end", sessionHandler.EndSession)
	protected.POST("/sessions/:id/cancel", sessionHandler.CancelSession)
	protected.GET("/sessions/:id", sessionHandler.GetSessionSnapshot)

	// WebSocket subscription uses query-param token auth (browsers cannot
	// set headers on upgrade requests).
	wsAuth := middlewares.WebSocketAuthMiddleware(tokens)
	api.GET("/ws/sessions", wsAuth, webSocketHandler.Subscribe)
}
