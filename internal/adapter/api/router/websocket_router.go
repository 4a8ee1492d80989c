package router

import (
	"github.com/labstack/echo/v4"

	"swapmarket/internal/adapter/api/handler"
	"swapmarket/internal/adapter/api/middleware"
	"swapmarket/internal/infrastructure/ratelimit"
)

// SetupWebSocketRouter sets up the live subscription endpoint
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.AuthenticateWebSocket, middleware.RateLimit(limiter, ratelimit.ActionSubscribe))
}
