package router

import (
	"github.com/labstack/echo/v4"

	"swapmarket/internal/adapter/api/handler"
	"swapmarket/internal/adapter/api/middleware"
	"swapmarket/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter, wsHandler *handler.WebSocketHandler) {
	SetupMessagingRouter(e, handler.GetMessagingHandler(), authMiddleware, limiter)
	SetupWebSocketRouter(e, wsHandler, authMiddleware, limiter)
	SetupHealthRouter(e)
}
