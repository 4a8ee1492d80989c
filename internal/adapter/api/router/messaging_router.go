package router

import (
	"github.com/labstack/echo/v4"

	"swapmarket/internal/adapter/api/handler"
	"swapmarket/internal/adapter/api/middleware"
	"swapmarket/internal/infrastructure/ratelimit"
)

// SetupMessagingRouter sets up the conversation and message routes
func SetupMessagingRouter(e *echo.Echo, messagingHandler *handler.MessagingHandler, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	conversationGroup := e.Group("/v1/conversations")
	conversationGroup.Use(authMiddleware.Authenticate)
	conversationGroup.Use(middleware.RateLimit(limiter, ratelimit.ActionDefault))

	conversationGroup.POST("", messagingHandler.CreateConversation, middleware.RateLimit(limiter, ratelimit.ActionCreateConversation))
	conversationGroup.GET("", messagingHandler.GetUserConversations)
	conversationGroup.GET("/unread-count", messagingHandler.GetUnreadCount)
	conversationGroup.GET("/:id", messagingHandler.GetConversation)
	conversationGroup.DELETE("/:id", messagingHandler.DeleteConversation)
	conversationGroup.PUT("/:id/read", messagingHandler.MarkAsRead)

	conversationGroup.GET("/:id/messages", messagingHandler.GetMessages)
	conversationGroup.POST("/:id/messages", messagingHandler.SendMessage, middleware.RateLimit(limiter, ratelimit.ActionSendMessage))

	productGroup := e.Group("/v1/products")
	productGroup.Use(authMiddleware.Authenticate)
	productGroup.POST("/:id/contact", messagingHandler.ContactSeller, middleware.RateLimit(limiter, ratelimit.ActionCreateConversation))
}
