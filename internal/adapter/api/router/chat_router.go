package router

import (
	"github.com/labstack/echo/v4"

	"matchchat/internal/adapter/api/handler"
	"matchchat/internal/adapter/api/middleware"
	"matchchat/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up all chat REST routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	v1 := e.Group("/v1")
	v1.Use(authMiddleware.Authenticate)
	v1.Use(middleware.RateLimit(limiter, "api"))

	rooms := v1.Group("/rooms")
	rooms.POST("", chatHandler.CreateRoom, middleware.RateLimit(limiter, "create_room"))
	rooms.GET("/by-match/:matchId", chatHandler.GetRoomByMatch)
	rooms.GET("/:id", chatHandler.GetRoom)
	rooms.DELETE("/:id", chatHandler.DeleteRoom)
	rooms.POST("/:id/archive", chatHandler.ArchiveRoom)
	rooms.POST("/:id/restore", chatHandler.RestoreRoom)
	rooms.POST("/:id/participants", chatHandler.AddParticipant)
	rooms.PUT("/:id/mute", chatHandler.SetMute)
	rooms.GET("/:id/mute", chatHandler.GetMute)
	rooms.GET("/:id/online", chatHandler.GetOnline)

	rooms.POST("/:id/messages", chatHandler.SendMessage, middleware.RateLimit(limiter, "send_message"))
	rooms.GET("/:id/messages", chatHandler.GetMessages)
	rooms.PUT("/:id/read", chatHandler.MarkRead)
	rooms.PUT("/:id/delivered", chatHandler.MarkDelivered)

	v1.GET("/unread", chatHandler.GetUnreadCount)
	v1.PUT("/presence", chatHandler.UpdatePresence)
}
