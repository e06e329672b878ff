package router

import (
	"github.com/labstack/echo/v4"

	"matchchat/internal/adapter/api/handler"
	"matchchat/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up the session endpoint. The token may come from ?token=.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.Authenticate)
}
