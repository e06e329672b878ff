package router

import (
	"github.com/labstack/echo/v4"

	"matchchat/internal/adapter/api/handler"
	"matchchat/internal/adapter/api/middleware"
	"matchchat/internal/infrastructure/ratelimit"
)

type Handlers struct {
	Chat      *handler.ChatHandler
	WebSocket *handler.WebSocketHandler
	Health    *handler.HealthHandler
	DevToken  *handler.DevTokenHandler
}

func Setup(e *echo.Echo, h Handlers, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e, h.Health)
	SetupMetricsRouter(e)
	SetupChatRouter(e, h.Chat, authMiddleware, limiter)
	SetupWebSocketRouter(e, h.WebSocket, authMiddleware)
	if h.DevToken != nil {
		SetupDevRouter(e, h.DevToken)
	}
}
