package handler

import (
	"context"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"matchchat/internal/adapter/api/middleware"
	ws "matchchat/internal/infrastructure/websocket"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
	"matchchat/pkg/response"
)

type WebSocketHandler struct {
	wsManager *ws.Manager
	upgrader  gorillaws.Upgrader
}

func NewWebSocketHandler(wsManager *ws.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades an authenticated request and serves the session until it closes.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed for user %s: %v", userID, err)
		return nil
	}

	h.wsManager.Serve(context.Background(), conn, userID)
	return nil
}
