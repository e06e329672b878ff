package router

import (
	"github.com/labstack/echo/v4"

	"matchchat/internal/adapter/api/handler"
)

// SetupDevRouter is only called when the development token verifier is active.
func SetupDevRouter(e *echo.Echo, devTokenHandler *handler.DevTokenHandler) {
	e.GET("/_dev/token/:uid", devTokenHandler.GenerateUserToken)
}
