package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchchat/internal/adapter/api/handler"
)

func SetupHealthRouter(e *echo.Echo, healthHandler *handler.HealthHandler) {
	e.GET("/health", healthHandler.CheckHealth)
	e.GET("/ready", healthHandler.CheckReady)
}

func SetupMetricsRouter(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
