package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthChecker is a dependency probed by the readiness endpoint.
type HealthChecker interface {
	TestConnection(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]HealthChecker
}

func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{
		checks: checks,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "Server is running",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// CheckReady probes every dependency and reports 503 if any fails.
func (h *HealthHandler) CheckReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.TestConnection(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	return c.JSON(status, map[string]interface{}{
		"ready":  status == http.StatusOK,
		"checks": results,
	})
}
