package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/dental-clinic-admin/internal/generator"
)

// Health is a liveness probe for load balancers.  It returns a plain
// text "ok" with status 200 and touches no dependency.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// StatusHandler reports service status together with the reachability of
// the AI generator.
type StatusHandler struct {
    Generator generator.Generator
}

// Status handles GET /v1/health.  generator is "up" or "down" when the
// backend can be probed and "unknown" otherwise.  The service itself
// stays "ok" either way; chat requests report generator outages per turn.
func (h *StatusHandler) Status(c echo.Context) error {
    state := "unknown"
    if hc, ok := h.Generator.(generator.HealthChecker); ok {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
        defer cancel()
        if err := hc.Health(ctx); err != nil {
            state = "down"
        } else {
            state = "up"
        }
    }
    return c.JSON(http.StatusOK, echo.Map{
        "status":    "ok",
        "timestamp": time.Now().UTC().Format(time.RFC3339),
        "generator": state,
    })
}
