package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/easyinjection/scand/pkg/database"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is the status of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string                 `json:"status"`
	ActiveScans int                    `json:"active_scans"`
	Checks      map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// The database check is degraded rather than unhealthy: the daemon keeps
// scanning without persistence.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbClient != nil {
		if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
			status = healthStatusDegraded
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.connManager != nil {
		checks["websocket"] = HealthCheck{Status: healthStatusHealthy}
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:      status,
		ActiveScans: s.manager.Active(),
		Checks:      checks,
	})
}
