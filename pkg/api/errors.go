package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/services"
	"github.com/easyinjection/scand/pkg/session"
)

// mapScanError maps session- and service-layer errors to HTTP error
// responses. Ownership failures are reported as not-found so the API never
// discloses which scan ids exist.
func mapScanError(err error) *echo.HTTPError {
	var validErr *config.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, session.ErrScanNotFound) || errors.Is(err, session.ErrForbidden) {
		return echo.NewHTTPError(http.StatusNotFound, "scan not found")
	}
	if errors.Is(err, session.ErrAlreadyStarted) {
		return echo.NewHTTPError(http.StatusConflict, "scan already started")
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "scan not found")
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected scan error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
