package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/services"
)

// CreateScanRequest is the POST /api/v1/scans body.
type CreateScanRequest struct {
	Alias string `json:"alias"`
	config.RawScanConfig
}

// CreateScanResponse carries the id of a freshly registered scan.
type CreateScanResponse struct {
	ScanID string `json:"scan_id"`
}

// AnswerRequest is the POST /api/v1/scans/:id/answer body.
type AnswerRequest struct {
	SelectedAnswer *int `json:"selected_answer"`
}

// StatusResponse wraps a generic acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// createScanHandler handles POST /api/v1/scans. The scan is registered but
// does not run until the start endpoint or a socket scan:start.
func (s *Server) createScanHandler(c *echo.Context) error {
	var req CreateScanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	userID := extractUserID(c)
	scanID, err := s.manager.Create(userID, req.RawScanConfig)
	if err != nil {
		return mapScanError(err)
	}

	if s.results != nil {
		record := models.Scan{
			ID:     scanID,
			UserID: userID,
			Alias:  req.Alias,
			URL:    req.URL,
			SQLi:   req.SQLi,
			XSS:    req.XSS,
			DBMS:   req.DBMS,
		}
		if err := s.results.CreateScan(c.Request().Context(), record); err != nil {
			return mapScanError(err)
		}
	}

	return c.JSON(http.StatusCreated, &CreateScanResponse{ScanID: scanID})
}

// startScanHandler handles POST /api/v1/scans/:id/start.
func (s *Server) startScanHandler(c *echo.Context) error {
	scanID := c.Param("id")
	if scanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scan id is required")
	}

	if err := s.manager.Start(scanID, extractUserID(c)); err != nil {
		return mapScanError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "started"})
}

// scanStatusHandler handles GET /api/v1/scans/:id/status.
func (s *Server) scanStatusHandler(c *echo.Context) error {
	scanID := c.Param("id")
	if scanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scan id is required")
	}

	status, err := s.manager.Status(scanID, extractUserID(c))
	if err != nil {
		return mapScanError(err)
	}
	return c.JSON(http.StatusOK, status)
}

// pauseScanHandler handles POST /api/v1/scans/:id/pause.
func (s *Server) pauseScanHandler(c *echo.Context) error {
	return s.runCommand(c, s.manager.Pause, "paused")
}

// resumeScanHandler handles POST /api/v1/scans/:id/resume.
func (s *Server) resumeScanHandler(c *echo.Context) error {
	return s.runCommand(c, s.manager.Resume, "resumed")
}

// stopScanHandler handles POST /api/v1/scans/:id/stop.
func (s *Server) stopScanHandler(c *echo.Context) error {
	return s.runCommand(c, s.manager.Stop, "stopped")
}

func (s *Server) runCommand(c *echo.Context, cmd func(scanID, ownerID string) error, ack string) error {
	scanID := c.Param("id")
	if scanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scan id is required")
	}

	if err := cmd(scanID, extractUserID(c)); err != nil {
		return mapScanError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: ack})
}

// answerHandler handles POST /api/v1/scans/:id/answer.
func (s *Server) answerHandler(c *echo.Context) error {
	scanID := c.Param("id")
	if scanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scan id is required")
	}

	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SelectedAnswer == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "selected_answer is required")
	}

	if err := s.manager.Answer(scanID, extractUserID(c), *req.SelectedAnswer); err != nil {
		return mapScanError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "answered"})
}

// getScanHandler handles GET /api/v1/scans/:id — the persisted record of a
// finished or historical scan.
func (s *Server) getScanHandler(c *echo.Context) error {
	scanID := c.Param("id")
	if scanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scan id is required")
	}
	if s.results == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not available")
	}

	scan, err := s.results.GetScan(c.Request().Context(), scanID)
	if err != nil {
		return mapScanError(err)
	}
	if scan.UserID != extractUserID(c) {
		return mapScanError(services.ErrNotFound)
	}
	return c.JSON(http.StatusOK, scan)
}
