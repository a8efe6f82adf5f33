// Package api exposes the HTTP and WebSocket surface of the scan daemon.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/easyinjection/scand/pkg/database"
	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/services"
	"github.com/easyinjection/scand/pkg/session"
)

// Server wires the session manager, persistence services and the WebSocket
// connection manager behind an echo router.
type Server struct {
	manager     *session.Manager
	connManager *events.ConnectionManager

	// Optional: nil when the daemon runs without a database.
	dbClient *database.Client
	results  *services.ResultService

	echo *echo.Echo
	http *http.Server
}

// NewServer builds the router. dbClient and results may be nil.
func NewServer(manager *session.Manager, connManager *events.ConnectionManager, dbClient *database.Client, results *services.ResultService) *Server {
	s := &Server{
		manager:     manager,
		connManager: connManager,
		dbClient:    dbClient,
		results:     results,
		echo:        echo.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ws", s.wsHandler)

	s.echo.POST("/api/v1/scans", s.createScanHandler)
	s.echo.POST("/api/v1/scans/:id/start", s.startScanHandler)
	s.echo.GET("/api/v1/scans/:id/status", s.scanStatusHandler)
	s.echo.POST("/api/v1/scans/:id/pause", s.pauseScanHandler)
	s.echo.POST("/api/v1/scans/:id/resume", s.resumeScanHandler)
	s.echo.POST("/api/v1/scans/:id/stop", s.stopScanHandler)
	s.echo.POST("/api/v1/scans/:id/answer", s.answerHandler)
	s.echo.GET("/api/v1/scans/:id", s.getScanHandler)
}

// Start runs the HTTP server on addr. Blocks until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.echo}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
