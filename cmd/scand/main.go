// scand is the scan orchestration daemon — it drives sqlmap and dalfox
// through a phased educational workflow, serves the HTTP/WebSocket API, and
// persists results to PostgreSQL when one is configured.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/easyinjection/scand/pkg/api"
	"github.com/easyinjection/scand/pkg/cleanup"
	"github.com/easyinjection/scand/pkg/database"
	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/questions"
	"github.com/easyinjection/scand/pkg/services"
	"github.com/easyinjection/scand/pkg/session"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	httpPort := getEnv("HTTP_PORT", "8081")
	slog.Info("Starting scand", "http_port", httpPort)

	ctx := context.Background()

	// 1. Database is optional: without DB_HOST the daemon scans without
	// persistence and gates with the builtin question bank.
	var dbClient *database.Client
	var results *services.ResultService
	var store questions.Store = questions.Builtin()

	if os.Getenv("DB_HOST") != "" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}

		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")

		results = services.NewResultService(dbClient.DB())

		questionService := services.NewQuestionService(dbClient.DB())
		if err := seedBuiltinQuestions(ctx, questionService); err != nil {
			slog.Warn("Failed to seed builtin questions", "error", err)
		}
		store = &services.FallbackStore{Primary: questionService, Secondary: questions.Builtin()}
	} else {
		slog.Info("No DB_HOST configured — running without persistence")
	}

	// 2. WebSocket fan-out and session registry. The connection manager
	// needs the manager as its command surface, and the manager needs the
	// connection manager's hook; SetController closes the cycle.
	connManager := events.NewConnectionManager(nil, 10*time.Second)

	hooks := []session.Hook{connManager.BindScan}
	if results != nil {
		hooks = append(hooks, services.NewRecorder(results, nil).BindScan)
	}
	manager := session.NewManager(store, hooks...)
	connManager.SetController(manager)

	// 3. Retention sweeps over the shared artifact directories.
	cleanupSvc := cleanup.NewService(cleanup.DefaultConfig(
		filepath.Join(os.TempDir(), "easyinjection_scans"),
		filepath.Join(os.TempDir(), "easyinjection_sqlmap_tmp"),
	), results)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// 4. HTTP server (non-blocking).
	httpServer := api.NewServer(manager, connManager, dbClient, results)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("scand started successfully")

	// 5. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown: stop active scans first so their tool processes
	// are killed and terminal states persisted, then drain HTTP.
	scanShutdownCtx, scanCancel := context.WithTimeout(ctx, 30*time.Second)
	defer scanCancel()
	if err := manager.Shutdown(scanShutdownCtx); err != nil {
		slog.Warn("Scan shutdown timeout exceeded", "error", err)
	} else {
		slog.Info("Active scans stopped gracefully")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// seedBuiltinQuestions loads the builtin bank into the database so curated
// content and builtin content share one catalog. Idempotent.
func seedBuiltinQuestions(ctx context.Context, svc *services.QuestionService) error {
	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return svc.Seed(seedCtx, questions.Builtin().All())
}
