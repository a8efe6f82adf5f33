// Package cleanup provides retention sweeps for scan artifacts.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NotificationPruner removes old read notifications from the database.
// Implemented by services.ResultService.
type NotificationPruner interface {
	PruneNotifications(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config controls the retention sweep.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// ArtifactMaxAge is how long per-scan output and temp directories are kept.
	ArtifactMaxAge time.Duration
	// NotificationMaxAge is how long read notifications are kept.
	NotificationMaxAge time.Duration
	// Dirs are the parent directories swept for stale scan_* entries.
	Dirs []string
}

// DefaultConfig keeps artifacts for a day and notifications for a month.
func DefaultConfig(dirs ...string) Config {
	return Config{
		Interval:           time.Hour,
		ArtifactMaxAge:     24 * time.Hour,
		NotificationMaxAge: 30 * 24 * time.Hour,
		Dirs:               dirs,
	}
}

// Service periodically enforces retention:
//   - Removes per-scan output and sqlmap temp directories past their age
//   - Deletes old read notifications
//
// All operations are idempotent.
type Service struct {
	config Config
	pruner NotificationPruner // nil when the daemon runs without a database

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. pruner may be nil.
func NewService(cfg Config, pruner NotificationPruner) *Service {
	return &Service{config: cfg, pruner: pruner}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"artifact_max_age", s.config.ArtifactMaxAge,
		"notification_max_age", s.config.NotificationMaxAge,
		"interval", s.config.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Service) RunOnce(ctx context.Context) {
	for _, dir := range s.config.Dirs {
		s.sweepDir(dir)
	}
	s.pruneNotifications(ctx)
}

// sweepDir removes stale per-scan entries under dir. Only entries with the
// scan_ prefix are considered; the parent directory itself survives.
func (s *Service) sweepDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Retention: cannot read artifact dir", "dir", dir, "error", err)
		}
		return
	}

	cutoff := time.Now().Add(-s.config.ArtifactMaxAge)
	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "scan_") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Retention: failed to remove scan artifacts", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Retention: removed stale scan artifacts", "dir", dir, "count", removed)
	}
}

func (s *Service) pruneNotifications(ctx context.Context) {
	if s.pruner == nil {
		return
	}
	count, err := s.pruner.PruneNotifications(ctx, s.config.NotificationMaxAge)
	if err != nil {
		slog.Error("Retention: notification cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned read notifications", "count", count)
	}
}
