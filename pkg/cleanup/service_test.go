package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePruner) PruneNotifications(_ context.Context, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 3, f.err
}

func makeScanDir(t *testing.T, parent, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log.csv"), []byte("data"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, stamp, stamp))
	return dir
}

func TestService_RemovesStaleScanArtifacts(t *testing.T) {
	parent := t.TempDir()
	stale := makeScanDir(t, parent, "scan_old", 48*time.Hour)
	fresh := makeScanDir(t, parent, "scan_new", time.Hour)
	unrelated := makeScanDir(t, parent, "keepme", 48*time.Hour)

	cfg := DefaultConfig(parent)
	svc := NewService(cfg, nil)
	svc.RunOnce(context.Background())

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, unrelated, "entries without the scan_ prefix are never touched")
	assert.DirExists(t, parent)
}

func TestService_MissingDirIsNotAnError(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	svc := NewService(cfg, nil)

	assert.NotPanics(t, func() {
		svc.RunOnce(context.Background())
	})
}

func TestService_PrunesNotifications(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewService(DefaultConfig(), pruner)
	svc.RunOnce(context.Background())

	pruner.mu.Lock()
	assert.Equal(t, 1, pruner.calls)
	pruner.mu.Unlock()
}

func TestService_PrunerErrorIsSwallowed(t *testing.T) {
	pruner := &fakePruner{err: errors.New("database unreachable")}
	svc := NewService(DefaultConfig(), pruner)

	assert.NotPanics(t, func() {
		svc.RunOnce(context.Background())
	})
}

func TestService_StartStop(t *testing.T) {
	parent := t.TempDir()
	stale := makeScanDir(t, parent, "scan_old", 48*time.Hour)

	cfg := DefaultConfig(parent)
	cfg.Interval = time.Hour
	svc := NewService(cfg, nil)

	svc.Start(context.Background())
	svc.Stop()

	// The initial sweep ran before Stop returned.
	assert.NoDirExists(t, stale)

	// Stop is idempotent.
	assert.NotPanics(t, svc.Stop)
}
