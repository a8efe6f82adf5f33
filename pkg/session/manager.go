// Package session keeps the in-memory registry of active scans and routes
// transport commands to the right orchestrator.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/orchestrator"
	"github.com/easyinjection/scand/pkg/questions"
)

var (
	// ErrScanNotFound means the scan id is unknown or already released.
	ErrScanNotFound = errors.New("scan not found")
	// ErrForbidden means the caller does not own the scan.
	ErrForbidden = errors.New("scan belongs to another user")
	// ErrAlreadyStarted means Start was called twice for the same scan.
	ErrAlreadyStarted = errors.New("scan already started")
)

// Hook wires per-scan observers (transport broadcast, persistence) onto a
// freshly created scan's bus before any event is published.
type Hook func(scanID string, bus *events.Bus)

type entry struct {
	ownerID string
	orch    *orchestrator.Orchestrator
	bus     *events.Bus
	started bool
}

// Manager owns every active scan on this node. Scans are released from the
// registry when their orchestrator task returns.
type Manager struct {
	store questions.Store
	hooks []Hook

	mu    sync.RWMutex
	scans map[string]*entry
	wg    sync.WaitGroup
}

// NewManager creates an empty registry. hooks run once per created scan.
func NewManager(store questions.Store, hooks ...Hook) *Manager {
	return &Manager{store: store, hooks: hooks, scans: make(map[string]*entry)}
}

// Create validates the configuration and registers a new pending scan owned
// by ownerID. The scan does not run until Start.
func (m *Manager) Create(ownerID string, raw config.RawScanConfig) (string, error) {
	cfg, err := config.Validate(raw)
	if err != nil {
		return "", err
	}

	scanID := uuid.NewString()
	bus := events.NewBus()
	for _, hook := range m.hooks {
		hook(scanID, bus)
	}

	m.mu.Lock()
	m.scans[scanID] = &entry{
		ownerID: ownerID,
		orch:    orchestrator.New(scanID, cfg, bus, m.store),
		bus:     bus,
	}
	m.mu.Unlock()

	slog.Info("scan created", "scan_id", scanID, "user_id", ownerID, "url", cfg.URL)
	return scanID, nil
}

// Start launches the scan's orchestrator task. The entry is released when
// the task reaches a terminal state.
func (m *Manager) Start(scanID, ownerID string) error {
	m.mu.Lock()
	e, ok := m.scans[scanID]
	if !ok {
		m.mu.Unlock()
		return ErrScanNotFound
	}
	if e.ownerID != ownerID {
		m.mu.Unlock()
		return ErrForbidden
	}
	if e.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(scanID)
		if err := e.orch.Run(context.Background()); err != nil {
			slog.Error("scan failed", "scan_id", scanID, "error", err)
		}
	}()
	return nil
}

func (m *Manager) release(scanID string) {
	m.mu.Lock()
	delete(m.scans, scanID)
	m.mu.Unlock()
	slog.Info("scan released", "scan_id", scanID)
}

func (m *Manager) lookup(scanID, ownerID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.scans[scanID]
	if !ok {
		return nil, ErrScanNotFound
	}
	if e.ownerID != ownerID {
		return nil, ErrForbidden
	}
	return e, nil
}

// Owns reports whether ownerID owns an active scan with this id.
func (m *Manager) Owns(scanID, ownerID string) bool {
	_, err := m.lookup(scanID, ownerID)
	return err == nil
}

// Pause suspends the scan at its next suspension point.
func (m *Manager) Pause(scanID, ownerID string) error {
	e, err := m.lookup(scanID, ownerID)
	if err != nil {
		return err
	}
	e.orch.Pause()
	return nil
}

// Resume clears a pause.
func (m *Manager) Resume(scanID, ownerID string) error {
	e, err := m.lookup(scanID, ownerID)
	if err != nil {
		return err
	}
	e.orch.Resume()
	return nil
}

// Stop cancels the scan. The entry is released once the task unwinds.
func (m *Manager) Stop(scanID, ownerID string) error {
	e, err := m.lookup(scanID, ownerID)
	if err != nil {
		return err
	}
	e.orch.Stop()
	return nil
}

// Answer delivers a quiz answer to the scan's gate.
func (m *Manager) Answer(scanID, ownerID string, selected int) error {
	e, err := m.lookup(scanID, ownerID)
	if err != nil {
		return err
	}
	e.orch.Answer(selected)
	return nil
}

// Status returns a point-in-time snapshot of the scan.
func (m *Manager) Status(scanID, ownerID string) (models.ScanStatus, error) {
	e, err := m.lookup(scanID, ownerID)
	if err != nil {
		return models.ScanStatus{}, err
	}
	return e.orch.Status(), nil
}

// Active returns the number of registered scans.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scans)
}

// Shutdown stops every active scan and waits for their tasks to unwind,
// bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, e := range m.scans {
		e.orch.Stop()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
