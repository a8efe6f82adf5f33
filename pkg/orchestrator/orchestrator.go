// Package orchestrator implements the scan state machine: a single
// cooperative task per scan that drives Init → Discovery → SQLi → XSS →
// Report, gated by theory questions and observable through the event bus.
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/executor"
	"github.com/easyinjection/scand/pkg/gate"
	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/questions"
	"github.com/easyinjection/scand/pkg/scanlog"
	"github.com/easyinjection/scand/pkg/spawn"
)

// processWaitCap bounds the drain of leftover child processes before the
// report phase. Stragglers are logged and left for the OS to reap.
const processWaitCap = 60 * time.Second

// statusLogTail is how many log entries a status snapshot carries.
const statusLogTail = 50

// Orchestrator owns all mutable state of one scan. Phase progress is
// strictly sequential on the task started by Run; the mutex only protects
// snapshot reads from the transport goroutines.
type Orchestrator struct {
	scanID string
	cfg    *config.ScanConfig
	bus    *events.Bus
	log    *scanlog.Logger
	gate   *gate.Gate
	procs  *executor.Registry
	sqlmap *executor.SQLMap
	dalfox *executor.Dalfox

	cancel   context.CancelFunc
	stopOnce sync.Once

	mu           sync.RWMutex
	state        models.ScanState
	stopped      bool
	currentPhase string
	phases       []models.PhaseInfo
	endpoints    []*models.Endpoint
	endpointIdx  map[string]*models.Endpoint
	parameters   []*models.Parameter
	paramIdx     map[string]bool
	vulns        []models.Vulnerability
	vulnIdx      map[string]bool
	questions    []models.QuestionResult
	stats        models.ScanStats
}

// New wires an orchestrator for one scan. The bus is shared with the
// transport; everything else is private to the scan.
func New(scanID string, cfg *config.ScanConfig, bus *events.Bus, store questions.Store) *Orchestrator {
	log := scanlog.New(scanID, bus)
	procs := executor.NewRegistry()

	o := &Orchestrator{
		scanID:      scanID,
		cfg:         cfg,
		bus:         bus,
		log:         log,
		gate:        gate.New(scanID, bus, store),
		procs:       procs,
		sqlmap:      executor.NewSQLMap(cfg, scanID, bus, log, procs),
		dalfox:      executor.NewDalfox(cfg, scanID, log, procs),
		state:       models.ScanPending,
		endpointIdx: map[string]*models.Endpoint{},
		paramIdx:    map[string]bool{},
		vulnIdx:     map[string]bool{},
	}

	o.phases = []models.PhaseInfo{
		{Name: models.PhaseInit, Status: models.PhasePending},
		{Name: models.PhaseDiscovery, Status: models.PhasePending},
	}
	if cfg.SQLi {
		o.phases = append(o.phases, models.PhaseInfo{
			Name:   models.PhaseSQLi,
			Status: models.PhasePending,
			SubPhases: []models.SubPhaseInfo{
				{Name: models.SubPhaseDetection, Status: models.PhasePending},
				{Name: models.SubPhaseFingerprint, Status: models.PhasePending},
				{Name: models.SubPhaseTechnique, Status: models.PhasePending},
				{Name: models.SubPhaseExploit, Status: models.PhasePending},
			},
		})
	}
	if cfg.XSS {
		o.phases = append(o.phases, models.PhaseInfo{
			Name:   models.PhaseXSS,
			Status: models.PhasePending,
			SubPhases: []models.SubPhaseInfo{
				{Name: models.SubPhaseContext, Status: models.PhasePending},
				{Name: models.SubPhasePayload, Status: models.PhasePending},
				{Name: models.SubPhaseFuzzing, Status: models.PhasePending},
			},
		})
	}
	o.phases = append(o.phases, models.PhaseInfo{Name: models.PhaseReport, Status: models.PhasePending})
	return o
}

// ScanID returns the scan identifier.
func (o *Orchestrator) ScanID() string {
	return o.scanID
}

// Run drives the scan to a terminal state. It blocks for the scan's
// lifetime; callers run it on its own goroutine. A stopped scan returns nil
// without emitting scan:completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.state = models.ScanRunning
	o.mu.Unlock()
	defer cancel()

	o.bus.Publish(events.Event{Type: events.EventScanStarted, ScanID: o.scanID})
	o.log.Log("escaneo iniciado: "+o.cfg.URL, models.LevelInfo)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{models.PhaseInit, o.runInit},
		{models.PhaseDiscovery, o.runDiscovery},
	}
	if o.cfg.SQLi {
		steps = append(steps, struct {
			name string
			fn   func(context.Context) error
		}{models.PhaseSQLi, o.runSQLi})
	}
	if o.cfg.XSS {
		steps = append(steps, struct {
			name string
			fn   func(context.Context) error
		}{models.PhaseXSS, o.runXSS})
	}

	for _, step := range steps {
		if o.isStopped() {
			return nil
		}
		if err := o.runPhase(ctx, step.name, step.fn); err != nil {
			return o.fail(step.name, err)
		}
	}

	if o.isStopped() {
		return nil
	}
	o.waitForAllProcesses()

	if o.isStopped() {
		return nil
	}
	if err := o.runPhase(ctx, models.PhaseReport, o.runReport); err != nil {
		return o.fail(models.PhaseReport, err)
	}
	return nil
}

// fail handles an error escaping a phase: nothing when the scan was stopped,
// otherwise kill everything and surface scan:error.
func (o *Orchestrator) fail(phase string, err error) error {
	if o.isStopped() {
		return nil
	}

	o.procs.KillAll(spawn.KillGrace)
	o.mu.Lock()
	o.state = models.ScanErrored
	o.mu.Unlock()

	o.log.Log(fmt.Sprintf("error en fase %s: %v", phase, err), models.LevelError)
	o.bus.Publish(events.Event{
		Type:    events.EventScanError,
		ScanID:  o.scanID,
		Payload: events.ScanErrorPayload{Message: err.Error()},
	})
	return err
}

// Pause suspends progress at the next suspension point. No-op once stopped.
func (o *Orchestrator) Pause() {
	if o.isStopped() {
		return
	}
	o.gate.Pause()
	o.log.Log("escaneo pausado", models.LevelInfo)
	o.bus.Publish(events.Event{Type: events.EventScanPaused, ScanID: o.scanID})
}

// Resume clears a pause. No-op once stopped.
func (o *Orchestrator) Resume() {
	if o.isStopped() {
		return
	}
	o.gate.Resume()
	o.log.Log("escaneo reanudado", models.LevelInfo)
	o.bus.Publish(events.Event{Type: events.EventScanResumed, ScanID: o.scanID})
}

// Stop cancels the scan: wakes every waiter, kills all tracked processes
// and empties the registry. Idempotent.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopped = true
		o.state = models.ScanStopped
		cancel := o.cancel
		o.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		o.gate.Stop()
		o.procs.KillAll(spawn.KillGrace)

		o.log.Log("escaneo detenido por el usuario", models.LevelWarning)
		o.bus.Publish(events.Event{Type: events.EventScanStopped, ScanID: o.scanID})
	})
}

// Answer forwards a quiz answer to the gate.
func (o *Orchestrator) Answer(selected int) {
	o.gate.Answer(selected)
}

// State returns the lifecycle state.
func (o *Orchestrator) State() models.ScanState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status returns a point-in-time snapshot. The slices reference live
// buffers; callers must not mutate them.
func (o *Orchestrator) Status() models.ScanStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return models.ScanStatus{
		ScanID:              o.scanID,
		CurrentPhase:        o.currentPhase,
		IsPaused:            o.gate.IsPaused(),
		Phases:              o.phases,
		DiscoveredEndpoints: o.endpoints,
		Vulnerabilities:     o.vulns,
		QuestionResults:     o.questions,
		Stats:               o.stats,
		Logs:                o.log.Recent(statusLogTail),
	}
}

// QuestionResults returns the recorded quiz results.
func (o *Orchestrator) QuestionResults() []models.QuestionResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.questions
}

// Vulnerabilities returns the recorded findings.
func (o *Orchestrator) Vulnerabilities() []models.Vulnerability {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.vulns
}

// ProcessCount exposes the live process count, for tests and diagnostics.
func (o *Orchestrator) ProcessCount() int {
	return o.procs.Len()
}

func (o *Orchestrator) isStopped() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopped
}

// runPhase brackets a phase function with status tracking and the
// phase:started / phase:completed event pair.
func (o *Orchestrator) runPhase(ctx context.Context, name string, fn func(context.Context) error) error {
	o.setPhaseStatus(name, models.PhaseRunning)
	o.log.SetPhase(name)
	o.bus.Publish(events.Event{
		Type:    events.EventPhaseStarted,
		ScanID:  o.scanID,
		Payload: events.PhasePayload{Phase: name},
	})

	if err := fn(ctx); err != nil {
		o.setPhaseStatus(name, models.PhaseErrored)
		return err
	}

	o.setPhaseStatus(name, models.PhaseCompleted)
	o.bus.Publish(events.Event{
		Type:    events.EventPhaseCompleted,
		ScanID:  o.scanID,
		Payload: events.PhasePayload{Phase: name},
	})
	return nil
}

// runSubPhase brackets one sub-phase the same way.
func (o *Orchestrator) runSubPhase(ctx context.Context, phase, sub string, fn func(context.Context) error) error {
	o.setSubPhaseStatus(phase, sub, models.PhaseRunning)
	o.bus.Publish(events.Event{
		Type:    events.EventSubPhaseStarted,
		ScanID:  o.scanID,
		Payload: events.SubPhasePayload{Phase: phase, SubPhase: sub},
	})

	if err := fn(ctx); err != nil {
		o.setSubPhaseStatus(phase, sub, models.PhaseErrored)
		return err
	}

	o.setSubPhaseStatus(phase, sub, models.PhaseCompleted)
	o.bus.Publish(events.Event{
		Type:    events.EventSubPhaseCompleted,
		ScanID:  o.scanID,
		Payload: events.SubPhasePayload{Phase: phase, SubPhase: sub},
	})
	return nil
}

func (o *Orchestrator) setPhaseStatus(name string, status models.PhaseStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if status == models.PhaseRunning {
		o.currentPhase = name
	}
	for i := range o.phases {
		if o.phases[i].Name == name {
			o.phases[i].Status = status
			return
		}
	}
}

func (o *Orchestrator) setSubPhaseStatus(phase, sub string, status models.PhaseStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.phases {
		if o.phases[i].Name != phase {
			continue
		}
		for j := range o.phases[i].SubPhases {
			if o.phases[i].SubPhases[j].Name == sub {
				o.phases[i].SubPhases[j].Status = status
				return
			}
		}
	}
}

// askGate runs the question protocol for a phase tag and records the result.
func (o *Orchestrator) askGate(ctx context.Context, tag string) error {
	result, err := o.gate.Ask(ctx, tag)
	if err != nil {
		return err
	}
	if result != nil {
		o.mu.Lock()
		o.questions = append(o.questions, *result)
		o.mu.Unlock()
	}
	return nil
}

// addEndpoint records a discovered endpoint, union-merging parameters into
// an already-known one. New endpoints emit endpoint:discovered.
func (o *Orchestrator) addEndpoint(ep *models.Endpoint) {
	o.mu.Lock()
	existing, known := o.endpointIdx[ep.Key()]
	if known {
		for name := range ep.Parameters {
			existing.Parameters[name] = true
		}
		o.mu.Unlock()
		return
	}
	o.endpointIdx[ep.Key()] = ep
	o.endpoints = append(o.endpoints, ep)
	o.stats.EndpointsDiscovered++
	o.mu.Unlock()

	o.bus.Publish(events.Event{
		Type:   events.EventEndpointDiscovered,
		ScanID: o.scanID,
		Payload: events.EndpointPayload{
			URL:        ep.URL,
			Method:     ep.Method,
			Parameters: ep.ParameterNames(),
		},
	})
}

// addParameter records a discovered parameter; duplicates are dropped.
func (o *Orchestrator) addParameter(p *models.Parameter) {
	o.mu.Lock()
	if o.paramIdx[p.Key()] {
		o.mu.Unlock()
		return
	}
	o.paramIdx[p.Key()] = true
	o.parameters = append(o.parameters, p)
	o.stats.ParametersFound++
	o.mu.Unlock()

	o.bus.Publish(events.Event{
		Type:   events.EventParameterDiscovered,
		ScanID: o.scanID,
		Payload: events.ParameterPayload{
			Endpoint: p.Endpoint,
			Name:     p.Name,
			Location: p.Location,
		},
	})
}

// addVulnerability records a finding unless its (type, endpoint, parameter)
// key was already seen, then emits vulnerability:found.
func (o *Orchestrator) addVulnerability(v models.Vulnerability) {
	o.mu.Lock()
	if o.vulnIdx[v.Key()] {
		o.mu.Unlock()
		return
	}
	o.vulnIdx[v.Key()] = true
	o.vulns = append(o.vulns, v)
	o.stats.VulnerabilitiesFound++
	o.mu.Unlock()

	o.bus.Publish(events.Event{
		Type:    events.EventVulnerabilityFound,
		ScanID:  o.scanID,
		Payload: events.VulnerabilityPayload{Vulnerability: v},
	})
}

func (o *Orchestrator) countRequest() {
	o.mu.Lock()
	o.stats.TotalRequests++
	o.mu.Unlock()
}

// waitForAllProcesses drains leftover children before reporting, bounded by
// processWaitCap.
func (o *Orchestrator) waitForAllProcesses() {
	if o.procs.Len() == 0 {
		return
	}
	o.log.Log(fmt.Sprintf("esperando a %d procesos activos", o.procs.Len()), models.LevelInfo)
	for _, name := range o.procs.WaitAll(processWaitCap) {
		o.log.Log("proceso sin finalizar tras la espera: "+name, models.LevelWarning)
	}
}

// runInit checks tool availability and prepares the per-scan output
// directory. Unavailable tools degrade the scan, they do not abort it.
func (o *Orchestrator) runInit(ctx context.Context) error {
	if o.cfg.SQLi {
		o.sqlmap.CheckAvailability(ctx)
	}
	if o.cfg.XSS {
		o.dalfox.CheckAvailability(ctx)
	}
	o.log.Log(fmt.Sprintf("configuración: sqli=%t xss=%t profundidad=%d nivel=%d riesgo=%d",
		o.cfg.SQLi, o.cfg.XSS, o.cfg.CrawlDepth, o.cfg.Level, o.cfg.Risk), models.LevelInfo)
	return nil
}

// runReport computes the score and closes the scan.
func (o *Orchestrator) runReport(context.Context) error {
	o.mu.Lock()
	score := ComputeScore(o.questions, len(o.vulns))
	o.state = models.ScanFinished
	o.mu.Unlock()

	o.log.Log(fmt.Sprintf("escaneo finalizado: %d vulnerabilidades, puntuación %d (%s)",
		score.VulnCount, score.Final, score.Grade), models.LevelSuccess)
	o.bus.Publish(events.Event{
		Type:    events.EventScanCompleted,
		ScanID:  o.scanID,
		Payload: events.ScanCompletedPayload{Score: score},
	})
	return nil
}

// baseEndpoint synthesizes a single endpoint from the configured URL, used
// when discovery produced nothing.
func (o *Orchestrator) baseEndpoint() *models.Endpoint {
	ep := &models.Endpoint{
		URL:        o.cfg.URL,
		Method:     models.MethodGet,
		Parameters: map[string]bool{},
	}
	if parsed, err := url.Parse(o.cfg.URL); err == nil {
		for name := range parsed.Query() {
			ep.Parameters[name] = true
		}
	}
	return ep
}
