package orchestrator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/questions"
	"github.com/easyinjection/scand/pkg/spawn"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *events.Bus) {
	t.Helper()
	cfg, err := config.Validate(config.RawScanConfig{
		URL:            "http://victim.example/shop?cat=1",
		SQLi:           true,
		XSS:            true,
		CrawlDepth:     2,
		Level:          1,
		Risk:           1,
		Threads:        1,
		TimeoutSeconds: 5,
		XSSWorkers:     1,
		TempDir:        t.TempDir(),
		OutputDir:      t.TempDir(),
	})
	require.NoError(t, err)

	bus := events.NewBus()
	return New("scan-1", cfg, bus, questions.NewMemoryStore()), bus
}

func TestVulnerabilityDeduplication(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	var published int
	bus.Subscribe(events.EventVulnerabilityFound, func(events.Event) { published++ })

	sqli := models.Vulnerability{
		Type: models.VulnSQLi, Severity: models.SeverityCritical,
		Endpoint: "http://victim.example/a?x=1", Parameter: "id", Description: "'...",
	}
	xss := models.Vulnerability{
		Type: models.VulnXSS, Severity: models.SeverityHigh,
		Endpoint: "http://victim.example/b", Parameter: "q", Description: "<s>",
	}

	o.addVulnerability(sqli)
	o.addVulnerability(sqli)
	o.addVulnerability(xss)

	assert.Len(t, o.Vulnerabilities(), 2)
	assert.Equal(t, 2, published)
	assert.Equal(t, 2, o.Status().Stats.VulnerabilitiesFound)

	t.Run("same endpoint and parameter under a different type is kept", func(t *testing.T) {
		other := sqli
		other.Type = models.VulnXSS
		o.addVulnerability(other)
		assert.Len(t, o.Vulnerabilities(), 3)
	})
}

func TestPhaseEventPairing(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	started := map[string]int{}
	completed := map[string]int{}
	bus.Subscribe(events.EventPhaseStarted, func(e events.Event) {
		started[e.Payload.(events.PhasePayload).Phase]++
	})
	bus.Subscribe(events.EventPhaseCompleted, func(e events.Event) {
		completed[e.Payload.(events.PhasePayload).Phase]++
	})

	ctx := context.Background()
	require.NoError(t, o.runPhase(ctx, models.PhaseInit, func(context.Context) error { return nil }))
	require.NoError(t, o.runPhase(ctx, models.PhaseDiscovery, func(context.Context) error { return nil }))

	boom := errors.New("boom")
	require.ErrorIs(t, o.runPhase(ctx, models.PhaseSQLi, func(context.Context) error { return boom }), boom)

	assert.Equal(t, map[string]int{models.PhaseInit: 1, models.PhaseDiscovery: 1, models.PhaseSQLi: 1}, started)
	// A failed phase never emits phase:completed.
	assert.Equal(t, map[string]int{models.PhaseInit: 1, models.PhaseDiscovery: 1}, completed)

	status := o.Status()
	for _, phase := range status.Phases {
		switch phase.Name {
		case models.PhaseInit, models.PhaseDiscovery:
			assert.Equal(t, models.PhaseCompleted, phase.Status)
		case models.PhaseSQLi:
			assert.Equal(t, models.PhaseErrored, phase.Status)
		default:
			assert.Equal(t, models.PhasePending, phase.Status)
		}
	}
}

func TestSubPhaseEventPairing(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	var order []string
	for _, evt := range []string{events.EventSubPhaseStarted, events.EventSubPhaseCompleted} {
		evt := evt
		bus.Subscribe(evt, func(e events.Event) {
			p := e.Payload.(events.SubPhasePayload)
			order = append(order, evt+":"+p.SubPhase)
		})
	}

	require.NoError(t, o.runSubPhase(context.Background(), models.PhaseSQLi, models.SubPhaseDetection,
		func(context.Context) error { return nil }))

	assert.Equal(t, []string{
		events.EventSubPhaseStarted + ":" + models.SubPhaseDetection,
		events.EventSubPhaseCompleted + ":" + models.SubPhaseDetection,
	}, order)
}

func TestStopEmptiesProcessRegistry(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	o.procs.Track(spawn.NewHandle("sleeper", cmd))
	require.Equal(t, 1, o.ProcessCount())

	var stopEvents int
	bus.Subscribe(events.EventScanStopped, func(events.Event) { stopEvents++ })

	o.Stop()
	assert.Equal(t, 0, o.ProcessCount())
	assert.Equal(t, models.ScanStopped, o.State())

	t.Run("stop is idempotent", func(t *testing.T) {
		o.Stop()
		assert.Equal(t, 1, stopEvents)
	})

	t.Run("pause and resume are no-ops after stop", func(t *testing.T) {
		o.Pause()
		assert.False(t, o.Status().IsPaused)
		o.Resume()
		assert.Equal(t, 1, stopEvents)
	})
}

// writeFakeTool writes a shell script that appends one line to marker per
// invocation and then idles, standing in for a slow sqlmap/dalfox run.
func writeFakeTool(t *testing.T, marker string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "fake_tool.sh")
	content := "#!/bin/sh\necho run >> " + marker + "\nsleep 0.5\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func spawnCount(marker string) int {
	data, err := os.ReadFile(marker)
	if err != nil {
		return 0
	}
	return len(strings.Fields(string(data)))
}

func TestDetectionLoopHoldsOnPause(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	o, _ := newTestOrchestrator(t)
	marker := filepath.Join(t.TempDir(), "spawns")
	o.cfg.SQLMapPath = writeFakeTool(t, marker)

	for _, u := range []string{"http://victim.example/a?id=1", "http://victim.example/b?id=1"} {
		o.addEndpoint(&models.Endpoint{URL: u, Method: models.MethodGet, Parameters: map[string]bool{"id": true}})
	}

	done := make(chan error, 1)
	go func() { done <- o.sqliDetection(context.Background()) }()

	require.Eventually(t, func() bool { return spawnCount(marker) == 1 },
		2*time.Second, 10*time.Millisecond)
	o.Pause()

	// The first tool run finishes well inside this window; the loop must
	// hold before testing the second endpoint.
	time.Sleep(900 * time.Millisecond)
	assert.Equal(t, 1, spawnCount(marker))
	select {
	case <-done:
		t.Fatal("detection returned while paused")
	default:
	}

	o.Resume()
	require.Eventually(t, func() bool { return spawnCount(marker) == 2 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, <-done)
}

func TestFuzzingLoopHoldsOnPause(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	o, _ := newTestOrchestrator(t)
	marker := filepath.Join(t.TempDir(), "spawns")
	o.cfg.DalfoxPath = writeFakeTool(t, marker)

	o.addParameter(&models.Parameter{Endpoint: "http://victim.example/a", Method: models.MethodGet, Name: "x", Location: models.LocationQuery, Testable: true})
	o.addParameter(&models.Parameter{Endpoint: "http://victim.example/b", Method: models.MethodGet, Name: "y", Location: models.LocationQuery, Testable: true})

	done := make(chan error, 1)
	go func() { done <- o.xssFuzzing(context.Background()) }()

	require.Eventually(t, func() bool { return spawnCount(marker) == 1 },
		2*time.Second, 10*time.Millisecond)
	o.Pause()

	time.Sleep(900 * time.Millisecond)
	assert.Equal(t, 1, spawnCount(marker))
	select {
	case <-done:
		t.Fatal("fuzzing returned while paused")
	default:
	}

	o.Resume()
	require.Eventually(t, func() bool { return spawnCount(marker) == 2 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, <-done)
}

func TestEndpointAndParameterDiscovery(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	var endpointEvents, paramEvents int
	bus.Subscribe(events.EventEndpointDiscovered, func(events.Event) { endpointEvents++ })
	bus.Subscribe(events.EventParameterDiscovered, func(events.Event) { paramEvents++ })

	ep := &models.Endpoint{
		URL: "http://victim.example/p", Method: models.MethodGet,
		Parameters: map[string]bool{"id": true},
	}
	o.addEndpoint(ep)

	again := &models.Endpoint{
		URL: "http://victim.example/p", Method: models.MethodGet,
		Parameters: map[string]bool{"cat": true},
	}
	o.addEndpoint(again)

	assert.Equal(t, 1, endpointEvents)
	require.Len(t, o.Status().DiscoveredEndpoints, 1)
	assert.Equal(t, map[string]bool{"id": true, "cat": true}, o.Status().DiscoveredEndpoints[0].Parameters)

	p := &models.Parameter{Endpoint: "http://victim.example/p", Method: models.MethodGet, Name: "id", Location: models.LocationQuery, Testable: true}
	o.addParameter(p)
	o.addParameter(p)
	assert.Equal(t, 1, paramEvents)
	assert.Equal(t, 1, o.Status().Stats.ParametersFound)
}

func TestTechniqueSubPhase(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.addVulnerability(models.Vulnerability{
		Type: models.VulnSQLi, Endpoint: "http://victim.example/a", Parameter: "id",
		Description: "parameter 'id' is vulnerable to time-based blind",
	})
	o.addVulnerability(models.Vulnerability{
		Type: models.VulnSQLi, Endpoint: "http://victim.example/a", Parameter: "cat",
		Description: "boolean-based blind injection point found",
	})
	o.addVulnerability(models.Vulnerability{
		Type: models.VulnXSS, Endpoint: "http://victim.example/b", Parameter: "q",
		Description: "union should not count, wrong type",
	})

	require.NoError(t, o.sqliTechnique(context.Background()))

	var techLine string
	for _, entry := range o.log.All() {
		if entry.Level == models.LevelInfo && len(entry.Message) > 0 {
			techLine = entry.Message
		}
	}
	assert.Contains(t, techLine, "time-based blind")
	assert.Contains(t, techLine, "boolean-based blind")
	assert.NotContains(t, techLine, "UNION")
}

func TestFirstVulnerableParam(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	t.Run("nil without findings", func(t *testing.T) {
		assert.Nil(t, o.firstVulnerableParam())
	})

	t.Run("wildcard findings cannot drive a tool run", func(t *testing.T) {
		o.addVulnerability(models.Vulnerability{
			Type: models.VulnSQLi, Endpoint: "http://victim.example/a", Parameter: "*",
		})
		assert.Nil(t, o.firstVulnerableParam())
	})

	t.Run("maps back to the discovered parameter", func(t *testing.T) {
		discovered := &models.Parameter{
			Endpoint: "http://victim.example/a", Method: models.MethodPost,
			Name: "id", Location: models.LocationBody, Testable: true,
		}
		o.addParameter(discovered)
		o.addVulnerability(models.Vulnerability{
			Type: models.VulnSQLi, Endpoint: "http://victim.example/a", Parameter: "id",
		})
		assert.Same(t, discovered, o.firstVulnerableParam())
	})
}

func TestFuzzTargets(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.addParameter(&models.Parameter{Endpoint: "http://victim.example/a", Method: models.MethodGet, Name: "x", Location: models.LocationQuery, Testable: true})
	o.addParameter(&models.Parameter{Endpoint: "http://victim.example/a", Method: models.MethodGet, Name: "y", Location: models.LocationQuery, Testable: true})
	o.addParameter(&models.Parameter{Endpoint: "http://victim.example/b", Method: models.MethodGet, Name: "z", Location: models.LocationQuery, Testable: false})
	o.addParameter(&models.Parameter{Endpoint: "http://victim.example/c", Method: models.MethodPost, Name: "u", Location: models.LocationBody, Testable: true})

	assert.Equal(t, []string{"http://victim.example/a", "http://victim.example/c"}, o.fuzzTargets())
}

func TestSyntheticDiscoveryFallback(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	result := o.syntheticCrawlResult()
	require.Len(t, result.Endpoints, 1)
	assert.Equal(t, "http://victim.example/shop?cat=1", result.Endpoints[0].URL)
	assert.Equal(t, models.MethodGet, result.Endpoints[0].Method)
	require.Len(t, result.Parameters, 1)
	assert.Equal(t, "cat", result.Parameters[0].Name)
	assert.True(t, result.Parameters[0].Testable)
}

func TestReportPhase(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	o.mu.Lock()
	o.questions = quizResults(2, 10, 10)
	o.mu.Unlock()
	o.addVulnerability(models.Vulnerability{Type: models.VulnSQLi, Endpoint: "e", Parameter: "p"})

	var score models.Score
	bus.Subscribe(events.EventScanCompleted, func(e events.Event) {
		score = e.Payload.(events.ScanCompletedPayload).Score
	})

	require.NoError(t, o.runReport(context.Background()))
	assert.Equal(t, models.ScanFinished, o.State())
	assert.Equal(t, 20, score.QuizPoints)
	assert.Equal(t, 1, score.VulnCount)
	assert.Equal(t, 95, score.Final)
	assert.Equal(t, models.GradeExcellent, score.Grade)
}

func TestStatusSnapshot(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.setPhaseStatus(models.PhaseDiscovery, models.PhaseRunning)
	o.log.Log("hola", models.LevelInfo)

	status := o.Status()
	assert.Equal(t, "scan-1", status.ScanID)
	assert.Equal(t, models.PhaseDiscovery, status.CurrentPhase)
	assert.False(t, status.IsPaused)
	require.NotEmpty(t, status.Logs)
	assert.Equal(t, "hola", status.Logs[len(status.Logs)-1].Message)

	o.Pause()
	assert.True(t, o.Status().IsPaused)
	o.Resume()
	assert.False(t, o.Status().IsPaused)
}
