package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/models"
)

// persistTimeout bounds each database call made from a bus handler. Handlers
// run on the orchestrator's goroutine, so a hung database must not stall the
// scan indefinitely.
const persistTimeout = 10 * time.Second

// ScanSink receives the persistence calls the recorder makes. Implemented by
// ResultService.
type ScanSink interface {
	MarkRunning(ctx context.Context, scanID string) error
	MarkState(ctx context.Context, scanID string, state models.ScanState) error
	SaveResults(ctx context.Context, scanID string, vulns []models.Vulnerability, answers []models.QuestionResult, score models.Score) error
}

// Recorder translates a scan's bus events into persistence calls. One
// recorder serves all scans; per-scan accumulation state lives in the
// closure installed by BindScan.
type Recorder struct {
	sink ScanSink
	log  *slog.Logger
}

// NewRecorder creates a recorder over a sink. logger may be nil.
func NewRecorder(sink ScanSink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, log: logger}
}

// BindScan subscribes the recorder to one scan's bus. Installed as a session
// hook. Handlers run on the orchestrator goroutine, so the accumulator needs
// no locking.
func (r *Recorder) BindScan(scanID string, bus *events.Bus) {
	acc := &scanAccumulator{
		prompts: make(map[string]models.QuestionPrompt),
		results: make(map[string]bool),
	}
	log := r.log.With("scan_id", scanID)

	bus.Subscribe(events.EventScanStarted, func(events.Event) {
		r.persist(log, "mark running", func(ctx context.Context) error {
			return r.sink.MarkRunning(ctx, scanID)
		})
	})

	bus.Subscribe(events.EventVulnerabilityFound, func(evt events.Event) {
		if p, ok := evt.Payload.(events.VulnerabilityPayload); ok {
			acc.vulns = append(acc.vulns, p.Vulnerability)
		}
	})

	bus.Subscribe(events.EventQuestionAsked, func(evt events.Event) {
		if p, ok := evt.Payload.(events.QuestionAskedPayload); ok {
			acc.prompts[p.Prompt.QuestionID] = p.Prompt
		}
	})

	// Only the first result per question counts; retries after a wrong
	// answer never earn points.
	bus.Subscribe(events.EventQuestionResult, func(evt events.Event) {
		p, ok := evt.Payload.(events.QuestionResultPayload)
		if !ok || acc.results[p.QuestionID] {
			return
		}
		prompt, known := acc.prompts[p.QuestionID]
		if !known {
			return
		}
		acc.results[p.QuestionID] = true
		acc.answers = append(acc.answers, models.QuestionResult{
			QuestionPrompt: prompt,
			UserAnswer:     p.SelectedAnswer,
			Correct:        p.Correct,
			PointsEarned:   p.PointsEarned,
		})
	})

	bus.Subscribe(events.EventScanCompleted, func(evt events.Event) {
		p, ok := evt.Payload.(events.ScanCompletedPayload)
		if !ok {
			return
		}
		r.persist(log, "save results", func(ctx context.Context) error {
			return r.sink.SaveResults(ctx, scanID, acc.vulns, acc.answers, p.Score)
		})
	})

	bus.Subscribe(events.EventScanError, func(events.Event) {
		r.persist(log, "mark errored", func(ctx context.Context) error {
			return r.sink.MarkState(ctx, scanID, models.ScanErrored)
		})
	})

	bus.Subscribe(events.EventScanStopped, func(events.Event) {
		r.persist(log, "mark stopped", func(ctx context.Context) error {
			return r.sink.MarkState(ctx, scanID, models.ScanStopped)
		})
	})
}

type scanAccumulator struct {
	vulns   []models.Vulnerability
	answers []models.QuestionResult
	prompts map[string]models.QuestionPrompt
	results map[string]bool
}

func (r *Recorder) persist(log *slog.Logger, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error("persistence failed", "op", op, "error", err)
	}
}
