// Package gate implements the pause/resume primitive and the question
// protocol that blocks phase progress until the user answers a theory
// question correctly.
package gate

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/questions"
)

// Gate mediates all cross-boundary signalling into a scan: user
// pause/resume/stop and question answers. The orchestrator task calls
// WaitIfPaused and Ask; the transport calls Answer, Pause, Resume and Stop.
type Gate struct {
	scanID string
	bus    *events.Bus
	store  questions.Store
	rng    *rand.Rand

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{} // non-nil while paused; closed exactly once on resume
	pending  chan int      // non-nil while a question awaits its answer
}

// New creates a gate for one scan.
func New(scanID string, bus *events.Bus, store questions.Store) *Gate {
	return &Gate{
		scanID: scanID,
		bus:    bus,
		store:  store,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// IsPaused reports whether the gate currently blocks progress.
func (g *Gate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// WaitIfPaused is the cooperative suspension point honored before every
// spawn and before every question. It returns immediately when not paused,
// otherwise blocks until Resume, Stop or context cancellation.
func (g *Gate) WaitIfPaused(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resumeCh
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Pause blocks progress at the next suspension point. Idempotent.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pause()
}

func (g *Gate) pause() {
	if g.paused {
		return
	}
	g.paused = true
	g.resumeCh = make(chan struct{})
}

// Resume clears the pause and wakes the pending waiter exactly once.
// Idempotent. A pending question is not satisfied by Resume; it still
// requires a correct answer.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resume()
}

func (g *Gate) resume() {
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resumeCh)
	g.resumeCh = nil
}

// Stop wakes any waiter and discards a pending question. The orchestrator's
// context cancellation makes Ask return; Stop only ensures nothing keeps
// blocking.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resume()
	g.pending = nil
}

// Answer delivers a user answer to the pending question. No-op when no
// question is pending. An answer arriving before the previous one was
// consumed is dropped entirely: question:answered and question:result are
// only emitted for answers the question loop actually takes, always as a
// pair.
func (g *Gate) Answer(selected int) {
	g.mu.Lock()
	pending := g.pending
	g.mu.Unlock()
	if pending == nil {
		return
	}

	select {
	case pending <- selected:
	default:
	}
}

// Ask selects a question for the phase tag, pauses the gate, emits
// question:asked, and blocks until an answer matches the correct index.
// Every delivered answer produces a question:result event. The returned
// result reflects the first attempt (points are earned only when the first
// answer was correct). Returns (nil, nil) when the tag has no questions —
// the caller continues without gating.
func (g *Gate) Ask(ctx context.Context, phaseTag string) (*models.QuestionResult, error) {
	prompt, err := questions.Select(ctx, g.store, phaseTag, g.rng)
	if err != nil {
		return nil, err
	}
	if prompt == nil {
		return nil, nil
	}
	return g.AskPrompt(ctx, prompt)
}

// AskPrompt runs the question protocol for an already-selected prompt.
func (g *Gate) AskPrompt(ctx context.Context, prompt *models.QuestionPrompt) (*models.QuestionResult, error) {
	answers := make(chan int, 1)

	g.mu.Lock()
	g.pause()
	g.pending = answers
	g.mu.Unlock()

	g.bus.Publish(events.Event{
		Type:    events.EventQuestionAsked,
		ScanID:  g.scanID,
		Payload: events.QuestionAskedPayload{Prompt: *prompt},
	})

	result := models.QuestionResult{QuestionPrompt: *prompt}
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.pending = nil
			g.mu.Unlock()
			return nil, ctx.Err()

		case selected := <-answers:
			attempts++
			g.bus.Publish(events.Event{
				Type:    events.EventQuestionAnswered,
				ScanID:  g.scanID,
				Payload: events.AnswerPayload{SelectedAnswer: selected},
			})
			correct := selected == prompt.CorrectIndex
			earned := 0
			if correct && attempts == 1 {
				earned = prompt.Points
			}
			if attempts == 1 {
				result.UserAnswer = selected
				result.Correct = correct
				result.PointsEarned = earned
			}

			g.bus.Publish(events.Event{
				Type:   events.EventQuestionResult,
				ScanID: g.scanID,
				Payload: events.QuestionResultPayload{
					QuestionID:     prompt.QuestionID,
					SelectedAnswer: selected,
					Correct:        correct,
					PointsEarned:   earned,
				},
			})

			if !correct {
				continue
			}

			g.mu.Lock()
			g.pending = nil
			g.resume()
			g.mu.Unlock()
			return &result, nil
		}
	}
}
