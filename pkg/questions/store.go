// Package questions provides the read-only quiz content store the gate
// draws from, plus prompt selection and option shuffling.
package questions

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/easyinjection/scand/pkg/models"
)

// Store returns the prompt pool for a phase tag.
type Store interface {
	ByPhase(ctx context.Context, tag string) ([]models.QuestionPrompt, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	byPhase map[string][]models.QuestionPrompt
}

// NewMemoryStore builds a store from a flat prompt list.
func NewMemoryStore(prompts ...models.QuestionPrompt) *MemoryStore {
	s := &MemoryStore{byPhase: make(map[string][]models.QuestionPrompt)}
	for _, p := range prompts {
		s.byPhase[p.PhaseTag] = append(s.byPhase[p.PhaseTag], p)
	}
	return s
}

// ByPhase implements Store.
func (s *MemoryStore) ByPhase(_ context.Context, tag string) ([]models.QuestionPrompt, error) {
	return s.byPhase[tag], nil
}

// All returns every prompt across all phase tags. Used to seed a
// database-backed store from the builtin bank.
func (s *MemoryStore) All() []models.QuestionPrompt {
	var prompts []models.QuestionPrompt
	for _, pool := range s.byPhase {
		prompts = append(prompts, pool...)
	}
	return prompts
}

// Select picks one prompt for the tag uniformly at random and shuffles its
// options, recomputing CorrectIndex and keeping AnswerIDs aligned. Sub-phase
// tags (sqli-*, xss-*) fall back to the generic pool when their own pool is
// empty. Returns nil when no prompt is available; the caller continues
// without gating.
func Select(ctx context.Context, store Store, tag string, rng *rand.Rand) (*models.QuestionPrompt, error) {
	pool, err := store.ByPhase(ctx, tag)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		if fallback, ok := genericTag(tag); ok {
			if pool, err = store.ByPhase(ctx, fallback); err != nil {
				return nil, err
			}
		}
	}
	if len(pool) == 0 {
		return nil, nil
	}

	prompt := pool[rng.IntN(len(pool))]
	shuffled := shuffle(prompt, rng)
	return &shuffled, nil
}

func genericTag(tag string) (string, bool) {
	switch {
	case strings.HasPrefix(tag, "sqli-"):
		return "sqli", true
	case strings.HasPrefix(tag, "xss-"):
		return "xss", true
	default:
		return "", false
	}
}

func shuffle(p models.QuestionPrompt, rng *rand.Rand) models.QuestionPrompt {
	n := len(p.Options)
	perm := rng.Perm(n)

	options := make([]string, n)
	answerIDs := make([]string, n)
	correct := p.CorrectIndex
	for to, from := range perm {
		options[to] = p.Options[from]
		if from < len(p.AnswerIDs) {
			answerIDs[to] = p.AnswerIDs[from]
		}
		if from == p.CorrectIndex {
			correct = to
		}
	}

	p.Options = options
	p.AnswerIDs = answerIDs
	p.CorrectIndex = correct
	return p
}
