package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/questions"
)

// QuestionService is the database-backed question store. It satisfies
// questions.Store so the gate can draw from instructor-curated content instead
// of the builtin bank.
type QuestionService struct {
	db *sql.DB
}

// NewQuestionService creates the service over a pooled connection.
func NewQuestionService(db *sql.DB) *QuestionService {
	return &QuestionService{db: db}
}

// ByPhase loads every prompt tagged with the phase, options in stored order.
func (s *QuestionService) ByPhase(ctx context.Context, tag string) ([]models.QuestionPrompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.texto, q.puntos, a.id, a.texto, a.es_correcta
		FROM preguntas q
		JOIN respuestas a ON a.pregunta_id = q.id
		WHERE q.fase = $1
		ORDER BY q.id, a.orden`, tag)
	if err != nil {
		return nil, fmt.Errorf("loading questions for phase %q: %w", tag, err)
	}
	defer rows.Close()

	var prompts []models.QuestionPrompt
	var current *models.QuestionPrompt
	for rows.Next() {
		var questionID, text, answerID, answerText string
		var points int
		var correct bool
		if err := rows.Scan(&questionID, &text, &points, &answerID, &answerText, &correct); err != nil {
			return nil, fmt.Errorf("scanning question row: %w", err)
		}

		if current == nil || current.QuestionID != questionID {
			prompts = append(prompts, models.QuestionPrompt{
				PhaseTag:     tag,
				Text:         text,
				Points:       points,
				QuestionID:   questionID,
				CorrectIndex: -1,
			})
			current = &prompts[len(prompts)-1]
		}
		if correct {
			current.CorrectIndex = len(current.Options)
		}
		current.Options = append(current.Options, answerText)
		current.AnswerIDs = append(current.AnswerIDs, answerID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating question rows: %w", err)
	}

	// A prompt without a marked correct answer cannot gate anything.
	valid := prompts[:0]
	for _, p := range prompts {
		if p.CorrectIndex >= 0 {
			valid = append(valid, p)
		}
	}
	return valid, nil
}

// Seed inserts prompts that do not exist yet; existing rows are untouched.
func (s *QuestionService) Seed(ctx context.Context, prompts []models.QuestionPrompt) error {
	for _, p := range prompts {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO preguntas (id, fase, texto, puntos) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			p.QuestionID, p.PhaseTag, p.Text, p.Points); err != nil {
			return fmt.Errorf("seeding question %s: %w", p.QuestionID, err)
		}
		for i, opt := range p.Options {
			if i >= len(p.AnswerIDs) {
				break
			}
			if _, err := s.db.ExecContext(ctx, `
				INSERT INTO respuestas (id, pregunta_id, texto, es_correcta, orden)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO NOTHING`,
				p.AnswerIDs[i], p.QuestionID, opt, i == p.CorrectIndex, i); err != nil {
				return fmt.Errorf("seeding answer for %s: %w", p.QuestionID, err)
			}
		}
	}
	return nil
}

// FallbackStore tries a primary store and falls back on error or an empty
// pool. Lets a node without curated database content still gate with the
// builtin bank.
type FallbackStore struct {
	Primary   questions.Store
	Secondary questions.Store
}

// ByPhase implements questions.Store.
func (f *FallbackStore) ByPhase(ctx context.Context, tag string) ([]models.QuestionPrompt, error) {
	pool, err := f.Primary.ByPhase(ctx, tag)
	if err == nil && len(pool) > 0 {
		return pool, nil
	}
	return f.Secondary.ByPhase(ctx, tag)
}
