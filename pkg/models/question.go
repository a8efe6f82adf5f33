package models

// QuestionPrompt is a multiple-choice theory question presented by the gate.
// Options are already shuffled for this presentation; AnswerIDs follows the
// same order so the selected index maps back to a persisted answer record.
type QuestionPrompt struct {
	PhaseTag     string   `json:"phase_tag"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"-"`
	Points       int      `json:"points"`
	QuestionID   string   `json:"question_id"`
	AnswerIDs    []string `json:"answer_ids"`
}

// QuestionResult records how the user answered a prompt. UserAnswer and
// Correct reflect the first attempt; the gate itself only unblocks on a
// correct answer, so points are earned only when the first attempt was right.
type QuestionResult struct {
	QuestionPrompt
	UserAnswer   int  `json:"user_answer"`
	Correct      bool `json:"correct"`
	PointsEarned int  `json:"points_earned"`
}
