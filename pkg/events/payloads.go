package events

import "github.com/easyinjection/scand/pkg/models"

// PhasePayload accompanies phase:started / phase:completed.
type PhasePayload struct {
	Phase string `json:"phase"`
}

// SubPhasePayload accompanies subphase:started / subphase:completed.
type SubPhasePayload struct {
	Phase    string `json:"phase"`
	SubPhase string `json:"sub_phase"`
}

// LogPayload accompanies log:added.
type LogPayload struct {
	Entry models.LogEntry `json:"entry"`
}

// EndpointPayload accompanies endpoint:discovered.
type EndpointPayload struct {
	URL        string        `json:"url"`
	Method     models.Method `json:"method"`
	Parameters []string      `json:"parameters"`
}

// ParameterPayload accompanies parameter:discovered.
type ParameterPayload struct {
	Endpoint string               `json:"endpoint"`
	Name     string               `json:"name"`
	Location models.ParamLocation `json:"location"`
}

// VulnerabilityPayload accompanies vulnerability:found.
type VulnerabilityPayload struct {
	Vulnerability models.Vulnerability `json:"vulnerability"`
}

// QuestionAskedPayload accompanies question:asked. The correct index is not
// serialized; the option order matches AnswerIDs.
type QuestionAskedPayload struct {
	Prompt models.QuestionPrompt `json:"prompt"`
}

// AnswerPayload accompanies question:answered (inbound from the transport).
type AnswerPayload struct {
	SelectedAnswer int `json:"selected_answer"`
}

// QuestionResultPayload accompanies question:result, one per delivered
// answer.
type QuestionResultPayload struct {
	QuestionID     string `json:"question_id"`
	SelectedAnswer int    `json:"selected_answer"`
	Correct        bool   `json:"correct"`
	PointsEarned   int    `json:"points_earned"`
}

// CrawlerFinishedPayload accompanies crawler:finished.
type CrawlerFinishedPayload struct {
	CSVPath string `json:"csv_path"`
}

// CrawlerFailedPayload accompanies crawler:failed.
type CrawlerFailedPayload struct {
	Reason string `json:"reason"`
}

// ScanErrorPayload accompanies scan:error.
type ScanErrorPayload struct {
	Message string `json:"message"`
}

// ScanCompletedPayload accompanies scan:completed.
type ScanCompletedPayload struct {
	Score models.Score `json:"score"`
}
