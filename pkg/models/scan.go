package models

import "time"

// ScanState is the persisted lifecycle state of a scan.
// The Spanish values match the schema owned by the web application.
type ScanState string

const (
	ScanPending  ScanState = "pendiente"
	ScanRunning  ScanState = "en_progreso"
	ScanFinished ScanState = "finalizado"
	ScanErrored  ScanState = "error"
	ScanStopped  ScanState = "detenido"
)

// IsValid checks if the state is a known lifecycle state.
func (s ScanState) IsValid() bool {
	switch s {
	case ScanPending, ScanRunning, ScanFinished, ScanErrored, ScanStopped:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state releases the in-memory orchestrator.
func (s ScanState) Terminal() bool {
	return s == ScanFinished || s == ScanErrored || s == ScanStopped
}

// PhaseStatus tracks a phase through its monotonic lifecycle:
// pending → running → (completed | error).
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseErrored   PhaseStatus = "error"
)

// Phase names of the scan state machine.
const (
	PhaseInit      = "init"
	PhaseDiscovery = "discovery"
	PhaseSQLi      = "sqli"
	PhaseXSS       = "xss"
	PhaseReport    = "report"
)

// SQLi sub-phase names.
const (
	SubPhaseDetection   = "detection"
	SubPhaseFingerprint = "fingerprint"
	SubPhaseTechnique   = "technique"
	SubPhaseExploit     = "exploit"
)

// XSS sub-phase names.
const (
	SubPhaseContext = "context"
	SubPhasePayload = "payload"
	SubPhaseFuzzing = "fuzzing"
)

// SubPhaseInfo is the progress record of one sub-phase.
type SubPhaseInfo struct {
	Name   string      `json:"name"`
	Status PhaseStatus `json:"status"`
}

// PhaseInfo is the progress record of one top-level phase.
type PhaseInfo struct {
	Name      string         `json:"name"`
	Status    PhaseStatus    `json:"status"`
	SubPhases []SubPhaseInfo `json:"sub_phases,omitempty"`
}

// ScanStats aggregates counters surfaced in status snapshots.
type ScanStats struct {
	TotalRequests        int `json:"total_requests"`
	VulnerabilitiesFound int `json:"vulnerabilities_found"`
	EndpointsDiscovered  int `json:"endpoints_discovered"`
	ParametersFound      int `json:"parameters_found"`
}

// ScanStatus is a point-in-time snapshot of a running scan.
// Slices reference the orchestrator's live buffers; callers must treat
// them as read-only.
type ScanStatus struct {
	ScanID              string           `json:"scan_id"`
	CurrentPhase        string           `json:"current_phase"`
	IsPaused            bool             `json:"is_paused"`
	Phases              []PhaseInfo      `json:"phases"`
	DiscoveredEndpoints []*Endpoint      `json:"discovered_endpoints"`
	Vulnerabilities     []Vulnerability  `json:"vulnerabilities"`
	QuestionResults     []QuestionResult `json:"question_results"`
	Stats               ScanStats        `json:"stats"`
	Logs                []LogEntry       `json:"logs"`
}

// Grade buckets the final score.
type Grade string

const (
	GradeExcellent Grade = "Excelente"
	GradeGood      Grade = "Bueno"
	GradeFair      Grade = "Regular"
	GradePoor      Grade = "Deficiente"
	GradeCritical  Grade = "Crítico"
)

// Score is the computed result of a completed scan.
type Score struct {
	QuizPoints      int     `json:"puntos_cuestionario"`
	TotalQuizPoints int     `json:"total_puntos_cuestionario"`
	VulnCount       int     `json:"vulnerabilidades_encontradas"`
	Final           int     `json:"puntuacion_final"`
	Grade           Grade   `json:"calificacion"`
	QuizPart        float64 `json:"-"`
	VulnPart        float64 `json:"-"`
}

// Scan is the persisted scan record the orchestrator reads and the
// persistence adapter updates.
type Scan struct {
	ID        string     `json:"id"`
	UserID    string     `json:"usuario_id"`
	Alias     string     `json:"alias"`
	URL       string     `json:"url"`
	SQLi      bool       `json:"sqli"`
	XSS       bool       `json:"xss"`
	State     ScanState  `json:"estado"`
	DBMS      string     `json:"gestor,omitempty"`
	StartedAt *time.Time `json:"fecha_inicio,omitempty"`
	EndedAt   *time.Time `json:"fecha_fin,omitempty"`
	Score     *Score     `json:"puntuacion,omitempty"`
}
