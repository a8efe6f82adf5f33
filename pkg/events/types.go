// Package events provides the in-process event bus that connects the
// orchestrator, executors and gate, plus the WebSocket connection manager
// that fans events out to clients.
//
// Bus delivery is single-threaded cooperative: Publish runs every handler to
// completion on the publisher's goroutine, in registration order, before
// returning. The orchestrator relies on this for its causal ordering
// guarantees (phase:completed after phase:started, vulnerability:found before
// scan:completed).
package events

import "time"

// Event types published on the bus. All carry a scan id.
const (
	EventScanStarted   = "scan:started"
	EventScanCompleted = "scan:completed"
	EventScanError     = "scan:error"
	EventScanPaused    = "scan:paused"
	EventScanResumed   = "scan:resumed"
	EventScanStopped   = "scan:stopped"

	EventPhaseStarted      = "phase:started"
	EventPhaseCompleted    = "phase:completed"
	EventSubPhaseStarted   = "subphase:started"
	EventSubPhaseCompleted = "subphase:completed"

	EventLogAdded = "log:added"

	EventEndpointDiscovered  = "endpoint:discovered"
	EventParameterDiscovered = "parameter:discovered"
	EventVulnerabilityFound  = "vulnerability:found"

	EventQuestionAsked    = "question:asked"
	EventQuestionAnswered = "question:answered"
	EventQuestionResult   = "question:result"

	EventCrawlerFinished = "crawler:finished"
	EventCrawlerFailed   = "crawler:failed"
)

// AllEventTypes lists every bus event type, in taxonomy order. Used to fan
// a whole scan bus out to the transport.
var AllEventTypes = []string{
	EventScanStarted, EventScanCompleted, EventScanError,
	EventScanPaused, EventScanResumed, EventScanStopped,
	EventPhaseStarted, EventPhaseCompleted,
	EventSubPhaseStarted, EventSubPhaseCompleted,
	EventLogAdded,
	EventEndpointDiscovered, EventParameterDiscovered, EventVulnerabilityFound,
	EventQuestionAsked, EventQuestionAnswered, EventQuestionResult,
	EventCrawlerFinished, EventCrawlerFailed,
}

// Event is a single bus message.
type Event struct {
	Type    string
	ScanID  string
	Payload any
}

// Handler processes one event. Handlers run synchronously on the
// publisher's goroutine and must not block on bus activity of their own
// event type.
type Handler func(Event)

// ScanChannel returns the broadcast channel name for one scan's events.
func ScanChannel(scanID string) string {
	return "scan:" + scanID
}

// WireMessage is the JSON envelope sent to WebSocket clients.
type WireMessage struct {
	Type      string    `json:"type"`
	ScanID    string    `json:"scan_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
