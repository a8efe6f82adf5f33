package models

import "time"

// LogLevel classifies scan log entries.
type LogLevel string

const (
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// IsValid checks if the level is a known log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	default:
		return false
	}
}

// LogEntry is one user-visible scan log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Phase     string    `json:"phase"`
}
