// Package scanlog implements the user-visible scan log: an append-only,
// phase-tagged entry list with suppression rules for external tool noise.
// Every entry is mirrored to slog; entries that pass the filters are also
// published on the bus as log:added.
package scanlog

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/models"
)

// Tool banner/version stamps, interactive prompts and gate echo lines are
// kept out of the user-visible log. The console (slog) sink still receives
// them at debug level.
var suppressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\d+\.\d+[^}]*\}`),               // sqlmap version stamp: {1.8.3#stable}
	regexp.MustCompile(`(?i)legal disclaimer`),            // sqlmap banner
	regexp.MustCompile(`(?i)^\s*___`),                     // sqlmap ASCII art
	regexp.MustCompile(`(?i)https?://sqlmap\.org`),        // banner URL line
	regexp.MustCompile(`(?i)^dalfox v?\d`),                // dalfox version banner
	regexp.MustCompile(`(?i)\[y/n(/q)?\]|\(y/n\)`),        // interactive tool prompts
	regexp.MustCompile(`(?i)respuesta (correcta|incorrecta).*continuando escaneo`),
}

// Options adjusts a single log call.
type Options struct {
	// Phase overrides the logger's current phase tag.
	Phase string
	// ConsoleOnly skips the entry list and bus; the line only reaches slog.
	ConsoleOnly bool
}

// Logger is the per-scan log sink. Safe for concurrent use.
type Logger struct {
	scanID string
	bus    *events.Bus

	mu      sync.Mutex
	phase   string
	entries []models.LogEntry
}

// New creates a logger for one scan. bus may be nil (no fan-out).
func New(scanID string, bus *events.Bus) *Logger {
	return &Logger{scanID: scanID, bus: bus}
}

// SetPhase sets the tag applied to subsequent entries.
func (l *Logger) SetPhase(tag string) {
	l.mu.Lock()
	l.phase = tag
	l.mu.Unlock()
}

// Log records a message at the given level under the current phase.
func (l *Logger) Log(message string, level models.LogLevel) {
	l.LogWith(message, level, Options{})
}

// LogWith records a message with per-call options. Suppressed lines and
// console-only lines reach slog but not the entry list or the bus.
func (l *Logger) LogWith(message string, level models.LogLevel, opts Options) {
	l.console(message, level)

	if opts.ConsoleOnly || suppressed(message, level) {
		return
	}

	l.mu.Lock()
	phase := l.phase
	if opts.Phase != "" {
		phase = opts.Phase
	}
	entry := models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Phase:     phase,
	}
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(events.Event{
			Type:    events.EventLogAdded,
			ScanID:  l.scanID,
			Payload: events.LogPayload{Entry: entry},
		})
	}
}

// Recent returns the last n entries (all of them if fewer exist).
func (l *Logger) Recent(n int) []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.LogEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// All returns a copy of every recorded entry.
func (l *Logger) All() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Logger) console(message string, level models.LogLevel) {
	log := slog.With("scan_id", l.scanID)
	switch level {
	case models.LevelDebug:
		log.Debug(message)
	case models.LevelWarning:
		log.Warn(message)
	case models.LevelError:
		log.Error(message)
	default:
		log.Info(message)
	}
}

func suppressed(message string, level models.LogLevel) bool {
	if level == models.LevelDebug {
		trimmed := strings.TrimSpace(message)
		if strings.HasPrefix(trimmed, "spawn:") || strings.HasPrefix(trimmed, "sqlmap:") {
			return true
		}
	}
	for _, re := range suppressPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
