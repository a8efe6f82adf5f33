package scanlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/models"
)

func TestLogger(t *testing.T) {
	t.Run("tags entries with the current phase", func(t *testing.T) {
		l := New("s1", nil)
		l.SetPhase("discovery")
		l.Log("crawling target", models.LevelInfo)
		l.SetPhase("sqli")
		l.Log("testing endpoint", models.LevelInfo)

		entries := l.All()
		require.Len(t, entries, 2)
		assert.Equal(t, "discovery", entries[0].Phase)
		assert.Equal(t, "sqli", entries[1].Phase)
	})

	t.Run("per-call phase override", func(t *testing.T) {
		l := New("s1", nil)
		l.SetPhase("sqli")
		l.LogWith("late crawler line", models.LevelInfo, Options{Phase: "discovery"})

		entries := l.All()
		require.Len(t, entries, 1)
		assert.Equal(t, "discovery", entries[0].Phase)
	})

	t.Run("publishes log:added for kept entries", func(t *testing.T) {
		bus := events.NewBus()
		var got []events.Event
		bus.Subscribe(events.EventLogAdded, func(e events.Event) { got = append(got, e) })

		l := New("s1", bus)
		l.Log("found 3 endpoints", models.LevelSuccess)

		require.Len(t, got, 1)
		payload := got[0].Payload.(events.LogPayload)
		assert.Equal(t, "found 3 endpoints", payload.Entry.Message)
		assert.Equal(t, models.LevelSuccess, payload.Entry.Level)
	})

	t.Run("suppresses tool noise", func(t *testing.T) {
		l := New("s1", nil)
		for _, line := range []string{
			"        ___  {1.8.3#stable}",
			"[!] legal disclaimer: Usage of sqlmap for attacking targets...",
			"do you want to skip test payloads specific for other DBMSes? [Y/n]",
			"how do you want to proceed? [y/N/q]",
			"got a 302 redirect, follow? (y/N)",
			"respuesta incorrecta, intenta de nuevo... continuando escaneo",
			"Dalfox v2.9.0",
		} {
			l.Log(line, models.LevelInfo)
		}
		assert.Empty(t, l.All())
	})

	t.Run("suppresses spawn and sqlmap debug prefixes only at debug level", func(t *testing.T) {
		l := New("s1", nil)
		l.Log("spawn: /usr/bin/sqlmap -u ...", models.LevelDebug)
		l.Log("sqlmap: raw output line", models.LevelDebug)
		l.Log("spawn failed for endpoint", models.LevelError)

		entries := l.All()
		require.Len(t, entries, 1)
		assert.Equal(t, models.LevelError, entries[0].Level)
	})

	t.Run("console-only lines skip list and bus", func(t *testing.T) {
		bus := events.NewBus()
		published := 0
		bus.Subscribe(events.EventLogAdded, func(events.Event) { published++ })

		l := New("s1", bus)
		l.LogWith("verbose internals", models.LevelInfo, Options{ConsoleOnly: true})

		assert.Empty(t, l.All())
		assert.Zero(t, published)
	})

	t.Run("recent returns the tail", func(t *testing.T) {
		l := New("s1", nil)
		l.Log("one", models.LevelInfo)
		l.Log("two", models.LevelInfo)
		l.Log("three", models.LevelInfo)

		recent := l.Recent(2)
		require.Len(t, recent, 2)
		assert.Equal(t, "two", recent[0].Message)
		assert.Equal(t, "three", recent[1].Message)

		assert.Len(t, l.Recent(50), 3)
	})
}
