package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/questions"
	"github.com/easyinjection/scand/pkg/session"
)

func TestWSHandler_RequiresAuthentication(t *testing.T) {
	manager := session.NewManager(questions.Builtin())
	connManager := events.NewConnectionManager(manager, time.Second)
	s := NewServer(manager, connManager, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWSHandler_UnavailableWithoutManager(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/ws", "",
		map[string]string{"X-Forwarded-User": "alice"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
