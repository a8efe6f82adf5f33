package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/questions"
	"github.com/easyinjection/scand/pkg/session"
)

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	manager := session.NewManager(questions.Builtin())
	return NewServer(manager, nil, nil, nil), manager
}

func doRequest(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestCreateScanHandler(t *testing.T) {
	s, manager := newTestServer(t)

	t.Run("valid config registers a pending scan", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans",
			`{"url": "http://victim.example/", "sqli": true, "xss": true}`, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp CreateScanResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ScanID)
		assert.Equal(t, 1, manager.Active())
	})

	t.Run("invalid URL is rejected", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans",
			`{"url": "not-a-url", "sqli": true}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no scanner enabled is rejected", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans",
			`{"url": "http://victim.example/"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans", `{not json`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestScanStatusHandler(t *testing.T) {
	s, manager := newTestServer(t)

	scanID, err := manager.Create("alice", config.RawScanConfig{
		URL: "http://victim.example/", SQLi: true,
	})
	require.NoError(t, err)

	t.Run("owner gets a snapshot", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/scans/"+scanID+"/status", "",
			map[string]string{"X-Forwarded-User": "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), scanID)
	})

	t.Run("non-owner sees not found", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/scans/"+scanID+"/status", "",
			map[string]string{"X-Forwarded-User": "mallory"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown scan is not found", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/scans/no-such-scan/status", "",
			map[string]string{"X-Forwarded-User": "alice"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestScanCommandHandlers(t *testing.T) {
	s, manager := newTestServer(t)

	scanID, err := manager.Create("alice", config.RawScanConfig{
		URL: "http://victim.example/", SQLi: true,
	})
	require.NoError(t, err)
	owner := map[string]string{"X-Forwarded-User": "alice"}

	t.Run("pause and resume acknowledge", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans/"+scanID+"/pause", "", owner)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "paused")

		rec = doRequest(t, s, http.MethodPost, "/api/v1/scans/"+scanID+"/resume", "", owner)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "resumed")
	})

	t.Run("commands from non-owner are not found", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans/"+scanID+"/stop", "",
			map[string]string{"X-Forwarded-User": "mallory"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAnswerHandler_Validation(t *testing.T) {
	s, manager := newTestServer(t)

	scanID, err := manager.Create("alice", config.RawScanConfig{
		URL: "http://victim.example/", SQLi: true,
	})
	require.NoError(t, err)
	owner := map[string]string{"X-Forwarded-User": "alice"}

	t.Run("missing selected_answer returns 400", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans/"+scanID+"/answer", `{}`, owner)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "selected_answer is required")
	})

	t.Run("answer is delivered to the scan's gate", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/scans/"+scanID+"/answer",
			`{"selected_answer": 1}`, owner)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "answered")
	})
}

func TestGetScanHandler_NoPersistence(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/scans/some-id", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
