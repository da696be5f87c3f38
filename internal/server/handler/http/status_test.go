package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	handler "github.com/MardaOneli/WaBot/internal/server/handler/http"
	"github.com/MardaOneli/WaBot/internal/session"
)

// fakeSource returns a preconfigured status.
type fakeSource struct {
	status session.Status
}

func (f fakeSource) Status() session.Status { return f.status }

type fakeCache int

func (f fakeCache) Len() int { return int(f) }

func newServer(t *testing.T, h *handler.StatusHandler, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler.NewRouter(h, zap.NewNop(), token))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	running := newServer(t, &handler.StatusHandler{Source: fakeSource{status: session.Status{State: session.StateConnected}}}, "secret")
	stopped := newServer(t, &handler.StatusHandler{Source: fakeSource{status: session.Status{State: session.StateStopped}}}, "secret")

	assert.Equal(t, http.StatusOK, get(t, running.URL+"/healthz", "").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, stopped.URL+"/healthz", "").StatusCode)
}

func TestStatusJSON(t *testing.T) {
	started := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	h := &handler.StatusHandler{
		Source: fakeSource{status: session.Status{
			State:   session.StateBackoff,
			Attempt: 3,
			Since:   started.Add(time.Minute),
			Opens:   2,
		}},
		Cache:      fakeCache(42),
		InstanceID: "inst-1",
		Version:    "v1.2.3",
		Started:    started,
	}
	srv := newServer(t, h, "")

	resp := get(t, srv.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "inst-1", body["instance"])
	assert.Equal(t, "v1.2.3", body["version"])
	assert.Equal(t, float64(42), body["cached_messages"])
	sess := body["session"].(map[string]any)
	assert.Equal(t, "backoff", sess["state"])
	assert.Equal(t, float64(3), sess["attempt"])
	assert.Equal(t, float64(2), sess["opens"])
}

func TestStatusWithoutCache(t *testing.T) {
	srv := newServer(t, &handler.StatusHandler{Source: fakeSource{}}, "")

	var body map[string]any
	require.NoError(t, json.NewDecoder(get(t, srv.URL+"/status", "").Body).Decode(&body))
	assert.NotContains(t, body, "cached_messages")
}

func TestStatusRequiresToken(t *testing.T) {
	srv := newServer(t, &handler.StatusHandler{Source: fakeSource{}}, "secret")

	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/status", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/status", "secret").StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	srv := newServer(t, &handler.StatusHandler{Source: fakeSource{}}, "")

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/nope", "").StatusCode)
}
