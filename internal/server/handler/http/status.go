package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MardaOneli/WaBot/internal/session"
)

// StatusSource reports the supervisor state.
type StatusSource interface {
	Status() session.Status
}

// CacheSize reports the number of cached messages.
type CacheSize interface {
	Len() int
}

// StatusHandler serves the health check and the status document.
type StatusHandler struct {
	Source StatusSource
	// Cache is nil when the message cache is disabled.
	Cache      CacheSize
	InstanceID string
	Version    string
	Started    time.Time
}

type statusResponse struct {
	Instance       string         `json:"instance"`
	Version        string         `json:"version"`
	Started        time.Time      `json:"started"`
	Session        session.Status `json:"session"`
	CachedMessages *int           `json:"cached_messages,omitempty"`
}

// Health handles GET /healthz. It answers 200 while the supervisor is
// running and 503 once it stopped.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Source.Status().State == session.StateStopped {
		http.Error(w, "stopped", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// Status handles GET /status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Instance: h.InstanceID,
		Version:  h.Version,
		Started:  h.Started,
		Session:  h.Source.Status(),
	}
	if h.Cache != nil {
		n := h.Cache.Len()
		resp.CachedMessages = &n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
