package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	verdictOK       = "ok"
	verdictStale    = "stale"
	verdictReady    = "ready"
	verdictStarting = "starting"
	verdictUnknown  = "unknown"
)

// response is the tracker snapshot with a one-word verdict on top.
type response struct {
	Status string `json:"status"`
	Snapshot
}

// HealthHandler serves /healthz. The watcher is healthy while cycles keep completing within twice
// the poll interval.
func HealthHandler(tracker *Tracker, pollInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if tracker == nil {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: verdictUnknown})
			return
		}
		body := response{Status: verdictStale, Snapshot: tracker.Snapshot()}
		code := http.StatusServiceUnavailable
		if tracker.Healthy(time.Now().UTC(), pollInterval) {
			body.Status = verdictOK
			code = http.StatusOK
		}
		writeJSON(w, code, body)
	}
}

// ReadyHandler serves /readyz. Readiness waits for every watched environment to report once.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if tracker == nil {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: verdictUnknown})
			return
		}
		body := response{Status: verdictStarting, Snapshot: tracker.Snapshot()}
		code := http.StatusServiceUnavailable
		if tracker.Ready() {
			body.Status = verdictReady
			code = http.StatusOK
		}
		writeJSON(w, code, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
