// Package health serves the liveness and readiness probes.
package health

import (
	"net/http"
	"sync/atomic"
)

// Probe tracks whether the simulator is running and able to take
// commands. The zero value is alive but not ready.
type Probe struct {
	ready atomic.Bool
}

// SetReady flips the readiness answer.
func (p *Probe) SetReady(ready bool) { p.ready.Store(ready) }

// Ready reports the current readiness.
func (p *Probe) Ready() bool { return p.ready.Load() }

// Healthz returns 200 "ok\n" unconditionally.
func (p *Probe) Healthz(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok\n")
}

// Readyz returns 200 "ready\n" while the simulator loops are running and
// 503 otherwise, including during shutdown.
func (p *Probe) Readyz(w http.ResponseWriter, r *http.Request) {
	if !p.Ready() {
		writeText(w, http.StatusServiceUnavailable, "not ready\n")
		return
	}
	writeText(w, http.StatusOK, "ready\n")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(body))
}
