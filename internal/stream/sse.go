// Package stream publishes simulator replies to network clients. A Hub
// drains the reply queue and fans messages out to subscribers; the
// Handler serves them as Server-Sent Events on
// GET /api/v1/stream/messages and over a websocket on GET /ws, which also
// accepts inbound "key=value" commands.
//
// SSE message format:
//
//	data: {"type":"beam","beam":{...}}\n\n
//	data: {"type":"status","status":{...}}\n\n
//
// The first message on every connection is a hello:
//
//	data: {"type":"hello","server_time":"...","kinds":["beam","status"]}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval of silence.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/radarsim/internal/httputil"
	"github.com/star/radarsim/internal/metrics"
	"github.com/star/radarsim/internal/sim"
)

// Config holds per-connection streaming limits.
type Config struct {
	MaxPerIP          int
	MaxClients        int
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	TrustProxy        bool
}

// Submitter accepts inbound commands.
type Submitter interface {
	Submit(cmd sim.Command)
}

// Handler serves the SSE and websocket endpoints.
type Handler struct {
	hub      *Hub
	sim      Submitter
	config   Config
	limiter  *streamLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a streaming handler.
func NewHandler(hub *Hub, s Submitter, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		sim:     s,
		config:  config,
		limiter: newStreamLimiter(config.MaxPerIP, config.MaxClients),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
		logger: logger.With("component", "stream"),
	}
}

// ActiveStreams returns the number of open SSE and websocket connections.
func (h *Handler) ActiveStreams() int { return h.limiter.active() }

// HandleMessages serves the SSE reply stream.
// GET /api/v1/stream/messages?kinds=beam,status
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	kinds, err := ParseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.acquire(w, ip) {
		return
	}
	metrics.IncStreamConnections("sse", "connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"transport", "sse",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"kinds", kinds,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("sse", "disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"transport", "sse",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server-wide WriteTimeout; each send sets its own deadline.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &sseClient{
		w:            w,
		flusher:      flusher,
		rc:           rc,
		writeTimeout: h.config.WriteTimeout,
		logger:       h.logger,
	}

	// Jittered 3-7s reconnect delay avoids a reconnection storm on restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.IntN(4000))
	flusher.Flush()

	sub := h.hub.Subscribe(kinds...)
	defer h.hub.Unsubscribe(sub)

	if err := c.sendJSON(h.hello(kinds)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (hello)", "remote_ip", ip, "error", err)
		return
	}

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := c.sendJSON(msg); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// acquire takes a limiter slot for ip, answering 429 when none is free.
func (h *Handler) acquire(w http.ResponseWriter, ip string) bool {
	if h.limiter.acquire(ip) {
		return true
	}
	metrics.IncStreamErrors("rate_limit")
	h.logger.Warn("stream rate limit exceeded",
		"remote_ip", ip,
		"current_count", h.limiter.count(ip),
	)
	w.Header().Set("Retry-After", "30")
	writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
	return false
}

func (h *Handler) hello(kinds []sim.MessageKind) helloMessage {
	msg := helloMessage{
		Type:       "hello",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		Kinds:      kinds,
		Status:     h.hub.LatestStatus(),
	}
	if len(msg.Kinds) == 0 {
		msg.Kinds = []sim.MessageKind{sim.KindBeam, sim.KindStatus}
	}
	return msg
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type helloMessage struct {
	Type       string              `json:"type" msgpack:"type"`
	ServerTime string              `json:"server_time" msgpack:"server_time"`
	Kinds      []sim.MessageKind   `json:"kinds" msgpack:"kinds"`
	Status     *sim.StatusSnapshot `json:"status,omitempty" msgpack:"status,omitempty"`
}

// ackMessage answers each inbound websocket command frame.
type ackMessage struct {
	Type     string `json:"type" msgpack:"type"`
	Accepted int    `json:"accepted" msgpack:"accepted"`
	Error    string `json:"error,omitempty" msgpack:"error,omitempty"`
}
