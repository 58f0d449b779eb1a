package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/star/radarsim/internal/httputil"
	"github.com/star/radarsim/internal/metrics"
	"github.com/star/radarsim/internal/sim"
)

// maxCommandFrame bounds one inbound command frame.
const maxCommandFrame = 64 << 10

// HandleWebSocket serves the bidirectional command and reply channel.
// GET /ws?kinds=beam,status&format=json|msgpack
//
// Inbound text frames carry newline-separated key=value commands. With
// format=msgpack, outbound messages are binary msgpack frames and inbound
// binary frames are msgpack arrays of {key, value}. Every inbound frame
// is answered with an ack.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var binary bool
	switch q.Get("format") {
	case "", "json":
	case "msgpack":
		binary = true
	default:
		writeError(w, http.StatusBadRequest, "invalid format parameter, must be json or msgpack")
		return
	}
	kinds, err := ParseKinds(q.Get("kinds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.acquire(w, ip) {
		return
	}
	defer h.limiter.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		metrics.IncStreamErrors("upgrade")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}

	metrics.IncStreamConnections("websocket", "connect")
	metrics.IncStreamsActive()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"transport", "websocket",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"kinds", kinds,
		"binary", binary,
	)

	c := &wsClient{
		conn:         conn,
		binary:       binary,
		replies:      make(chan any, 16),
		writeTimeout: h.config.WriteTimeout,
		keepalive:    h.config.KeepaliveInterval,
		logger:       h.logger.With("remote_ip", ip),
	}
	sub := h.hub.Subscribe(kinds...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx, sub, h.hello(kinds))
	}()

	n := c.readPump(h.sim)

	cancel()
	h.hub.Unsubscribe(sub)
	<-done

	metrics.IncStreamConnections("websocket", "disconnect")
	metrics.DecStreamsActive()
	h.logger.Info("stream disconnected",
		"transport", "websocket",
		"remote_ip", ip,
		"commands", n,
		"dropped", sub.Dropped(),
		"duration_seconds", int(time.Since(startTime).Seconds()),
	)
}

// wsClient owns one websocket connection. Only writePump writes data
// frames.
type wsClient struct {
	conn         *websocket.Conn
	binary       bool
	replies      chan any
	writeTimeout time.Duration
	keepalive    time.Duration
	logger       *slog.Logger
}

// writePump sends hello, then hub messages, acks and pings until ctx is
// cancelled, the subscription closes, or a write fails. It closes the
// connection on return, which also ends readPump.
func (c *wsClient) writePump(ctx context.Context, sub *Subscription, hello helloMessage) {
	ping := time.NewTicker(c.keepalive)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	if err := c.write(hello); err != nil {
		c.logger.Warn("websocket send error (hello)", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-sub.C():
			if !ok {
				deadline := time.Now().Add(c.writeTimeout)
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
				return
			}
			if err := c.write(msg); err != nil {
				metrics.IncStreamErrors("send_error")
				c.logger.Warn("websocket send error", "error", err)
				return
			}

		case v := <-c.replies:
			if err := c.write(v); err != nil {
				metrics.IncStreamErrors("send_error")
				c.logger.Warn("websocket send error (ack)", "error", err)
				return
			}

		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				metrics.IncStreamErrors("send_error")
				c.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func (c *wsClient) write(v any) error {
	var (
		data []byte
		err  error
		typ  = websocket.TextMessage
	)
	if c.binary {
		typ = websocket.BinaryMessage
		data, err = msgpack.Marshal(v)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(typ, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(len(data)))
	return nil
}

// readPump submits inbound commands until the connection fails and
// returns how many were accepted.
func (c *wsClient) readPump(s Submitter) int {
	pongWait := 2 * c.keepalive
	c.conn.SetReadLimit(maxCommandFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	total := 0
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return total
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		cmds, err := decodeCommands(typ, data)
		for _, cmd := range cmds {
			s.Submit(cmd)
		}
		total += len(cmds)

		ack := ackMessage{Type: "ack", Accepted: len(cmds)}
		if err != nil {
			ack.Error = err.Error()
		}
		select {
		case c.replies <- ack:
		default:
			metrics.IncStreamErrors("ack_dropped")
		}
	}
}

var errUnsupportedFrame = errors.New("unsupported frame type")

// decodeCommands turns one inbound frame into commands. Text frames hold
// key=value lines; binary frames hold a msgpack array of commands.
func decodeCommands(typ int, data []byte) ([]sim.Command, error) {
	switch typ {
	case websocket.TextMessage:
		return sim.ParseCommands(string(data))
	case websocket.BinaryMessage:
		var cmds []sim.Command
		if err := msgpack.Unmarshal(data, &cmds); err != nil {
			return nil, fmt.Errorf("msgpack commands: %w", err)
		}
		return cmds, nil
	}
	return nil, errUnsupportedFrame
}
