package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/radarsim/internal/metrics"
)

// sseClient writes events to one SSE connection.
type sseClient struct {
	w            http.ResponseWriter
	flusher      http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration
	logger       *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON writes v as a "data: {json}\n\n" event.
func (c *sseClient) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.send("data: " + string(data) + "\n\n")
}

// sendKeepalive writes an SSE comment line.
func (c *sseClient) sendKeepalive() error {
	if err := c.send(":\n\n"); err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	return nil
}

func (c *sseClient) send(frame string) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	n, err := fmt.Fprint(c.w, frame)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()

	c.bytesSent += int64(n)
	metrics.AddStreamBytes(int64(n))
	if frame[0] != ':' {
		c.messagesSent++
		metrics.IncStreamMessages()
	}
	return nil
}
