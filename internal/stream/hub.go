package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/radarsim/internal/metrics"
	"github.com/star/radarsim/internal/sim"
)

// Source is the reply queue the hub drains.
type Source interface {
	Drain(max int) []sim.Message
}

// Hub is the single consumer of the simulator's reply queue. It fans each
// message out to every subscriber that wants its kind. Delivery to a
// subscriber never blocks: a full subscriber buffer drops the message for
// that subscriber only.
type Hub struct {
	src          Source
	pollInterval time.Duration
	bufferSize   int
	logger       *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	status *sim.StatusSnapshot
	closed bool
}

// NewHub creates a hub polling src every pollInterval.
func NewHub(src Source, pollInterval time.Duration, bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		src:          src,
		pollInterval: pollInterval,
		bufferSize:   bufferSize,
		logger:       logger.With("component", "hub"),
		subs:         make(map[*Subscription]struct{}),
	}
}

// Subscription receives hub messages on C until it is unsubscribed or the
// hub stops, at which point C is closed.
type Subscription struct {
	kinds   map[sim.MessageKind]bool // nil accepts everything
	ch      chan sim.Message
	dropped atomic.Int64
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan sim.Message { return s.ch }

// Dropped reports how many messages were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(k sim.MessageKind) bool {
	return s.kinds == nil || s.kinds[k]
}

// Subscribe registers a subscriber for the given kinds, or all kinds when
// none are given. Subscribing to a stopped hub returns a closed
// subscription.
func (h *Hub) Subscribe(kinds ...sim.MessageKind) *Subscription {
	s := &Subscription{ch: make(chan sim.Message, h.bufferSize)}
	if len(kinds) > 0 {
		s.kinds = make(map[sim.MessageKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call more
// than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// LatestStatus returns the most recent status message seen, or nil.
func (h *Hub) LatestStatus() *sim.StatusSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Run drains the source every poll interval until ctx is cancelled, then
// closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	defer h.closeAll()

	h.logger.Info("hub started", "poll_ms", h.pollInterval.Milliseconds(), "buffer_size", h.bufferSize)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub stopped")
			return nil
		case <-ticker.C:
			h.pump()
		}
	}
}

// pump moves everything currently queued to the subscribers and returns
// the number of messages drained.
func (h *Hub) pump() int {
	msgs := h.src.Drain(0)
	if len(msgs) == 0 {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		if m.Kind == sim.KindStatus && m.Status != nil {
			h.status = m.Status
		}
		for s := range h.subs {
			if !s.wants(m.Kind) {
				continue
			}
			select {
			case s.ch <- m:
			default:
				s.dropped.Add(1)
				metrics.IncStreamErrors("slow_subscriber")
			}
		}
	}
	return len(msgs)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
	h.closed = true
}

// ParseKinds parses a comma-separated kinds filter such as "beam,status".
// An empty string selects every kind.
func ParseKinds(s string) ([]sim.MessageKind, error) {
	var kinds []sim.MessageKind
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		switch sim.MessageKind(f) {
		case "":
			continue
		case sim.KindBeam, sim.KindStatus:
			kinds = append(kinds, sim.MessageKind(f))
		default:
			return nil, fmt.Errorf("unknown message kind %q", f)
		}
	}
	return kinds, nil
}
