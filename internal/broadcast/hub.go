package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/metrics"
	"github.com/tradewire/signal-relay/internal/processor"
	"github.com/tradewire/signal-relay/internal/signal"
)

const (
	// backlogCapacity bounds the recent-backlog ring.
	backlogCapacity = 100
	// replayLimit caps how many backlog entries a fresh subscriber gets.
	replayLimit = 10
	// sendBufferSize is the per-connection outbound queue. A full queue
	// marks the connection slow and the frame is skipped.
	sendBufferSize = 64
)

// conn is one authenticated subscriber connection tracked by the hub.
type conn struct {
	clientID string
	authedAt time.Time
	send     chan []byte
	closed   chan struct{}
	once     sync.Once
}

// shut closes the connection's send side exactly once.
func (c *conn) shut() {
	c.once.Do(func() { close(c.closed) })
}

// Hub tracks the live subscriber set and the recent-backlog ring. Both are
// co-mutated by broadcast, so one exclusive guard covers them. The hub
// implements the processor's handler interfaces and never calls back into
// the processor.
type Hub struct {
	mu      sync.Mutex
	conns   map[*conn]bool
	backlog []processor.ProcessedMessage

	emitParsed bool
	logger     *logger.Logger

	sent atomic.Int64
}

func NewHub(emitParsedSignals bool, log *logger.Logger) *Hub {
	return &Hub{
		conns:      make(map[*conn]bool),
		emitParsed: emitParsedSignals,
		logger:     log.WithComponent("broadcast"),
	}
}

// register adds an authenticated connection and enqueues the backlog replay,
// oldest first, under the same lock that guards broadcast. Anything
// broadcast after registration lands behind the replay in the send queue.
func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := 0
	if len(h.backlog) > replayLimit {
		start = len(h.backlog) - replayLimit
	}
	for _, msg := range h.backlog[start:] {
		m := msg
		frame, err := json.Marshal(signalFrame{Type: "signal", Data: &m})
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
		default:
		}
	}

	h.conns[c] = true
	metrics.SubscriberConnections.Set(float64(len(h.conns)))

	h.logger.Info("subscriber registered",
		slog.String("client_id", c.clientID),
		slog.Int("connections", len(h.conns)))
}

// unregister drops a connection from the live set.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	c.shut()
	metrics.SubscriberConnections.Set(float64(len(h.conns)))

	h.logger.Info("subscriber unregistered",
		slog.String("client_id", c.clientID),
		slog.Int("connections", len(h.conns)))
}

// HandleProcessedMessage appends the message to the backlog ring and fans it
// out to every live connection. Slow connections are skipped, never blocked
// on; they get dropped by their write pump on the next failure.
func (h *Hub) HandleProcessedMessage(msg processor.ProcessedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.backlog = append(h.backlog, msg)
	if len(h.backlog) > backlogCapacity {
		h.backlog = h.backlog[len(h.backlog)-backlogCapacity:]
	}

	m := msg
	frame, err := json.Marshal(signalFrame{Type: "signal", Data: &m})
	if err != nil {
		h.logger.Error("failed to marshal broadcast frame", slog.String("error", err.Error()))
		return
	}

	h.fanOut(frame)
}

// HandleParsedSignal fans out the parsed document envelope. Gated behind the
// compatibility flag; the flat data envelope is the canonical wire form.
func (h *Hub) HandleParsedSignal(sig *signal.TradingSignal) {
	if !h.emitParsed {
		return
	}

	frame, err := json.Marshal(signalFrame{Type: "signal", Payload: sig})
	if err != nil {
		h.logger.Error("failed to marshal signal frame", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.fanOut(frame)
}

// fanOut enqueues a frame on every writable connection. Callers hold h.mu.
func (h *Hub) fanOut(frame []byte) {
	for c := range h.conns {
		select {
		case c.send <- frame:
			h.sent.Add(1)
			metrics.BroadcastsSent.Inc()
		default:
			h.logger.Warn("subscriber send buffer full, frame skipped",
				slog.String("client_id", c.clientID))
		}
	}
}

// ConnectionCount reports the live subscriber count.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// BacklogLen reports the backlog ring depth.
func (h *Hub) BacklogLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.backlog)
}

// Shutdown closes every live connection with the going-away code. The write
// pumps observe the closed channel and send the close frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		c.shut()
		delete(h.conns, c)
	}
	metrics.SubscriberConnections.Set(0)
}

// Stats returns broadcaster counters for the periodic stats log.
func (h *Hub) Stats() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]int64{
		"connections": int64(len(h.conns)),
		"backlog":     int64(len(h.backlog)),
		"sent":        h.sent.Load(),
	}
}
