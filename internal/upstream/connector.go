package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/metrics"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	dialTimeout    = 10 * time.Second
)

// EventSink receives every new-message event the connector pulls off the
// capture stream.
type EventSink interface {
	HandleUpstreamMessage(ctx context.Context, msg Message)
}

// Connector maintains the client connection to the capture service. It
// reconnects with doubling backoff, resets the backoff on a successful open
// and stops cleanly when the context is cancelled.
type Connector struct {
	url    string
	apiKey string
	sink   EventSink
	logger *logger.Logger

	closing atomic.Bool
	done    chan struct{}
}

func NewConnector(url, apiKey string, sink EventSink, log *logger.Logger) *Connector {
	return &Connector{
		url:    url,
		apiKey: apiKey,
		sink:   sink,
		logger: log.WithComponent("upstream"),
		done:   make(chan struct{}),
	}
}

// Run connects and consumes events until ctx is cancelled or Close is called.
// Intended to run on its own goroutine.
func (c *Connector) Run(ctx context.Context) {
	defer close(c.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil || c.closing.Load() {
			return
		}

		ws, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("upstream dial failed",
				slog.String("url", c.url),
				slog.Duration("retry_in", backoff),
				slog.String("error", err.Error()))
			metrics.UpstreamReconnects.Inc()

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.logger.Info("connected to capture service", slog.String("url", c.url))
		backoff = initialBackoff

		c.consume(ctx, ws)
		ws.Close()

		if ctx.Err() != nil || c.closing.Load() {
			return
		}
		c.logger.Warn("upstream connection lost, reconnecting",
			slog.Duration("retry_in", backoff))
		metrics.UpstreamReconnects.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Connector) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)

	ws, _, err := dialer.DialContext(ctx, c.url, header)
	return ws, err
}

// consume reads events until the connection drops. Edits and deletions are
// acknowledged at debug level and otherwise ignored; captured history is
// immutable downstream.
func (c *Connector) consume(ctx context.Context, ws *websocket.Conn) {
	// Unblock ReadMessage when the context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !c.closing.Load() {
				c.logger.Warn("upstream read failed", slog.String("error", err.Error()))
			}
			return
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			c.logger.Warn("malformed upstream event", slog.String("error", err.Error()))
			continue
		}

		switch event.Type {
		case EventNewMessage:
			if event.Message == nil {
				c.logger.Warn("new_message event without message body")
				continue
			}
			c.sink.HandleUpstreamMessage(ctx, *event.Message)
		case EventMessageEdited:
			c.logger.Debug("ignoring message edit",
				slog.Int64("message_id", messageID(event.Message)))
		case EventMessagesDeleted:
			c.logger.Debug("ignoring message deletions",
				slog.Int("count", len(event.Messages)))
		default:
			c.logger.Debug("unknown upstream event type", slog.String("type", event.Type))
		}
	}
}

// Close stops the reconnect loop and waits for the run goroutine to exit.
func (c *Connector) Close() {
	c.closing.Store(true)
	<-c.done
}

func messageID(m *Message) int64 {
	if m == nil {
		return 0
	}
	return m.MessageID
}
