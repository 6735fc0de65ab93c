package publish

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/processor"
)

// SubjectProcessed carries every broadcast message when the mirror is enabled.
const SubjectProcessed = "signals.processed"

// NatsPublisher mirrors processed messages onto a NATS subject so other
// services can consume the stream without holding a subscriber socket. It
// implements processor.MessageHandler.
type NatsPublisher struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNatsPublisher connects to the configured NATS server. An empty URL
// returns (nil, nil): the mirror is optional and its absence is not an error.
func NewNatsPublisher(url string, log *logger.Logger) (*NatsPublisher, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(nats.DefaultReconnectWait),
	)
	if err != nil {
		return nil, err
	}

	log.Info("connected to NATS", slog.String("url", url))
	return &NatsPublisher{
		conn:   conn,
		logger: log.WithComponent("nats_publisher"),
	}, nil
}

// HandleProcessedMessage publishes the message to the processed subject.
// Publish failures are logged and dropped; the mirror is best effort.
func (p *NatsPublisher) HandleProcessedMessage(msg processor.ProcessedMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to marshal message for NATS", slog.String("error", err.Error()))
		return
	}

	if err := p.conn.Publish(SubjectProcessed, payload); err != nil {
		p.logger.Warn("NATS publish failed",
			slog.String("subject", SubjectProcessed),
			slog.String("error", err.Error()))
	}
}

// Close drains in-flight publishes and closes the connection.
func (p *NatsPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
