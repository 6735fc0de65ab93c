package processor

import (
	"github.com/tradewire/signal-relay/internal/signal"
)

// ProcessedMessage is the flat wire projection of a persisted message,
// handed to the broadcaster after a successful insert.
type ProcessedMessage struct {
	ID           int64                 `json:"id"`
	Channel      string                `json:"channel"`
	Direction    string                `json:"direction,omitempty"`
	Ticker       string                `json:"ticker,omitempty"`
	EntryPrice   float64               `json:"entryPrice,omitempty"`
	StopLoss     float64               `json:"stopLoss,omitempty"`
	TakeProfit   float64               `json:"takeProfit,omitempty"`
	Text         string                `json:"text"`
	Timestamp    int64                 `json:"timestamp"`
	ParsedSignal *signal.TradingSignal `json:"parsed_signal,omitempty"`
}

// MessageHandler receives every successfully persisted message. Registered
// at construction; a nil handler disables message fan-out (history backfill).
type MessageHandler interface {
	HandleProcessedMessage(msg ProcessedMessage)
}

// SignalHandler receives the parsed document for messages that classified
// into a signal variant.
type SignalHandler interface {
	HandleParsedSignal(sig *signal.TradingSignal)
}

// MultiMessageHandler fans one processed message out to several handlers in
// order. Used to pair the broadcaster with the optional bus mirror.
type MultiMessageHandler []MessageHandler

func (m MultiMessageHandler) HandleProcessedMessage(msg ProcessedMessage) {
	for _, h := range m {
		h.HandleProcessedMessage(msg)
	}
}
