package broadcast

import (
	"github.com/tradewire/signal-relay/internal/processor"
	"github.com/tradewire/signal-relay/internal/signal"
)

// Close codes for semantic auth failures and shutdown.
const (
	CloseAuthTimeout = 4001
	CloseAuthFailed  = 4002
)

// authRequest is the first frame a subscriber must send.
type authRequest struct {
	Action string `json:"action"`
	APIKey string `json:"api_key"`
}

// statusFrame is the welcome/error envelope sent during the handshake.
type statusFrame struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// signalFrame is the live broadcast envelope. Data carries the flat wire
// projection; Payload carries the parsed document and is only populated when
// parsed-signal broadcasting is enabled.
type signalFrame struct {
	Type    string                      `json:"type"`
	Data    *processor.ProcessedMessage `json:"data,omitempty"`
	Payload *signal.TradingSignal       `json:"payload,omitempty"`
}
