package store

import (
	"encoding/json"
	"time"
)

// Client is a subscriber credential. API keys are opaque, unique and never
// reused; deletion removes the row.
type Client struct {
	ID        string    `json:"id"`
	APIKey    string    `json:"api_key"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel is a whitelisted source chat. ChatID is the normalized supergroup
// form and the primary key.
type Channel struct {
	ChatID    int64     `json:"chat_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelInput is the payload for channel upserts.
type ChannelInput struct {
	ChatID   int64
	Name     string
	IsActive bool
}

// Message is a persisted upstream message. The direction/ticker/price columns
// are a denormalized projection of ParsedSignal and may be null.
type Message struct {
	ID                int64           `json:"id"`
	UniqueHash        string          `json:"unique_hash"`
	ChannelID         int64           `json:"channel_id"`
	Direction         *string         `json:"direction,omitempty"`
	Ticker            *string         `json:"ticker,omitempty"`
	EntryPrice        *float64        `json:"entry_price,omitempty"`
	StopLoss          *float64        `json:"stop_loss,omitempty"`
	TakeProfit        *float64        `json:"take_profit,omitempty"`
	ContentText       string          `json:"content_text"`
	OriginalTimestamp *time.Time      `json:"original_timestamp,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ParsedSignal      json.RawMessage `json:"parsed_signal,omitempty"`
}

// MessageInput is the payload for message inserts.
type MessageInput struct {
	UniqueHash        string
	ChannelID         int64
	Direction         *string
	Ticker            *string
	EntryPrice        *float64
	StopLoss          *float64
	TakeProfit        *float64
	ContentText       string
	OriginalTimestamp *time.Time
	ParsedSignal      json.RawMessage
}

// MessageStats summarizes the messages table. Today covers a rolling
// 24-hour window.
type MessageStats struct {
	Total      int64 `json:"total"`
	Today      int64 `json:"today"`
	WithTicker int64 `json:"with_ticker"`
	LongCount  int64 `json:"long_count"`
	ShortCount int64 `json:"short_count"`
}
