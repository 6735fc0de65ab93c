package signal

import "time"

// SignalType discriminates the parsed document union.
type SignalType string

const (
	TypeStrongSignal SignalType = "strong_signal"
	TypeMediumSignal SignalType = "medium_signal"
	TypeSentiment    SignalType = "sentiment"
	TypeEntrySignal  SignalType = "entry_signal"
	TypeQuickTarget  SignalType = "quick_target"
	TypeFundingRate  SignalType = "funding_rate"
)

// Side is the detected trade direction.
type Side string

const (
	SideLong    Side = "long"
	SideShort   Side = "short"
	SideNeutral Side = "neutral"
)

// RSI classification thresholds are strict: exactly 30 and 70 are neutral.
const (
	RSIOversold   = "oversold"
	RSIOverbought = "overbought"
	RSINeutral    = "neutral"
)

// Funding receivers and the recommended positioning derived from the rate.
const (
	ReceiverLongs  = "longs"
	ReceiverShorts = "shorts"
)

// Pattern categories for directional signals.
const (
	PatternTrendReversal = "trend_reversal"
	PatternOBReversal    = "ob_reversal"
	PatternOSReversal    = "os_reversal"
	PatternBreakout      = "breakout"
	PatternPullback      = "pullback"
	PatternDivergence    = "divergence"
	PatternUnknown       = "unknown"
)

// MediaDescriptor mirrors the upstream file attachment shape.
type MediaDescriptor struct {
	FileID   string `json:"file_id"`
	FileType string `json:"file_type"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Source identifies where the signal text came from.
type Source struct {
	ChannelName string            `json:"channel_name"`
	ChannelID   int64             `json:"channel_id"`
	MessageID   int64             `json:"message_id"`
	Text        string            `json:"text"`
	Media       []MediaDescriptor `json:"media,omitempty"`
}

// Metadata describes how the document was produced.
type Metadata struct {
	ParserVersion    string   `json:"parser_version"`
	ProcessingTimeMs float64  `json:"processing_time_ms"`
	Language         string   `json:"language"` // en, ru or mixed
	Tags             []string `json:"tags,omitempty"`
}

// Direction is the directional block for strong/medium/entry variants.
// Sentiment documents carry a neutral side with no pattern.
type Direction struct {
	Side            Side    `json:"side"`
	Pattern         string  `json:"pattern,omitempty"`
	PatternStrength float64 `json:"pattern_strength,omitempty"`
}

// Indicators carries numeric indicator captures.
type Indicators struct {
	RSI       *float64 `json:"rsi,omitempty"`
	RSISignal string   `json:"rsi_signal,omitempty"`
}

// StopLoss carries the two stop variants of an entry signal.
type StopLoss struct {
	Stop05 *float64 `json:"stop_0_5,omitempty"`
	Stop1  *float64 `json:"stop_1,omitempty"`
}

// EntryData carries price levels for entry_signal and quick_target variants.
type EntryData struct {
	EntryPrice       *float64  `json:"entry_price,omitempty"`
	Targets          []float64 `json:"targets,omitempty"`
	StopLoss         *StopLoss `json:"stop_loss,omitempty"`
	ExpectedProfit   string    `json:"expected_profit,omitempty"`
	ProgressToTarget string    `json:"progress_to_target,omitempty"`
}

// TimeframeZone is one repeating sentiment sub-pattern.
type TimeframeZone struct {
	Trend     string   `json:"trend,omitempty"`   // triangle marker
	Marker    string   `json:"marker,omitempty"`  // OS/OB marker
	ZonePct   *float64 `json:"zone_pct,omitempty"`
	RSI       *float64 `json:"rsi,omitempty"`
	Timeframe string   `json:"timeframe,omitempty"`
}

// SentimentData carries market-mood percentages and per-timeframe zones.
type SentimentData struct {
	DayChangePct *float64        `json:"day_change_pct,omitempty"`
	Change24hPct *float64        `json:"change_24h_pct,omitempty"`
	Zones        []TimeframeZone `json:"zones,omitempty"`
}

// FundingInfo carries funding-rate specifics.
type FundingInfo struct {
	Instrument        string     `json:"instrument"`
	FundingTime       *time.Time `json:"funding_time,omitempty"`
	FundingRate       float64    `json:"funding_rate"`
	Receiver          string     `json:"receiver"`
	RecommendedAction Side       `json:"recommended_action"`
	NextFundingInSec  int64      `json:"next_funding_in"`
}

// SignalData is the variant payload. Which blocks are set depends on Type.
type SignalData struct {
	Ticker      string         `json:"ticker"`
	Exchange    string         `json:"exchange"`
	Timeframe   string         `json:"timeframe,omitempty"`
	Priority    int            `json:"priority"`
	Direction   *Direction     `json:"direction,omitempty"`
	Indicators  *Indicators    `json:"indicators,omitempty"`
	Entry       *EntryData     `json:"entry,omitempty"`
	Sentiment   *SentimentData `json:"sentiment,omitempty"`
	FundingInfo *FundingInfo   `json:"funding_info,omitempty"`
	SignalTime  *time.Time     `json:"signal_time,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// Confidence is the scored plausibility of the parse, with the contributing
// factors rendered as human-readable strings.
type Confidence struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// TradingSignal is the parsed document persisted alongside the message and
// optionally broadcast to subscribers.
type TradingSignal struct {
	SignalID   string     `json:"signal_id"`
	Type       SignalType `json:"type"`
	Timestamp  time.Time  `json:"timestamp"`
	Source     Source     `json:"source"`
	SignalData SignalData `json:"signal_data"`
	Metadata   Metadata   `json:"metadata"`
	Confidence Confidence `json:"confidence"`
}
