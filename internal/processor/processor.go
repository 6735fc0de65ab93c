package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/metrics"
	"github.com/tradewire/signal-relay/internal/signal"
	"github.com/tradewire/signal-relay/internal/store"
	"github.com/tradewire/signal-relay/internal/upstream"
)

// ChannelStore is the whitelist lookup the processor needs.
type ChannelStore interface {
	IsActive(ctx context.Context, chatID int64) (bool, error)
}

// MessageStore is the persistence surface the processor needs.
type MessageStore interface {
	Exists(ctx context.Context, uniqueHash string) (bool, error)
	Save(ctx context.Context, input store.MessageInput) (*store.Message, error)
}

// Processor runs the ingest pipeline: whitelist filter, fingerprint dedupe,
// signal parse, persist, emit. Store failures divert the message into the
// durable buffer. One processor instance handles events sequentially; the
// history loader builds its own instance with handlers disabled.
type Processor struct {
	channels ChannelStore
	messages MessageStore
	parser   *signal.Parser
	buffer   *Buffer
	logger   *logger.Logger

	// Handlers are registered at construction. Nil handlers disable the
	// corresponding fan-out.
	messageHandler MessageHandler
	signalHandler  SignalHandler

	flushing atomic.Bool

	processed  atomic.Int64
	filtered   atomic.Int64
	duplicates atomic.Int64
	buffered   atomic.Int64
	flushed    atomic.Int64
}

func New(channels ChannelStore, messages MessageStore, parser *signal.Parser,
	messageHandler MessageHandler, signalHandler SignalHandler, log *logger.Logger) *Processor {
	return &Processor{
		channels:       channels,
		messages:       messages,
		parser:         parser,
		buffer:         NewBuffer(BufferCapacity),
		logger:         log.WithComponent("processor"),
		messageHandler: messageHandler,
		signalHandler:  signalHandler,
	}
}

// Fingerprint renders the dedupe key for a normalized chat id and upstream
// message id.
func Fingerprint(normalizedChatID, messageID int64) string {
	return fmt.Sprintf("%d_%d", normalizedChatID, messageID)
}

type outcome int

const (
	outcomeSaved outcome = iota
	outcomeFiltered
	outcomeDuplicate
	outcomeBuffered
)

// Process runs one upstream message through the pipeline. It returns the
// persisted row, or nil when the message was filtered, deduplicated or
// diverted into the buffer. Failures are logged here, exactly once.
func (p *Processor) Process(ctx context.Context, msg upstream.Message) *store.Message {
	saved, _ := p.run(ctx, msg)
	return saved
}

// ProcessHistory runs one backfilled message and reports whether it was newly
// saved or already known. Backfill processors are built with nil handlers, so
// nothing reaches live subscribers.
func (p *Processor) ProcessHistory(ctx context.Context, msg upstream.Message) (bool, bool) {
	saved, result := p.run(ctx, msg)
	return saved != nil, result == outcomeDuplicate
}

func (p *Processor) run(ctx context.Context, msg upstream.Message) (*store.Message, outcome) {
	normalized := NormalizeChatID(msg.ChatID)

	active, err := p.channels.IsActive(ctx, normalized)
	if err != nil {
		p.bufferAndFlush(ctx, msg, normalized, err)
		return nil, outcomeBuffered
	}
	if !active {
		p.filtered.Add(1)
		metrics.MessagesFiltered.Inc()
		p.logger.Debug("message dropped by whitelist",
			slog.Int64("chat_id", normalized),
			slog.Int64("message_id", msg.MessageID))
		return nil, outcomeFiltered
	}

	fingerprint := Fingerprint(normalized, msg.MessageID)
	exists, err := p.messages.Exists(ctx, fingerprint)
	if err != nil {
		p.bufferAndFlush(ctx, msg, normalized, err)
		return nil, outcomeBuffered
	}
	if exists {
		p.duplicates.Add(1)
		metrics.MessagesDuplicate.Inc()
		return nil, outcomeDuplicate
	}

	// Parsing never blocks processing; a nil result is a valid outcome.
	parsed := p.parser.Parse(msg)
	if parsed != nil {
		metrics.SignalsParsed.Inc()
	}

	saved, err := p.messages.Save(ctx, buildInput(fingerprint, normalized, msg, parsed))
	if err != nil {
		p.bufferItem(BufferedItem{
			Raw:         msg,
			Signal:      parsed,
			Fingerprint: fingerprint,
			ChannelID:   normalized,
			EnqueuedAt:  time.Now(),
		}, err)
		go p.Flush(context.Background())
		return nil, outcomeBuffered
	}
	if saved == nil {
		// Race-lost duplicate: another insert with the same fingerprint won.
		p.duplicates.Add(1)
		metrics.MessagesDuplicate.Inc()
		return nil, outcomeDuplicate
	}

	p.processed.Add(1)
	metrics.MessagesProcessed.Inc()
	p.emit(saved, msg, parsed)

	return saved, outcomeSaved
}

// HandleUpstreamMessage adapts the processor to the connector's sink.
func (p *Processor) HandleUpstreamMessage(ctx context.Context, msg upstream.Message) {
	p.Process(ctx, msg)
}

func (p *Processor) bufferAndFlush(ctx context.Context, msg upstream.Message, normalized int64, cause error) {
	fingerprint := Fingerprint(normalized, msg.MessageID)
	p.bufferItem(BufferedItem{
		Raw:         msg,
		Fingerprint: fingerprint,
		ChannelID:   normalized,
		EnqueuedAt:  time.Now(),
	}, cause)
	go p.Flush(context.Background())
}

func (p *Processor) bufferItem(item BufferedItem, cause error) {
	evicted := p.buffer.Append(item)
	p.buffered.Add(1)
	metrics.MessagesBuffered.Inc()
	metrics.BufferSize.Set(float64(p.buffer.Len()))

	if evicted {
		metrics.BufferEvictions.Inc()
		p.logger.Warn("durable buffer full, evicted oldest item",
			slog.Int("capacity", BufferCapacity))
	}

	p.logger.Warn("store failure, message buffered for retry",
		slog.String("fingerprint", item.Fingerprint),
		slog.Int("buffer_size", p.buffer.Len()),
		slog.String("error", cause.Error()))
}

// emit hands the processed message and, when present, the parsed signal to
// the registered handlers. The broadcaster never calls back into the
// processor.
func (p *Processor) emit(saved *store.Message, raw upstream.Message, parsed *signal.TradingSignal) {
	if p.messageHandler != nil {
		p.messageHandler.HandleProcessedMessage(ToProcessedMessage(saved, raw.ChatTitle, parsed))
	}
	if p.signalHandler != nil && parsed != nil {
		p.signalHandler.HandleParsedSignal(parsed)
	}
}

// Flush retries every buffered item once, re-checking the whitelist and
// parsing items that were buffered before the parse step. Guarded by a
// single-flight flag: concurrent calls no-op. Successful items leave the
// buffer, items whose channel is no longer whitelisted are dropped, failures
// keep their slot with an incremented retry counter.
func (p *Processor) Flush(ctx context.Context) {
	if !p.flushing.CompareAndSwap(false, true) {
		return
	}
	defer p.flushing.Store(false)

	items := p.buffer.Drain()
	if len(items) == 0 {
		return
	}

	var failed []BufferedItem
	var saved, dropped int
	for _, item := range items {
		// The whitelist was unreadable (or unchecked) when the item was
		// buffered; only still-active channels may persist.
		active, err := p.channels.IsActive(ctx, item.ChannelID)
		if err != nil {
			item.Retries++
			failed = append(failed, item)
			continue
		}
		if !active {
			dropped++
			p.filtered.Add(1)
			metrics.MessagesFiltered.Inc()
			continue
		}

		// Items buffered before the parse step carry no document yet.
		if item.Signal == nil {
			item.Signal = p.parser.Parse(item.Raw)
			if item.Signal != nil {
				metrics.SignalsParsed.Inc()
			}
		}

		row, err := p.messages.Save(ctx, buildInput(item.Fingerprint, item.ChannelID, item.Raw, item.Signal))
		if err != nil {
			item.Retries++
			failed = append(failed, item)
			continue
		}
		if row != nil {
			saved++
			p.flushed.Add(1)
			metrics.BufferFlushed.Inc()
		}
		// A nil row is a duplicate that got persisted elsewhere; either way
		// the item is done.
	}

	p.buffer.Requeue(failed)
	metrics.BufferSize.Set(float64(p.buffer.Len()))

	if saved > 0 || dropped > 0 || len(failed) > 0 {
		p.logger.Info("buffer flush finished",
			slog.Int("saved", saved),
			slog.Int("dropped", dropped),
			slog.Int("failed", len(failed)),
			slog.Int("remaining", p.buffer.Len()))
	}
}

// BufferLen reports the current durable buffer depth.
func (p *Processor) BufferLen() int {
	return p.buffer.Len()
}

// Stats returns pipeline counters for the periodic stats log.
func (p *Processor) Stats() map[string]int64 {
	return map[string]int64{
		"processed":  p.processed.Load(),
		"filtered":   p.filtered.Load(),
		"duplicates": p.duplicates.Load(),
		"buffered":   p.buffered.Load(),
		"flushed":    p.flushed.Load(),
		"buffer_len": int64(p.buffer.Len()),
	}
}

// buildInput projects the raw message and parsed document onto the
// persistence shape. The legacy columns denormalize the document for
// indexability: uppercased side, ticker, entry, the 0.5% stop variant and
// the first target.
func buildInput(fingerprint string, channelID int64, msg upstream.Message, parsed *signal.TradingSignal) store.MessageInput {
	input := store.MessageInput{
		UniqueHash:  fingerprint,
		ChannelID:   channelID,
		ContentText: msg.Text,
	}

	if !msg.MessageDate.Time.IsZero() {
		t := msg.MessageDate.Time
		input.OriginalTimestamp = &t
	}

	if parsed == nil {
		return input
	}

	input.ParsedSignal = mustMarshal(parsed)

	data := parsed.SignalData
	if data.Ticker != "" {
		ticker := data.Ticker
		input.Ticker = &ticker
	}
	if data.Direction != nil && data.Direction.Side != signal.SideNeutral && data.Direction.Side != "" {
		direction := strings.ToUpper(string(data.Direction.Side))
		input.Direction = &direction
	}
	if data.Entry != nil {
		input.EntryPrice = data.Entry.EntryPrice
		if data.Entry.StopLoss != nil {
			input.StopLoss = data.Entry.StopLoss.Stop05
		}
		if len(data.Entry.Targets) > 0 {
			tp := data.Entry.Targets[0]
			input.TakeProfit = &tp
		}
	}

	return input
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// ToProcessedMessage flattens a persisted row into the broadcast wire shape.
func ToProcessedMessage(m *store.Message, channelName string, parsed *signal.TradingSignal) ProcessedMessage {
	out := ProcessedMessage{
		ID:           m.ID,
		Channel:      channelName,
		Text:         m.ContentText,
		Timestamp:    m.CreatedAt.Unix(),
		ParsedSignal: parsed,
	}

	if m.OriginalTimestamp != nil {
		out.Timestamp = m.OriginalTimestamp.Unix()
	}
	if m.Direction != nil {
		out.Direction = *m.Direction
	}
	if m.Ticker != nil {
		out.Ticker = *m.Ticker
	}
	if m.EntryPrice != nil {
		out.EntryPrice = *m.EntryPrice
	}
	if m.StopLoss != nil {
		out.StopLoss = *m.StopLoss
	}
	if m.TakeProfit != nil {
		out.TakeProfit = *m.TakeProfit
	}

	return out
}
