package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/signal"
	"github.com/tradewire/signal-relay/internal/store"
	"github.com/tradewire/signal-relay/internal/upstream"
)

var errStoreDown = errors.New("connection refused")

type fakeChannelStore struct {
	mu     sync.Mutex
	active map[int64]bool
	err    error
}

func (f *fakeChannelStore) IsActive(_ context.Context, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.active[chatID], nil
}

func (f *fakeChannelStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeMessageStore struct {
	mu     sync.Mutex
	rows   map[string]*store.Message
	inputs []store.MessageInput
	err    error
	seq    int64
	saves  int
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{rows: make(map[string]*store.Message)}
}

func (f *fakeMessageStore) Exists(_ context.Context, uniqueHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.rows[uniqueHash]
	return ok, nil
}

func (f *fakeMessageStore) Save(_ context.Context, input store.MessageInput) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.saves++
	f.inputs = append(f.inputs, input)
	if _, ok := f.rows[input.UniqueHash]; ok {
		return nil, nil
	}
	f.seq++
	row := &store.Message{
		ID:          f.seq,
		UniqueHash:  input.UniqueHash,
		ChannelID:   input.ChannelID,
		ContentText: input.ContentText,
		CreatedAt:   time.Now().UTC(),
	}
	f.rows[input.UniqueHash] = row
	return row, nil
}

func (f *fakeMessageStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeMessageStore) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeMessageStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeMessageStore) savedInputs() []store.MessageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.MessageInput, len(f.inputs))
	copy(out, f.inputs)
	return out
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []ProcessedMessage
}

func (r *recordingHandler) HandleProcessedMessage(msg ProcessedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func testUpstreamMessage(chatID, messageID int64, text string) upstream.Message {
	return upstream.Message{
		MessageID:   messageID,
		ChatID:      chatID,
		ChatTitle:   "Signals",
		Text:        text,
		MessageDate: upstream.Timestamp{Time: time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)},
	}
}

func newTestProcessor(channels *fakeChannelStore, messages *fakeMessageStore, handler MessageHandler) *Processor {
	return New(channels, messages, signal.NewParser(), handler, nil, testLogger())
}

func TestNormalizeChatID(t *testing.T) {
	cases := []struct {
		raw      int64
		expected int64
	}{
		{123, -1_000_000_000_123},
		{-123, -1_000_000_000_123},
		{-1_002_678_035_223, -1_002_678_035_223},
		{0, 0},
		{-999_999_999_999, -1_999_999_999_999},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, NormalizeChatID(tc.raw), "raw %d", tc.raw)
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "-1002678035223_42", Fingerprint(-1002678035223, 42))
}

func TestProcessDropsNonWhitelisted(t *testing.T) {
	channels := &fakeChannelStore{active: map[int64]bool{}}
	messages := newFakeMessageStore()
	handler := &recordingHandler{}
	p := newTestProcessor(channels, messages, handler)

	result := p.Process(context.Background(), testUpstreamMessage(-1001, 1, "🟢 LONG BTC"))

	assert.Nil(t, result)
	assert.Equal(t, 0, messages.rowCount())
	assert.Equal(t, 0, handler.count())
	assert.Equal(t, int64(1), p.Stats()["filtered"])
}

func TestProcessPersistsAndEmitsForActiveChannel(t *testing.T) {
	normalized := NormalizeChatID(-1001)
	channels := &fakeChannelStore{active: map[int64]bool{normalized: true}}
	messages := newFakeMessageStore()
	handler := &recordingHandler{}
	p := newTestProcessor(channels, messages, handler)

	result := p.Process(context.Background(), testUpstreamMessage(-1001, 1, "🟢 LONG BTC"))

	require.NotNil(t, result)
	assert.Equal(t, 1, messages.rowCount())
	assert.Equal(t, 1, handler.count())
	assert.Equal(t, Fingerprint(normalized, 1), result.UniqueHash)
}

func TestProcessDeduplicates(t *testing.T) {
	normalized := NormalizeChatID(-1001)
	channels := &fakeChannelStore{active: map[int64]bool{normalized: true}}
	messages := newFakeMessageStore()
	handler := &recordingHandler{}
	p := newTestProcessor(channels, messages, handler)

	msg := testUpstreamMessage(-1001, 7, "some text")
	first := p.Process(context.Background(), msg)
	second := p.Process(context.Background(), msg)

	require.NotNil(t, first)
	assert.Nil(t, second)
	assert.Equal(t, 1, messages.rowCount())
	assert.Equal(t, 1, handler.count())
	assert.Equal(t, int64(1), p.Stats()["duplicates"])
}

func TestProcessBuffersOnStoreFailureAndRecovers(t *testing.T) {
	normalized := NormalizeChatID(-1001)
	channels := &fakeChannelStore{active: map[int64]bool{normalized: true}}
	messages := newFakeMessageStore()
	handler := &recordingHandler{}
	p := newTestProcessor(channels, messages, handler)

	messages.setErr(errStoreDown)
	for i := int64(1); i <= 3; i++ {
		result := p.Process(context.Background(), testUpstreamMessage(-1001, i, "text"))
		assert.Nil(t, result)
	}

	// The failed saves may have triggered async flush attempts; they all
	// fail against the broken store and requeue.
	require.Eventually(t, func() bool { return p.BufferLen() == 3 }, time.Second, 10*time.Millisecond)

	messages.setErr(nil)
	p.Flush(context.Background())

	// A stray async flush kicked off by the failed saves may still be in
	// flight; the end state is what matters.
	require.Eventually(t, func() bool {
		return p.BufferLen() == 0 && messages.rowCount() == 3
	}, time.Second, 10*time.Millisecond)
	// Buffered recovery persists without re-emitting to live subscribers.
	assert.Equal(t, 0, handler.count())

	// A second flush with an empty buffer is a no-op.
	saves := messages.saveCount()
	p.Flush(context.Background())
	assert.Equal(t, saves, messages.saveCount())
}

func TestFlushKeepsFailedItems(t *testing.T) {
	normalized := NormalizeChatID(-1001)
	channels := &fakeChannelStore{active: map[int64]bool{normalized: true}}
	messages := newFakeMessageStore()
	p := newTestProcessor(channels, messages, nil)

	messages.setErr(errStoreDown)
	p.Process(context.Background(), testUpstreamMessage(-1001, 1, "text"))
	require.Eventually(t, func() bool { return p.BufferLen() == 1 }, time.Second, 10*time.Millisecond)

	p.Flush(context.Background())
	require.Eventually(t, func() bool { return p.BufferLen() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, messages.rowCount())
}

func TestFlushDropsItemsForInactiveChannels(t *testing.T) {
	channels := &fakeChannelStore{active: map[int64]bool{}, err: errStoreDown}
	messages := newFakeMessageStore()
	p := newTestProcessor(channels, messages, nil)

	result := p.Process(context.Background(), testUpstreamMessage(-1001, 1, "🟢 LONG BTC"))
	assert.Nil(t, result)
	require.Eventually(t, func() bool { return p.BufferLen() >= 1 }, time.Second, 10*time.Millisecond)

	// The whitelist recovers but the channel is not on it: the buffered
	// message must be dropped, never persisted.
	channels.setErr(nil)
	// A stray async flush may have drained and requeued concurrently; retry
	// until the drop lands.
	require.Eventually(t, func() bool {
		p.Flush(context.Background())
		return p.BufferLen() == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, messages.rowCount())
	assert.GreaterOrEqual(t, p.Stats()["filtered"], int64(1))
}

func TestFlushParsesItemsBufferedBeforeParse(t *testing.T) {
	normalized := NormalizeChatID(-1001)
	channels := &fakeChannelStore{active: map[int64]bool{normalized: true}}
	messages := newFakeMessageStore()
	p := newTestProcessor(channels, messages, nil)

	text := "#BTCUSDT #StrongSignal\nBINANCE, T10:30:00 UTC\n🔴**↓ TREND Reversal ↑** 65%\n**RSI:** 72"

	// An Exists failure buffers the raw message before the parse step ran.
	messages.setErr(errStoreDown)
	result := p.Process(context.Background(), testUpstreamMessage(-1001, 1, text))
	assert.Nil(t, result)
	require.Eventually(t, func() bool { return p.BufferLen() == 1 }, time.Second, 10*time.Millisecond)

	messages.setErr(nil)
	require.Eventually(t, func() bool {
		p.Flush(context.Background())
		return messages.rowCount() == 1
	}, time.Second, 10*time.Millisecond)

	inputs := messages.savedInputs()
	require.NotEmpty(t, inputs)
	saved := inputs[len(inputs)-1]
	assert.NotEmpty(t, saved.ParsedSignal, "recovered message must keep its parsed document")
	require.NotNil(t, saved.Direction)
	assert.Equal(t, "SHORT", *saved.Direction)
	require.NotNil(t, saved.Ticker)
	assert.Equal(t, "BTCUSDT", *saved.Ticker)
}

func TestProcessBuffersOnWhitelistCheckFailure(t *testing.T) {
	channels := &fakeChannelStore{err: errStoreDown}
	messages := newFakeMessageStore()
	p := newTestProcessor(channels, messages, nil)

	result := p.Process(context.Background(), testUpstreamMessage(-1001, 1, "text"))

	assert.Nil(t, result)
	require.Eventually(t, func() bool { return p.BufferLen() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestProcessHistoryReportsOutcomes(t *testing.T) {
	normalized := NormalizeChatID(-1001)
	channels := &fakeChannelStore{active: map[int64]bool{normalized: true}}
	messages := newFakeMessageStore()
	p := newTestProcessor(channels, messages, nil)

	msg := testUpstreamMessage(-1001, 9, "text")

	saved, duplicate := p.ProcessHistory(context.Background(), msg)
	assert.True(t, saved)
	assert.False(t, duplicate)

	saved, duplicate = p.ProcessHistory(context.Background(), msg)
	assert.False(t, saved)
	assert.True(t, duplicate)
}

func TestBuildInputProjectsParsedSignal(t *testing.T) {
	text := "🟢 #ETHUSDT BINANCE, T12:00:00 UTC\n**Entry:** 2215.5\n**Targets:** 2230, 2250\n**Stop-Loss 0.5%:** 2204.4"
	msg := testUpstreamMessage(-1001, 1, text)
	parsed := signal.NewParser().Parse(msg)
	require.NotNil(t, parsed)

	input := buildInput("fp", -1001, msg, parsed)

	require.NotNil(t, input.Direction)
	assert.Equal(t, "LONG", *input.Direction)
	require.NotNil(t, input.Ticker)
	assert.Equal(t, "ETHUSDT", *input.Ticker)
	require.NotNil(t, input.EntryPrice)
	assert.Equal(t, 2215.5, *input.EntryPrice)
	require.NotNil(t, input.StopLoss)
	assert.Equal(t, 2204.4, *input.StopLoss)
	require.NotNil(t, input.TakeProfit)
	assert.Equal(t, 2230.0, *input.TakeProfit)
	assert.NotEmpty(t, input.ParsedSignal)
}

func TestToProcessedMessagePrefersOriginalTimestamp(t *testing.T) {
	original := time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC)
	row := &store.Message{
		ID:                5,
		ContentText:       "text",
		OriginalTimestamp: &original,
		CreatedAt:         time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC),
	}

	out := ToProcessedMessage(row, "Signals", nil)

	assert.Equal(t, int64(5), out.ID)
	assert.Equal(t, "Signals", out.Channel)
	assert.Equal(t, original.Unix(), out.Timestamp)
}
