package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/processor"
)

func testHub() *Hub {
	return NewHub(false, logger.New(logger.Config{Level: slog.LevelError}))
}

func testConn(id string) *conn {
	return &conn{
		clientID: id,
		authedAt: time.Now(),
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
	}
}

func processed(id int64) processor.ProcessedMessage {
	return processor.ProcessedMessage{ID: id, Channel: "Signals", Text: fmt.Sprintf("msg %d", id)}
}

func drainFrames(t *testing.T, c *conn) []signalFrame {
	t.Helper()
	var frames []signalFrame
	for {
		select {
		case raw := <-c.send:
			var f signalFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHubBroadcastReachesRegisteredConns(t *testing.T) {
	h := testHub()
	a := testConn("a")
	b := testConn("b")
	h.register(a)
	h.register(b)

	h.HandleProcessedMessage(processed(1))

	for _, c := range []*conn{a, b} {
		frames := drainFrames(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "signal", frames[0].Type)
		require.NotNil(t, frames[0].Data)
		assert.Equal(t, int64(1), frames[0].Data.ID)
	}
}

func TestHubReplaysLastTenOldestFirst(t *testing.T) {
	h := testHub()
	for i := int64(1); i <= 15; i++ {
		h.HandleProcessedMessage(processed(i))
	}

	c := testConn("late")
	h.register(c)

	frames := drainFrames(t, c)
	require.Len(t, frames, replayLimit)
	assert.Equal(t, int64(6), frames[0].Data.ID)
	assert.Equal(t, int64(15), frames[len(frames)-1].Data.ID)
}

func TestHubBacklogRingIsBounded(t *testing.T) {
	h := testHub()
	for i := int64(0); i < int64(backlogCapacity)+25; i++ {
		h.HandleProcessedMessage(processed(i))
	}

	assert.Equal(t, backlogCapacity, h.BacklogLen())
}

func TestHubSkipsSlowConn(t *testing.T) {
	h := testHub()
	slow := testConn("slow")
	h.register(slow)

	// Fill the send buffer past capacity; the overflow frames are skipped
	// instead of blocking the broadcast path.
	for i := int64(0); i < int64(sendBufferSize)+10; i++ {
		h.HandleProcessedMessage(processed(i))
	}

	assert.Len(t, slow.send, sendBufferSize)
}

func TestHubUnregisterRemovesConn(t *testing.T) {
	h := testHub()
	c := testConn("a")
	h.register(c)
	require.Equal(t, 1, h.ConnectionCount())

	h.unregister(c)
	assert.Equal(t, 0, h.ConnectionCount())

	select {
	case <-c.closed:
	default:
		t.Fatal("expected closed channel to fire on unregister")
	}

	// Unregistering twice is harmless.
	h.unregister(c)
}

func TestHubShutdownClosesEveryConn(t *testing.T) {
	h := testHub()
	a := testConn("a")
	b := testConn("b")
	h.register(a)
	h.register(b)

	h.Shutdown()

	assert.Equal(t, 0, h.ConnectionCount())
	for _, c := range []*conn{a, b} {
		select {
		case <-c.closed:
		default:
			t.Fatal("expected closed channel to fire on shutdown")
		}
	}
}

func TestHubParsedSignalGatedByFlag(t *testing.T) {
	disabled := testHub()
	c := testConn("a")
	disabled.register(c)
	disabled.HandleParsedSignal(nil)
	assert.Empty(t, drainFrames(t, c))

	enabled := NewHub(true, logger.New(logger.Config{Level: slog.LevelError}))
	c2 := testConn("b")
	enabled.register(c2)
	enabled.HandleParsedSignal(nil)
	frames := drainFrames(t, c2)
	require.Len(t, frames, 1)
	assert.Nil(t, frames[0].Data)
}
