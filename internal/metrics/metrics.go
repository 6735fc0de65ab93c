package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters. Registered on the default registry and served on
// GET /metrics.
var (
	MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_processed_total",
		Help: "Messages persisted and emitted to the broadcaster.",
	})

	MessagesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_filtered_total",
		Help: "Messages dropped by the channel whitelist.",
	})

	MessagesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_duplicate_total",
		Help: "Messages dropped by fingerprint dedupe.",
	})

	SignalsParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_signals_parsed_total",
		Help: "Messages that classified into a signal variant.",
	})

	MessagesBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_buffered_total",
		Help: "Messages appended to the durable buffer after a store failure.",
	})

	BufferEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_buffer_evictions_total",
		Help: "Oldest-first evictions caused by buffer overflow.",
	})

	BufferFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_buffer_flushed_total",
		Help: "Buffered messages persisted by a flush.",
	})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_buffer_size",
		Help: "Current number of items in the durable buffer.",
	})

	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcasts_sent_total",
		Help: "Frames delivered to subscriber connections.",
	})

	SubscriberConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_subscriber_connections",
		Help: "Currently authenticated subscriber connections.",
	})

	UpstreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_upstream_reconnects_total",
		Help: "Reconnect attempts against the capture service.",
	})
)
