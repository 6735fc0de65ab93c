package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tradewire/signal-relay/internal/logger"
)

const historyRequestTimeout = 30 * time.Second

// HistoryProcessor is the pipeline a backfill feeds. The loader's processor
// runs with broadcasting disabled; backfills must not reach live subscribers.
type HistoryProcessor interface {
	ProcessHistory(ctx context.Context, msg Message) (saved bool, duplicate bool)
}

// HistoryResult totals one backfill run.
type HistoryResult struct {
	Loaded     int `json:"loaded"`
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
}

// HistoryLoader pulls past messages from the capture service's backfill
// endpoint and runs them through the pipeline.
type HistoryLoader struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	processor HistoryProcessor
	logger    *logger.Logger
}

func NewHistoryLoader(wsURL, apiKey string, processor HistoryProcessor, log *logger.Logger) *HistoryLoader {
	return &HistoryLoader{
		baseURL:   httpBaseURL(wsURL),
		apiKey:    apiKey,
		client:    &http.Client{Timeout: historyRequestTimeout},
		processor: processor,
		logger:    log.WithComponent("history_loader"),
	}
}

// httpBaseURL rewrites the capture service's socket URL into its HTTP base:
// scheme swapped, the socket path dropped.
func httpBaseURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}

// Load backfills one channel. A limit of 0 means all available messages.
func (l *HistoryLoader) Load(ctx context.Context, chatID int64, limit int) (*HistoryResult, error) {
	reqURL := fmt.Sprintf("%s/messages?chat_id=%s", l.baseURL, strconv.FormatInt(chatID, 10))
	if limit > 0 {
		reqURL += "&limit=" + strconv.Itoa(limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build backfill request: %w", err)
	}
	req.Header.Set("X-API-Key", l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backfill request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("backfill request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode backfill response: %w", err)
	}

	result := &HistoryResult{Loaded: len(payload.Messages)}
	for _, msg := range payload.Messages {
		saved, duplicate := l.processor.ProcessHistory(ctx, msg)
		if saved {
			result.Saved++
		}
		if duplicate {
			result.Duplicates++
		}
	}

	l.logger.Info("history backfill finished",
		slog.Int64("chat_id", chatID),
		slog.Int("loaded", result.Loaded),
		slog.Int("saved", result.Saved),
		slog.Int("duplicates", result.Duplicates))

	return result, nil
}
