package upstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event kinds delivered by the capture service.
const (
	EventNewMessage      = "new_message"
	EventMessageEdited   = "message_edited"
	EventMessagesDeleted = "messages_deleted"
)

// File describes a media attachment on an upstream message.
type File struct {
	FileID   string `json:"file_id"`
	FileType string `json:"file_type"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Timestamp accepts both Unix-second numbers and RFC3339 strings; the capture
// service has emitted both over its lifetime.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return fmt.Errorf("invalid message_date %q: %w", str, err)
		}
		t.Time = parsed
		return nil
	}

	var unix float64
	if err := json.Unmarshal(b, &unix); err != nil {
		return fmt.Errorf("invalid message_date %s: %w", s, err)
	}
	t.Time = time.Unix(int64(unix), 0).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// Message is one captured chat message.
type Message struct {
	MessageID   int64     `json:"message_id"`
	ChatID      int64     `json:"chat_id"`
	ChatTitle   string    `json:"chat_title"`
	Text        string    `json:"text"`
	SenderName  string    `json:"sender_name"`
	MessageDate Timestamp `json:"message_date"`
	HasMedia    bool      `json:"has_media,omitempty"`
	Files       []File    `json:"files,omitempty"`
}

// Event is one frame from the capture service's push interface.
type Event struct {
	Type     string   `json:"type"`
	Message  *Message `json:"message,omitempty"`
	Messages []int64  `json:"messages,omitempty"`
}
