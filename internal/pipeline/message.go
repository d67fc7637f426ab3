package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Known message types.
const (
	TypeFriendOnline   = "friend-online"
	TypeFriendOffline  = "friend-offline"
	TypeFriendLocation = "friend-location"
	TypeFriendActive   = "friend-active"
	TypeFriendAdd      = "friend-add"
	TypeFriendDelete   = "friend-delete"
	TypeFriendUpdate   = "friend-update"
	TypeNotification   = "notification"
	TypeUserUpdate     = "user-update"
	TypeUserLocation   = "user-location"
)

// Errors
var (
	ErrMissingType = errors.New("pipeline message has no type")
	ErrBadContent  = errors.New("pipeline content is not valid JSON")
)

// Message is one decoded pipeline frame.
type Message struct {
	ID         uuid.UUID
	Type       string
	Content    json.RawMessage
	ReceivedAt time.Time
}

type envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

var emptyContent = json.RawMessage(`{}`)

// Decode parses a pipeline frame received at receivedAt.
func Decode(data []byte, receivedAt time.Time) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Message{}, ErrMissingType
	}

	content, err := normalizeContent(env.Content)
	if err != nil {
		return Message{}, fmt.Errorf("decode %s content: %w", env.Type, err)
	}

	return Message{
		ID:         uuid.New(),
		Type:       env.Type,
		Content:    content,
		ReceivedAt: receivedAt,
	}, nil
}

// normalizeContent unwraps string-encoded JSON and returns a compact JSON value.
func normalizeContent(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emptyContent, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return emptyContent, nil
		}
		if !json.Valid([]byte(s)) {
			return nil, ErrBadContent
		}
		raw = []byte(s)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContent, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Field returns a top-level string field of the content, or "" when the
// content is not an object or the field is missing or not a string.
func (m Message) Field(key string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(m.Content, &obj); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(obj[key], &s); err != nil {
		return ""
	}
	return s
}

// UserID returns content.userId.
func (m Message) UserID() string {
	return m.Field("userId")
}

// Location returns content.location.
func (m Message) Location() string {
	return m.Field("location")
}

// DisplayName returns content.user.displayName, if present.
func (m Message) DisplayName() string {
	var c struct {
		User struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	}
	if err := json.Unmarshal(m.Content, &c); err != nil {
		return ""
	}
	return c.User.DisplayName
}

// Summary renders m on one line for logs and the CLI.
func Summary(m Message) string {
	var b strings.Builder
	b.WriteString(m.ReceivedAt.Format(time.DateTime))
	b.WriteString("  ")
	b.WriteString(m.Type)

	who := m.DisplayName()
	if who == "" {
		who = m.UserID()
	}
	if who != "" {
		b.WriteString(" user=")
		b.WriteString(who)
	}
	if loc := m.Location(); loc != "" {
		b.WriteString(" location=")
		b.WriteString(loc)
	}
	return b.String()
}
