package forumchat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is returned when the REST API answers with a non-200 code.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// APIResult is the common REST response wrapper: {code, message, data}.
type APIResult struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the server accepted the request.
func (r *APIResult) OK() bool { return r.Code == 200 }

// Decode unmarshals Data into v.
func (r *APIResult) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("no data in response")
	}
	return json.Unmarshal(r.Data, v)
}

// Err converts a non-OK result into an *APIError.
func (r *APIResult) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{Code: r.Code, Message: r.Message}
}

// ID is a server identifier. The server may encode ids as JSON numbers or
// strings; both decode to the same textual form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Timestamp accepts RFC 3339 strings, zone-less ISO strings (read as local
// time) and epoch milliseconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// ============================================================================
// Chat Types
// ============================================================================

// Message is one chat line. IsOwn is derived locally and never read from the wire.
type Message struct {
	ID        ID        `json:"id"`
	UserID    ID        `json:"user_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at"`
	IsOwn     bool      `json:"-"`
}

// OnlineUser is an entry of the server-authoritative online list.
type OnlineUser struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// PresencePayload is carried by user_joined and user_left envelopes.
type PresencePayload struct {
	UserID   ID           `json:"user_id"`
	Username string       `json:"username"`
	Users    []OnlineUser `json:"users"`
}

// ServerErrorPayload is carried by error envelopes.
type ServerErrorPayload struct {
	Message string `json:"message"`
}

// HistoryPage is the data section of a history response.
type HistoryPage struct {
	List  []Message `json:"list"`
	Total int       `json:"total,omitempty"`
}

// ============================================================================
// Wire Envelope
// ============================================================================

// EnvelopeType is the closed set of envelope kinds.
type EnvelopeType string

const (
	TypeMessage     EnvelopeType = "message"
	TypeUserJoined  EnvelopeType = "user_joined"
	TypeUserLeft    EnvelopeType = "user_left"
	TypeOnlineUsers EnvelopeType = "online_users"
	TypeError       EnvelopeType = "error"
)

// Envelope is the wire unit for every inbound and outbound frame.
type Envelope struct {
	Type    EnvelopeType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Content string `json:"content"`
}

// NewMessageEnvelope builds the outbound {type:"message", payload:{content}} envelope.
func NewMessageEnvelope(content string) Envelope {
	payload, _ := json.Marshal(outboundMessage{Content: content})
	return Envelope{Type: TypeMessage, Payload: payload}
}
