package lineapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrBadSignature rejects webhook deliveries whose signature does not match.
var ErrBadSignature = errors.New("webhook signature mismatch")

// Event types delivered over the webhook.
const (
	EventTypeMessage = "message"
	EventTypeFollow  = "follow"
	EventTypeJoin    = "join"

	MessageTypeText  = "text"
	MessageTypeImage = "image"

	SourceTypeUser  = "user"
	SourceTypeGroup = "group"
	SourceTypeRoom  = "room"
)

// WebhookBody is the envelope LINE posts to the webhook endpoint.
type WebhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one webhook event.
type Event struct {
	Type       string        `json:"type"`
	ReplyToken string        `json:"replyToken"`
	Timestamp  int64         `json:"timestamp"`
	Source     EventSource   `json:"source"`
	Message    *EventMessage `json:"message,omitempty"`
}

// EventSource identifies where an event came from.
type EventSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// ChatID returns the id push messages should target for this source.
func (source EventSource) ChatID() string {
	switch source.Type {
	case SourceTypeGroup:
		return source.GroupID
	case SourceTypeRoom:
		return source.RoomID
	}
	return source.UserID
}

// EventMessage is the message payload of a message event.
type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ValidateSignature checks the X-Line-Signature header against the raw body
// using the channel secret.
func ValidateSignature(channelSecret string, body []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// ParseWebhook validates the signature and decodes the webhook body.
func ParseWebhook(channelSecret string, body []byte, signature string) (WebhookBody, error) {
	if err := ValidateSignature(channelSecret, body, signature); err != nil {
		return WebhookBody{}, err
	}
	var parsed WebhookBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return WebhookBody{}, err
	}
	return parsed, nil
}
