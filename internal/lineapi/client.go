// Package lineapi is a minimal LINE Messaging API client covering the calls
// the bot needs: reply, push, profile lookup, message content download, and
// the loading indicator.
package lineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIBase  = "https://api.line.me"
	defaultDataBase = "https://api-data.line.me"
	defaultTimeout  = 10 * time.Second

	// Message content can be several megabytes for images.
	maxContentBytes = 16 << 20
)

// ErrRequestFailed wraps non-2xx responses from the platform.
var ErrRequestFailed = errors.New("line api request failed")

// Client talks to the LINE Messaging API.
type Client struct {
	httpClient   *http.Client
	apiBase      string
	dataBase     string
	channelToken string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) { client.httpClient = httpClient }
}

// WithBaseURLs overrides the API endpoints, for tests.
func WithBaseURLs(apiBase string, dataBase string) Option {
	return func(client *Client) {
		client.apiBase = apiBase
		client.dataBase = dataBase
	}
}

// NewClient returns a Client authenticated with the channel access token.
func NewClient(channelToken string, options ...Option) (*Client, error) {
	if channelToken == "" {
		return nil, errors.New("channel token is required")
	}
	client := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		apiBase:      defaultAPIBase,
		dataBase:     defaultDataBase,
		channelToken: channelToken,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Message is one outgoing message object.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextMessage builds a text message.
func TextMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

// ReplyMessage answers a webhook event using its reply token.
func (client *Client) ReplyMessage(ctx context.Context, replyToken string, messages ...Message) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	}
	return client.postJSON(ctx, client.apiBase+"/v2/bot/message/reply", payload)
}

// PushMessage sends messages to a user or group outside a reply window.
func (client *Client) PushMessage(ctx context.Context, to string, messages ...Message) error {
	payload := map[string]any{
		"to":       to,
		"messages": messages,
	}
	return client.postJSON(ctx, client.apiBase+"/v2/bot/message/push", payload)
}

// Profile is the subset of the user profile the bot uses.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

// GetProfile fetches a user's display profile.
func (client *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.apiBase+"/v2/bot/profile/"+userID, nil)
	if err != nil {
		return Profile{}, err
	}
	client.authorize(request)
	response, err := client.httpClient.Do(request)
	if err != nil {
		return Profile{}, err
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return Profile{}, statusError(response)
	}
	var profile Profile
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// GetMessageContent downloads the binary content of a message (slip images).
func (client *Client) GetMessageContent(ctx context.Context, messageID string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.dataBase+"/v2/bot/message/"+messageID+"/content", nil)
	if err != nil {
		return nil, err
	}
	client.authorize(request)
	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return nil, statusError(response)
	}
	return io.ReadAll(io.LimitReader(response.Body, maxContentBytes))
}

// StartLoading shows the typing indicator in the user's chat. Failures are
// cosmetic; callers may ignore the error.
func (client *Client) StartLoading(ctx context.Context, chatID string, seconds int) error {
	if seconds <= 0 {
		seconds = 20
	}
	payload := map[string]any{
		"chatId":         chatID,
		"loadingSeconds": seconds,
	}
	return client.postJSON(ctx, client.apiBase+"/v2/bot/chat/loading/start", payload)
}

func (client *Client) postJSON(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	client.authorize(request)
	response, err := client.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return statusError(response)
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func (client *Client) authorize(request *http.Request) {
	request.Header.Set("Authorization", "Bearer "+client.channelToken)
}

func statusError(response *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(response.Body, 2048))
	return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, response.StatusCode, bytes.TrimSpace(detail))
}
