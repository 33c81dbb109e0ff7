// Package chat talks to the group chat provider: fetching recent group
// messages and posting replies through the bot endpoint.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"shiftwatch/internal/logging"
	"shiftwatch/internal/services"
)

const (
	defaultFetchLimit = 20
	maxFetchLimit     = 100
)

// Message is one inbound group message as reported by the provider.
type Message struct {
	ID         string `json:"id"`
	GroupID    string `json:"group_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"name"`
	SenderType string `json:"sender_type"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"created_at"`
	System     bool   `json:"system"`
}

// Config carries the chat provider settings.
type Config struct {
	APIBaseURL     string
	APIToken       string
	GroupID        string
	BotID          string
	BotName        string
	TimeoutSeconds int
	PostingEnabled bool
}

// Client fetches and posts group chat messages.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a chat client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.WithComponent(logger, "chat"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type fetchEnvelope struct {
	Meta struct {
		Code int `json:"code"`
	} `json:"meta"`
	Response struct {
		Messages []Message `json:"messages"`
	} `json:"response"`
}

// FetchMessages returns up to limit recent group messages in chronological
// order (oldest first). The provider reports newest first; the slice is
// reversed before returning.
func (c *Client) FetchMessages(ctx context.Context, limit int) ([]Message, error) {
	if strings.TrimSpace(c.cfg.GroupID) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "chat", "fetch", "group ID not configured", nil)
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	params := url.Values{}
	params.Set("token", c.cfg.APIToken)
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/groups/%s/messages?%s",
		strings.TrimRight(c.cfg.APIBaseURL, "/"), c.cfg.GroupID, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("chat fetch: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "chat", "fetch", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chat fetch: read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrUnauthorized, "chat", "fetch",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, services.Wrap(services.ErrTransient, "chat", "fetch",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var envelope fetchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("chat fetch: decode response: %w", err)
	}
	if envelope.Meta.Code != 0 && envelope.Meta.Code != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "chat", "fetch",
			fmt.Sprintf("provider code %d", envelope.Meta.Code), nil)
	}

	messages := envelope.Response.Messages
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	c.logger.Debug("fetched group messages", logging.Int("count", len(messages)))
	return messages, nil
}

type botPostRequest struct {
	BotID string `json:"bot_id"`
	Text  string `json:"text"`
}

// SendText posts one message to the group through the bot endpoint. When
// posting is disabled the message is logged and dropped; the caller still
// sees success so workflows advance during rehearsals.
func (c *Client) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("chat send: empty message")
	}
	if !c.cfg.PostingEnabled {
		c.logger.Info("posting disabled, message not sent", logging.String("text", text))
		return nil
	}
	if strings.TrimSpace(c.cfg.BotID) == "" {
		return services.Wrap(services.ErrConfiguration, "chat", "send", "bot ID not configured", nil)
	}

	encoded, err := json.Marshal(botPostRequest{BotID: c.cfg.BotID, Text: text})
	if err != nil {
		return fmt.Errorf("chat send: encode body: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/bots/post"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(encoded)))
	if err != nil {
		return fmt.Errorf("chat send: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "chat", "send", "request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return services.Wrap(services.ErrTransient, "chat", "send",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	c.logger.Info("posted group message", logging.Int("length", len(text)))
	return nil
}

// SendWarning posts text with warning framing.
func (c *Client) SendWarning(ctx context.Context, text string) error {
	return c.SendText(ctx, "WARNING\n"+text)
}

// SendDirect posts one direct message to a user. Used for admin alerts.
func (c *Client) SendDirect(ctx context.Context, recipientID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("chat send direct: empty message")
	}
	if !c.cfg.PostingEnabled {
		c.logger.Info("posting disabled, direct message not sent",
			logging.String("recipient", recipientID))
		return nil
	}

	payload := map[string]any{
		"direct_message": map[string]any{
			"source_guid":  uuid.NewString(),
			"recipient_id": recipientID,
			"text":         text,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chat send direct: encode body: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/direct_messages?token=" + url.QueryEscape(c.cfg.APIToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(encoded)))
	if err != nil {
		return fmt.Errorf("chat send direct: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "chat", "send direct", "request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return services.Wrap(services.ErrTransient, "chat", "send direct",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	return nil
}

// FromBot reports whether msg originated from the bot itself or from the
// platform, rather than a human group member. Queuing those would loop the
// bot's own replies back into intake.
func (c *Client) FromBot(msg Message) bool {
	if msg.System {
		return true
	}
	if msg.SenderType == "bot" {
		return true
	}
	if c.cfg.BotID != "" && msg.SenderID == c.cfg.BotID {
		return true
	}
	if c.cfg.BotName != "" && strings.EqualFold(msg.SenderName, c.cfg.BotName) {
		return true
	}
	return false
}
