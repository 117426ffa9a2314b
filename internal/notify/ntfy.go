package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jandubois/dchealth/internal/config"
)

// NtfyChannel sends notifications via ntfy.sh or self-hosted ntfy.
type NtfyChannel struct {
	ServerURL string
	Topic     string
	Token     string // Optional auth token
	client    *http.Client
}

// NewNtfyChannel creates a new ntfy notification channel.
func NewNtfyChannel(cfg config.NtfyConfig) *NtfyChannel {
	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = "https://ntfy.sh"
	}
	return &NtfyChannel{
		ServerURL: strings.TrimSuffix(serverURL, "/"),
		Topic:     cfg.Topic,
		Token:     cfg.Token,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Type returns the channel type.
func (n *NtfyChannel) Type() string {
	return "ntfy"
}

// Send publishes msg as JSON to the server root; the topic travels in the body.
func (n *NtfyChannel) Send(ctx context.Context, msg *Message) error {
	payload := map[string]any{
		"topic":    n.Topic,
		"title":    msg.Title,
		"message":  msg.Body,
		"priority": ntfyPriority(msg.Priority),
	}
	if len(msg.Tags) > 0 {
		payload["tags"] = msg.Tags
	}
	if msg.URL != "" {
		payload["click"] = msg.URL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.ServerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}

	return nil
}

func ntfyPriority(p Priority) int {
	switch p {
	case PriorityLow:
		return 2
	case PriorityHigh:
		return 4
	case PriorityUrgent:
		return 5
	default:
		return 3
	}
}
