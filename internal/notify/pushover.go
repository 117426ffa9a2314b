package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jandubois/dchealth/internal/config"
)

// pushoverAPI is the Pushover message endpoint.
const pushoverAPI = "https://api.pushover.net/1/messages.json"

// pushoverMaxMessage is Pushover's message length limit.
const pushoverMaxMessage = 1024

// PushoverChannel sends notifications via Pushover.
type PushoverChannel struct {
	APIToken string
	UserKey  string
	endpoint string
	client   *http.Client
}

// NewPushoverChannel creates a new Pushover notification channel.
func NewPushoverChannel(cfg config.PushoverConfig) *PushoverChannel {
	return &PushoverChannel{
		APIToken: cfg.APIToken,
		UserKey:  cfg.UserKey,
		endpoint: pushoverAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Type returns the channel type.
func (p *PushoverChannel) Type() string {
	return "pushover"
}

// Send sends a notification via Pushover.
func (p *PushoverChannel) Send(ctx context.Context, msg *Message) error {
	body := truncateMessage(msg.Body, pushoverMaxMessage)
	data := url.Values{
		"token":   {p.APIToken},
		"user":    {p.UserKey},
		"title":   {msg.Title},
		"message": {body},
	}
	if msg.URL != "" {
		data.Set("url", msg.URL)
	}

	switch msg.Priority {
	case PriorityLow:
		data.Set("priority", "-1")
	case PriorityNormal:
		data.Set("priority", "0")
	case PriorityHigh:
		data.Set("priority", "1")
	case PriorityUrgent:
		data.Set("priority", "2")
		data.Set("retry", "60")
		data.Set("expire", "3600")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}

	return nil
}

// truncateMessage cuts s to at most max bytes, ending on a rune boundary.
func truncateMessage(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
