package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider delivers one rendered message and returns the provider's message
// id, which later delivery webhooks refer to.
type Provider interface {
	Send(ctx context.Context, recipient, message string) (string, error)
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
}

func NewProvider(channel string, cfg ProviderConfig) Provider {
	switch cfg.Kind {
	case "", "stub", "log":
		return logProvider{channel: channel}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			log.Printf("notify channel=%s webhook url missing, falling back to log", channel)
			return logProvider{channel: channel}
		}
		return newWebhookProvider(channel, cfg.WebhookURL, cfg.WebhookToken)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(channel, cfg.Kind, cfg.WebhookToken)
		}
		return logProvider{channel: channel}
	}
}

type logProvider struct {
	channel string
}

func (p logProvider) Send(ctx context.Context, recipient, message string) (string, error) {
	id := uuid.NewString()
	log.Printf("notify send channel=%s recipient=%s message_id=%s: %s", p.channel, maskRecipient(recipient), id, message)
	return id, nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, recipient, message string) (string, error) {
	return uuid.NewString(), nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, recipient, message string) (string, error) {
	return "", errors.New("provider failure")
}

type webhookProvider struct {
	channel string
	url     string
	token   string
	client  *http.Client
}

func newWebhookProvider(channel, url, token string) webhookProvider {
	return webhookProvider{
		channel: channel,
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p webhookProvider) Send(ctx context.Context, recipient, message string) (string, error) {
	payload := map[string]string{
		"channel":   p.channel,
		"recipient": recipient,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}

	var ack struct {
		MessageID string `json:"message_id"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ack)
	}
	if ack.MessageID == "" {
		ack.MessageID = uuid.NewString()
	}
	return ack.MessageID, nil
}

func maskRecipient(recipient string) string {
	if len(recipient) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(recipient)-4) + recipient[len(recipient)-4:]
}
