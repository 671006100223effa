package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/observability/notify"
)

var _ notify.Sink = (*Client)(nil)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// RetryDelay is the base linear backoff between attempts (200ms when zero).
	RetryDelay time.Duration
}

// Client delivers security notices to a Slack incoming webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	retryLimit int
	retryDelay time.Duration
	client     *http.Client
}

// NewClient builds a Slack webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   fallbackString(strings.TrimSpace(cfg.Username), "driptech-admin"),
		retryLimit: max(cfg.RetryLimit, 0),
		retryDelay: delay,
		client:     hc,
	}, nil
}

// SendSecurityNotice posts a formatted message to Slack, retrying with linear backoff.
func (c *Client) SendSecurityNotice(ctx context.Context, notice notify.SecurityNotice) error {
	body, err := json.Marshal(c.formatMessage(notice))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			timer := time.NewTimer(time.Duration(attempt+1) * c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}

func (c *Client) formatMessage(notice notify.SecurityNotice) map[string]any {
	timestamp := notice.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	text := strings.Builder{}
	text.WriteString(levelEmoji(notice.Level))
	text.WriteString(" *Admin session notice*")
	if notice.Kind != "" {
		text.WriteString(" `")
		text.WriteString(string(notice.Kind))
		text.WriteByte('`')
	}
	text.WriteByte('\n')
	appendSlackField(&text, "Title", escapeSlackText(notice.Title))
	appendSlackField(&text, "Message", escapeSlackText(notice.Message))
	appendSlackMetadata(&text, notice.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func levelEmoji(l domainauth.Level) string {
	switch l {
	case domainauth.LevelError:
		return ":red_circle:"
	case domainauth.LevelWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return handleErrorResponse(resp)
	}
	return drainSlackSuccess(resp)
}

func escapeSlackText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func drainSlackSuccess(resp *http.Response) error {
	_, copyErr := io.Copy(io.Discard, resp.Body)
	closeErr := resp.Body.Close()
	if copyErr != nil {
		copyErr = fmt.Errorf("drain slack response body: %w", copyErr)
	}
	if closeErr != nil {
		closeErr = fmt.Errorf("close response body: %w", closeErr)
	}
	return errors.Join(copyErr, closeErr)
}

func handleErrorResponse(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return errors.Join(
			fmt.Errorf("read slack error response: %w", readErr),
			closeErr,
		)
	}
	if closeErr != nil {
		return fmt.Errorf("close response body: %w", closeErr)
	}
	return fmt.Errorf("slack webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}

func appendSlackField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func appendSlackMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		appendSlackField(text, k, escapeSlackText(metadata[k]))
	}
}
