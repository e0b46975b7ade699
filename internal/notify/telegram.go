package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// TelegramSender delivers alerts via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID, using a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the event to the configured chat using the sendMessage API in
// HTML mode: severity marker and bold title, message body, then one
// monospaced key=value line per field. Values are escaped, so fill ids and
// backend error text cannot break the markup.
func (t *TelegramSender) Send(ctx context.Context, e Event) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	var sb strings.Builder
	if e.Severity == SeverityError {
		sb.WriteString("⚠ ")
	}
	fmt.Fprintf(&sb, "<b>%s</b>\n%s", html.EscapeString(e.Title), html.EscapeString(e.Message))
	for _, f := range e.Fields {
		fmt.Fprintf(&sb, "\n<code>%s=%s</code>", html.EscapeString(f.Key), html.EscapeString(f.Value))
	}

	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       sb.String(),
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
