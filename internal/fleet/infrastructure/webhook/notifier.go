package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleet-dashboard/internal/fleet/application"
)

// Notifier forwards error toasts to a chat webhook. Refresh ticks and
// non-error toasts are ignored.
type Notifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

type payload struct {
	MsgType string      `json:"msgtype"`
	Text    payloadText `json:"text"`
}

type payloadText struct {
	Content string `json:"content"`
}

// Option configures the notifier.
type Option func(*Notifier)

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithLogger assigns a logger for delivery failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(url string, opts ...Option) (*Notifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook: empty url")
	}
	n := &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.Notifier. Delivery runs in the background so a
// slow webhook never delays the request that failed.
func (n *Notifier) Notify(ctx context.Context, msg application.Notification) {
	if n == nil || msg.Kind != application.KindToast || msg.Level != application.LevelError {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := n.Send(ctx, msg); err != nil {
			n.logger.Warn().Err(err).Str("source", msg.Source).Msg("webhook delivery failed")
		}
	}()
}

// Send posts one notification synchronously.
func (n *Notifier) Send(ctx context.Context, msg application.Notification) error {
	body, err := json.Marshal(payload{
		MsgType: "text",
		Text:    payloadText{Content: formatMessage(msg)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: http %d", resp.StatusCode)
	}
	return nil
}

func formatMessage(msg application.Notification) string {
	var b strings.Builder
	b.WriteString("[Fleet Dashboard]\n")
	if msg.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", msg.Source)
	}
	if msg.Level != "" {
		fmt.Fprintf(&b, "Level: %s\n", msg.Level)
	}
	if msg.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", msg.Message)
	}
	return strings.TrimSpace(b.String())
}
