// Package notify delivers escalation messages to people. Delivery is fire
// and forget from the core's point of view: one attempt, bounded by ctx.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/logger"
)

// Message is one escalation announcement.
type Message struct {
	JobID        string                 `json:"job_id"`
	Level        int                    `json:"level"`
	Action       model.EscalationAction `json:"action"`
	State        model.State            `json:"state"`
	Priority     model.Priority         `json:"priority"`
	CustomerTier model.CustomerTier     `json:"customer_tier"`
	TechnicianID string                 `json:"technician_id,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	At           time.Time              `json:"at"`
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log. It never fails.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(l logger.Logger) *LogNotifier {
	return &LogNotifier{log: l.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.log.Warn(ctx, "escalation",
		logger.String("job_id", msg.JobID),
		logger.Int("level", msg.Level),
		logger.String("action", string(msg.Action)),
		logger.String("state", string(msg.State)),
		logger.String("priority", string(msg.Priority)),
		logger.String("technician_id", msg.TechnicianID),
		logger.String("reason", msg.Reason),
	)
	return nil
}

// WebhookNotifier POSTs messages as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookNotifier) {
		if c != nil {
			w.client = c
		}
	}
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{url: url, client: &http.Client{Timeout: 5 * time.Second}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Multi fans a message out to several notifiers. Every notifier is tried;
// the first error is returned.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Dispatch sends msg through n under timeout and wraps any failure in a
// DispatchError.
func Dispatch(ctx context.Context, n Notifier, timeout time.Duration, msg Message) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := n.Notify(ctx, msg); err != nil {
		return &DispatchError{JobID: msg.JobID, Level: msg.Level, Action: string(msg.Action), Err: err}
	}
	return nil
}
