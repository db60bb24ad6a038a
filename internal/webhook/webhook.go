// Package webhook delivers best-effort status-change callbacks to agents.
//
// Delivery is attempted once with a bounded timeout. Failures are logged and
// counted but never returned to the caller, never retried and never persisted.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/metrics"
	"github.com/sipico/comms-gateway/internal/storage"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// DefaultUserAgent identifies the gateway to webhook receivers.
const DefaultUserAgent = "comms-gateway/1.0"

// ErrInvalidURL is returned for webhook URLs that are not http or https.
var ErrInvalidURL = errors.New("webhook URL must start with http:// or https://")

// ValidateURL checks that raw is an http or https URL.
func ValidateURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return ErrInvalidURL
	}
	return nil
}

// Payload is the JSON body POSTed to a webhook.
type Payload struct {
	ActionID     string          `json:"action_id"`
	Status       message.Status  `json:"status"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Recipient    string          `json:"recipient"`
	Channel      message.Channel `json:"channel"`
}

// Result is the outcome of a notification.
type Result int

const (
	Delivered Result = iota
	NoWebhook
	Failed
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NoWebhook:
		return "no_webhook"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// KeyLookup resolves the key that owns a message.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, id int64) (*storage.APIKey, error)
}

// Notifier posts status changes to the webhook of the owning key.
type Notifier struct {
	keys       KeyLookup
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient sets a custom HTTP client. Its Timeout bounds each delivery
// unless WithTimeout is also given. The client itself is never modified.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		n.httpClient = client
	}
}

// WithTimeout replaces the per-delivery timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.timeout = d
	}
}

// WithUserAgent sets the User-Agent header of deliveries.
func WithUserAgent(ua string) Option {
	return func(n *Notifier) {
		n.userAgent = ua
	}
}

// WithLogger sets the logger; deliveries are also traced through a
// LoggingTransport at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier creates a Notifier with a 10 second timeout.
func NewNotifier(keys KeyLookup, opts ...Option) *Notifier {
	n := &Notifier{
		keys:      keys,
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.httpClient == nil {
		n.httpClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: &LoggingTransport{Logger: n.logger},
		}
	}
	if n.timeout > 0 {
		client := *n.httpClient
		client.Timeout = n.timeout
		n.httpClient = &client
	}
	return n
}

// Notify reports the current state of e to its key's webhook, if any.
// It returns once the attempt completes or times out; cancellation of ctx
// does not abort a delivery that has already been decided on.
func (n *Notifier) Notify(ctx context.Context, e *storage.QueueEntry) Result {
	result := n.notify(ctx, e)
	metrics.RecordWebhookDelivery(result.String())
	return result
}

func (n *Notifier) notify(ctx context.Context, e *storage.QueueEntry) Result {
	key, err := n.keys.GetAPIKey(ctx, e.APIKeyID)
	if err != nil {
		n.logger.Warn("webhook skipped: key lookup failed", "action_id", e.ID, "key_id", e.APIKeyID, "error", err)
		return Failed
	}
	if key.WebhookURL == nil || *key.WebhookURL == "" {
		return NoWebhook
	}

	url := *key.WebhookURL
	if err := ValidateURL(url); err != nil {
		n.logger.Warn("webhook skipped", "action_id", e.ID, "key_id", key.ID, "error", err)
		return Failed
	}

	body, err := json.Marshal(Payload{
		ActionID:     e.ID,
		Status:       e.Status,
		SentAt:       e.SentAt,
		ErrorMessage: e.ErrorMessage,
		Recipient:    e.RecipientAddress,
		Channel:      e.Channel,
	})
	if err != nil {
		n.logger.Error("failed to encode webhook payload", "action_id", e.ID, "error", err)
		return Failed
	}

	if err := n.post(context.WithoutCancel(ctx), url, body); err != nil {
		n.logger.Warn("webhook delivery failed", "action_id", e.ID, "key_id", key.ID, "status", e.Status.String(), "error", err)
		return Failed
	}

	n.logger.Info("webhook delivered", "action_id", e.ID, "key_id", key.ID, "status", e.Status.String())
	return Delivered
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
