package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/optcgph/marketplace/escrow/model"
)

// LogNotifier delivers notification intents to the service log only. Used in
// local environments and as the fallback when no webhook is configured.
type LogNotifier struct{}

// Notify implements NotificationWorker.
func (LogNotifier) Notify(ctx context.Context, notif *model.Notification) error {
	zerolog.Ctx(ctx).Info().
		Str("notification_id", notif.ID.String()).
		Str("user_id", notif.UserID.String()).
		Str("type", notif.Type).
		Str("title", notif.Title).
		Msg("notification delivered")
	return nil
}

// WebhookNotifier delivers notification intents by POSTing them to the
// configured endpoint. A non-2xx response is an error so the outbox row stays
// unsent and is retried.
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the passed endpoint
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify implements NotificationWorker.
func (w *WebhookNotifier) Notify(ctx context.Context, notif *model.Notification) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return errors.Wrap(err, "error marshalling notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "error creating notification request")
	}
	req.Header.Set("content-type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "error delivering notification")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("notification endpoint returned %d", resp.StatusCode)
	}

	return nil
}
