package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jacklau/issuesla/internal/retry"
)

// ErrNotConfigured is returned by NewNotifier when no webhook URL is set.
var ErrNotConfigured = errors.New("no notification webhook configured")

// postAttempts is how many times a webhook post is tried.
const postAttempts = 2

// Notifier delivers a Message to a chat service.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// MultiNotifier sends notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a MultiNotifier from the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify sends msg to every notifier, continuing past failures. The
// returned error joins all individual failures.
func (m *MultiNotifier) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			slog.Warn("notifier error", "notifier", fmt.Sprintf("%T", n), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewNotifier builds a Notifier for whichever webhook URLs are set. With both
// set the result fans out to Slack and Discord.
func NewNotifier(slackURL, discordURL string) (Notifier, error) {
	switch {
	case slackURL != "" && discordURL != "":
		return NewMultiNotifier(NewSlackNotifier(slackURL), NewDiscordNotifier(discordURL)), nil
	case slackURL != "":
		return NewSlackNotifier(slackURL), nil
	case discordURL != "":
		return NewDiscordNotifier(discordURL), nil
	default:
		return nil, ErrNotConfigured
	}
}

// webhookPoster posts JSON bodies to one webhook URL with retry.
type webhookPoster struct {
	name       string
	webhookURL string
	client     *http.Client
	retryBase  time.Duration
}

func newWebhookPoster(name, webhookURL string, timeout time.Duration) webhookPoster {
	return webhookPoster{
		name:       name,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		retryBase:  time.Second,
	}
}

// send posts body, retrying once on network errors and 5xx responses.
// 4xx responses are not retried.
func (p webhookPoster) send(ctx context.Context, body []byte) error {
	policy := retry.Policy{Attempts: postAttempts, Base: p.retryBase}
	err := policy.Do(ctx, func() error {
		return p.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("%s notify failed: %w", p.name, err)
	}
	return nil
}

func (p webhookPoster) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("%s webhook returned %d: %s", p.name, resp.StatusCode, string(respBody))
		if resp.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	}
	return nil
}
