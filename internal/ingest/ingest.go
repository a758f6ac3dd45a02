// Package ingest writes parsed webhook deliveries to the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/pubsub"
	"github.com/jacklau/issuesla/internal/store"
)

// ErrInvalidEvent is returned for events that cannot be stored.
var ErrInvalidEvent = errors.New("invalid event")

// Ingester applies webhook events to the store and announces them on the broker.
type Ingester struct {
	store  store.Store
	broker *pubsub.Broker[github.WebhookEvent]
	logger *slog.Logger
}

// New creates an Ingester. broker may be nil.
func New(st store.Store, broker *pubsub.Broker[github.WebhookEvent], logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: st, broker: broker, logger: logger}
}

// Handle stores the issue snapshot carried by evt and, for comment events,
// the comment with its parent issue created or refreshed in one transaction.
// Pings are accepted without touching the store.
func (in *Ingester) Handle(ctx context.Context, evt github.WebhookEvent) error {
	if evt.Kind == github.EventPing {
		in.logger.Info("webhook ping received", "delivery", evt.DeliveryID)
		return nil
	}

	owner, name, err := github.SplitRepo(evt.Repo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if evt.Issue.ID == 0 {
		return fmt.Errorf("%w: issue without id", ErrInvalidEvent)
	}

	repo, err := in.store.EnsureRepo(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("ensuring repo %s: %w", evt.Repo, err)
	}

	issue := github.ToStoreIssue(evt.Issue, repo.ID)
	logger := in.logger.With("repo", evt.Repo, "issue", evt.Issue.Number, "kind", evt.Kind.String())

	switch evt.Kind {
	case github.EventCommentCreated:
		if evt.Comment == nil || evt.Comment.ID == 0 {
			return fmt.Errorf("%w: comment event without comment", ErrInvalidEvent)
		}
		comment := github.ToStoreComment(*evt.Comment, evt.Issue.ID)
		if err := in.store.AddComment(ctx, issue, comment); err != nil {
			return fmt.Errorf("adding comment %d: %w", comment.ID, err)
		}
		logger.Debug("comment stored", "comment", comment.ID, "author", comment.Author)
	default:
		if err := in.store.UpsertIssue(ctx, issue); err != nil {
			return fmt.Errorf("upserting issue #%d: %w", issue.Number, err)
		}
		logger.Debug("issue stored", "action", evt.Action)
	}

	if in.broker != nil {
		in.broker.Publish(pubsub.Ingested, evt)
	}
	return nil
}
