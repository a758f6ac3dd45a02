// Package pipeline watches ingested webhook events and raises an alert when
// an issue misses its response or close target.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/metrics"
	"github.com/jacklau/issuesla/internal/notify"
	"github.com/jacklau/issuesla/internal/pubsub"
	"github.com/jacklau/issuesla/internal/store"
)

// PipelineDeps holds the dependencies for the Pipeline.
type PipelineDeps struct {
	Store    store.Store
	Broker   *pubsub.Broker[github.WebhookEvent]
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline turns ingestion events into SLA breach notifications.
type Pipeline struct {
	deps PipelineDeps
}

// New creates a new Pipeline with the given dependencies.
func New(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps}
}

// Run processes webhook events until the context is cancelled. Synced events
// are never delivered here so a backfill does not replay old breaches.
func (p *Pipeline) Run(ctx context.Context) error {
	events := p.deps.Broker.Subscribe(ctx, pubsub.Ingested)
	p.deps.Logger.Info("pipeline started, listening for events")

	for {
		select {
		case <-ctx.Done():
			p.deps.Logger.Info("pipeline shutting down", "reason", ctx.Err())
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				p.deps.Logger.Info("event channel closed")
				return nil
			}
			p.handleEvent(ctx, evt.Payload)
		}
	}
}

func (p *Pipeline) handleEvent(ctx context.Context, evt github.WebhookEvent) {
	logger := p.deps.Logger.With(
		"repo", evt.Repo,
		"issue", evt.Issue.Number,
		"kind", evt.Kind.String(),
	)

	msg, err := p.Check(ctx, evt)
	if err != nil {
		logger.Error("failed to check issue", "error", err)
		return
	}
	if msg == nil {
		return
	}

	logger.Info("target missed", "title", msg.Title)
	if p.deps.Notifier == nil {
		return
	}
	if err := p.deps.Notifier.Notify(ctx, *msg); err != nil {
		logger.Error("notification failed", "error", err)
	}
}

// Check reports the breach message for evt, or nil when evt does not
// complete a late response or a late close.
func (p *Pipeline) Check(ctx context.Context, evt github.WebhookEvent) (*notify.Message, error) {
	switch evt.Kind {
	case github.EventCommentCreated, github.EventIssueClosed:
	default:
		return nil, nil
	}

	si, err := p.deps.Store.GetIssue(ctx, evt.Issue.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading issue %d: %w", evt.Issue.ID, err)
	}
	issue := github.FromStoreIssue(*si, evt.Repo)
	if issue.URL == "" {
		issue.URL = evt.Issue.URL
	}
	eval := metrics.Evaluate(issue, p.deps.Now())

	if evt.Kind == github.EventIssueClosed {
		return lateClose(issue, eval), nil
	}
	return lateResponse(issue, evt.Comment, eval), nil
}

// lateResponse fires only for the comment that is the first core team
// response on a community issue.
func lateResponse(issue github.Issue, c *github.Comment, eval metrics.Evaluation) *notify.Message {
	f := eval.Facts
	if c == nil || f.CoreTeamAuthored || !f.Responded() {
		return nil
	}
	if f.CoreTeamComments[0].ID != c.ID {
		return nil
	}
	if f.FirstResponseDelay < metrics.ResponseTarget {
		return nil
	}
	return &notify.Message{
		Title: fmt.Sprintf("#%d first response after %s", issue.Number, metrics.FormatDelay(f.FirstResponseDelay)),
		URL:   issue.URL,
		Repo:  issue.Repo,
		Fields: []notify.Field{
			{Name: "Target", Value: metrics.FormatDelay(metrics.ResponseTarget)},
			{Name: "Responder", Value: c.Author},
			{Name: "Author", Value: issue.Author},
		},
		Body:  notify.Truncate(issue.Title, 200),
		Alert: true,
	}
}

func lateClose(issue github.Issue, eval metrics.Evaluation) *notify.Message {
	if !eval.Facts.Closed || eval.Close.Met() {
		return nil
	}
	return &notify.Message{
		Title: fmt.Sprintf("#%d closed after %s", issue.Number, metrics.FormatDelay(eval.Facts.CloseDelay)),
		URL:   issue.URL,
		Repo:  issue.Repo,
		Fields: []notify.Field{
			{Name: "Target", Value: metrics.FormatDelay(metrics.CloseTarget)},
			{Name: "Author", Value: issue.Author},
			{Name: "Comments", Value: fmt.Sprint(len(issue.Comments))},
		},
		Body:  notify.Truncate(issue.Title, 200),
		Alert: true,
	}
}
