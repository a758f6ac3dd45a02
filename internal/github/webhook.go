package github

import (
	"errors"
	"fmt"

	gogithub "github.com/google/go-github/v60/github"
)

var (
	// ErrUnsupportedEvent is returned for webhook event types that are not ingested.
	ErrUnsupportedEvent = errors.New("unsupported webhook event")

	// ErrIgnoredAction is returned for supported event types whose action
	// does not change stored state (comment edits, issue deletion, PR comments).
	ErrIgnoredAction = errors.New("ignored webhook action")

	// ErrMalformedPayload is returned when a payload is missing required objects.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// SignatureHeader is the request header carrying the HMAC-SHA256 signature.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks signature ("sha256=<hex>") against the HMAC-SHA256 of
// body keyed with secret. The comparison is constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return gogithub.ValidateSignature(signature, body, []byte(secret)) == nil
}

// ParseEvent decodes a webhook delivery of eventType ("issues", "issue_comment"
// or "ping") into a WebhookEvent.
func ParseEvent(eventType, deliveryID string, body []byte) (WebhookEvent, error) {
	evt := WebhookEvent{DeliveryID: deliveryID}

	switch eventType {
	case "ping", "issues", "issue_comment":
	default:
		return evt, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}

	raw, err := gogithub.ParseWebHook(eventType, body)
	if err != nil {
		return evt, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch payload := raw.(type) {
	case *gogithub.PingEvent:
		evt.Kind = EventPing
		return evt, nil

	case *gogithub.IssuesEvent:
		if payload.Issue == nil {
			return evt, fmt.Errorf("%w: issues event without issue", ErrMalformedPayload)
		}
		evt.Action = payload.GetAction()
		evt.Repo = payload.GetRepo().GetFullName()
		evt.Issue = ConvertIssue(payload.Issue, evt.Repo)

		switch evt.Action {
		case "opened":
			evt.Kind = EventIssueOpened
		case "closed":
			evt.Kind = EventIssueClosed
		case "reopened":
			evt.Kind = EventIssueReopened
		case "deleted", "transferred":
			return evt, fmt.Errorf("%w: issues.%s", ErrIgnoredAction, evt.Action)
		default:
			evt.Kind = EventIssueUpdated
		}
		return evt, nil

	case *gogithub.IssueCommentEvent:
		if payload.Issue == nil || payload.Comment == nil {
			return evt, fmt.Errorf("%w: issue_comment event without issue or comment", ErrMalformedPayload)
		}
		evt.Action = payload.GetAction()
		evt.Repo = payload.GetRepo().GetFullName()
		evt.Issue = ConvertIssue(payload.Issue, evt.Repo)

		if evt.Action != "created" {
			return evt, fmt.Errorf("%w: issue_comment.%s", ErrIgnoredAction, evt.Action)
		}
		if payload.Issue.IsPullRequest() {
			return evt, fmt.Errorf("%w: comment on pull request", ErrIgnoredAction)
		}

		c := ConvertComment(payload.Comment)
		evt.Kind = EventCommentCreated
		evt.Comment = &c
		return evt, nil

	default:
		return evt, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
}

// ConvertIssue converts a go-github Issue to our internal Issue type.
func ConvertIssue(gh *gogithub.Issue, repo string) Issue {
	issue := Issue{
		ID:                gh.GetID(),
		Number:            gh.GetNumber(),
		Repo:              repo,
		Title:             gh.GetTitle(),
		URL:               gh.GetHTMLURL(),
		Author:            gh.GetUser().GetLogin(),
		AuthorAssociation: AuthorAssociation(gh.GetAuthorAssociation()),
		CreatedAt:         gh.GetCreatedAt().Time,
		UpdatedAt:         gh.GetUpdatedAt().Time,
	}
	if gh.ClosedAt != nil {
		t := gh.ClosedAt.Time
		issue.ClosedAt = &t
	}
	return issue
}

// ConvertComment converts a go-github IssueComment to our internal Comment type.
func ConvertComment(gh *gogithub.IssueComment) Comment {
	return Comment{
		ID:                gh.GetID(),
		URL:               gh.GetHTMLURL(),
		Author:            gh.GetUser().GetLogin(),
		AuthorAssociation: AuthorAssociation(gh.GetAuthorAssociation()),
		CreatedAt:         gh.GetCreatedAt().Time,
		UpdatedAt:         gh.GetUpdatedAt().Time,
	}
}
