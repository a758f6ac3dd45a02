package github

import "time"

// AuthorAssociation is GitHub's per-action snapshot of the author's role in the repository.
type AuthorAssociation string

const (
	AssociationOwner                AuthorAssociation = "OWNER"
	AssociationMember               AuthorAssociation = "MEMBER"
	AssociationCollaborator         AuthorAssociation = "COLLABORATOR"
	AssociationContributor          AuthorAssociation = "CONTRIBUTOR"
	AssociationFirstTimeContributor AuthorAssociation = "FIRST_TIME_CONTRIBUTOR"
	AssociationFirstTimer           AuthorAssociation = "FIRST_TIMER"
	AssociationMannequin            AuthorAssociation = "MANNEQUIN"
	AssociationNone                 AuthorAssociation = "NONE"
)

// IsCoreTeam reports whether the association belongs to the core team
// (OWNER, MEMBER or COLLABORATOR). Unknown values are not core team.
func (a AuthorAssociation) IsCoreTeam() bool {
	switch a {
	case AssociationOwner, AssociationMember, AssociationCollaborator:
		return true
	default:
		return false
	}
}

// Issue represents a GitHub issue together with its comments.
type Issue struct {
	ID                int64
	Number            int
	Repo              string // owner/name
	Title             string
	URL               string
	Author            string
	AuthorAssociation AuthorAssociation
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ClosedAt          *time.Time
	Comments          []Comment
}

// IsClosed reports whether the issue has a close timestamp.
func (i Issue) IsClosed() bool {
	return i.ClosedAt != nil
}

// Comment represents a comment on a GitHub issue.
type Comment struct {
	ID                int64
	URL               string
	Author            string
	AuthorAssociation AuthorAssociation
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EventKind describes what an ingested webhook delivery did.
type EventKind int

const (
	EventIssueOpened    EventKind = iota // Issue opened
	EventIssueUpdated                    // Any other issue action (edited, labeled, ...)
	EventIssueClosed                     // Issue closed
	EventIssueReopened                   // Issue reopened
	EventCommentCreated                  // Comment added to an issue
	EventPing                            // Webhook ping
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventIssueOpened:
		return "issue_opened"
	case EventIssueUpdated:
		return "issue_updated"
	case EventIssueClosed:
		return "issue_closed"
	case EventIssueReopened:
		return "issue_reopened"
	case EventCommentCreated:
		return "comment_created"
	case EventPing:
		return "ping"
	default:
		return "unknown"
	}
}

// WebhookEvent is a parsed webhook delivery. Comment is set only for
// EventCommentCreated.
type WebhookEvent struct {
	DeliveryID string
	Kind       EventKind
	Action     string
	Repo       string
	Issue      Issue
	Comment    *Comment
}
