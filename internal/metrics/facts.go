// Package metrics computes issue service-level statistics: how quickly the core
// team first responds to community issues and how quickly issues are closed.
//
// Everything in this package is a pure function of its inputs. The reference
// instant is always passed in explicitly so results are reproducible.
package metrics

import (
	"sort"
	"time"

	"github.com/jacklau/issuesla/internal/github"
)

// Facts are the timing facts derived for a single issue at a reference instant.
type Facts struct {
	// CoreTeamAuthored is true when the issue author is OWNER, MEMBER or COLLABORATOR.
	CoreTeamAuthored bool

	// Age is the time between issue creation and the reference instant.
	Age time.Duration

	// CoreTeamComments holds the comments written by the core team, oldest first.
	CoreTeamComments []github.Comment

	// FirstResponseDelay is the time from creation to the first core team
	// comment. Without one it equals Age: the issue is still waiting.
	FirstResponseDelay time.Duration

	// Closed reports whether the issue has been closed. CloseDelay is only
	// meaningful when it is set.
	Closed     bool
	CloseDelay time.Duration
}

// Responded reports whether any core team member has commented.
func (f Facts) Responded() bool {
	return len(f.CoreTeamComments) > 0
}

// Derive computes the timing facts for issue as seen at now.
//
// Timestamps are not validated. A close or comment timestamp that precedes
// creation yields a negative duration.
func Derive(issue github.Issue, now time.Time) Facts {
	f := Facts{
		CoreTeamAuthored: issue.AuthorAssociation.IsCoreTeam(),
		Age:              now.Sub(issue.CreatedAt),
	}

	for _, c := range issue.Comments {
		if c.AuthorAssociation.IsCoreTeam() {
			f.CoreTeamComments = append(f.CoreTeamComments, c)
		}
	}
	sort.SliceStable(f.CoreTeamComments, func(i, j int) bool {
		return f.CoreTeamComments[i].CreatedAt.Before(f.CoreTeamComments[j].CreatedAt)
	})

	f.FirstResponseDelay = f.Age
	if f.Responded() {
		f.FirstResponseDelay = f.CoreTeamComments[0].CreatedAt.Sub(issue.CreatedAt)
	}

	if issue.ClosedAt != nil {
		f.Closed = true
		f.CloseDelay = issue.ClosedAt.Sub(issue.CreatedAt)
	}

	return f
}
