package github

import "github.com/jacklau/issuesla/internal/store"

// ToStoreIssue converts an issue to its stored form under repoID.
// Comments are not carried; they are written with AddComment.
func ToStoreIssue(issue Issue, repoID int64) *store.Issue {
	return &store.Issue{
		ID:                issue.ID,
		RepoID:            repoID,
		Number:            issue.Number,
		Title:             issue.Title,
		URL:               issue.URL,
		Author:            issue.Author,
		AuthorAssociation: string(issue.AuthorAssociation),
		CreatedAt:         issue.CreatedAt,
		UpdatedAt:         issue.UpdatedAt,
		ClosedAt:          issue.ClosedAt,
	}
}

// ToStoreComment converts a comment on issueID to its stored form.
func ToStoreComment(c Comment, issueID int64) *store.Comment {
	return &store.Comment{
		ID:                c.ID,
		IssueID:           issueID,
		URL:               c.URL,
		Author:            c.Author,
		AuthorAssociation: string(c.AuthorAssociation),
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// FromStoreIssue converts a stored issue, with its comments, back to the
// domain type. repo is the owner/name of the issue's repository.
func FromStoreIssue(si store.Issue, repo string) Issue {
	issue := Issue{
		ID:                si.ID,
		Number:            si.Number,
		Repo:              repo,
		Title:             si.Title,
		URL:               si.URL,
		Author:            si.Author,
		AuthorAssociation: AuthorAssociation(si.AuthorAssociation),
		CreatedAt:         si.CreatedAt,
		UpdatedAt:         si.UpdatedAt,
		ClosedAt:          si.ClosedAt,
		Comments:          make([]Comment, 0, len(si.Comments)),
	}
	for _, c := range si.Comments {
		issue.Comments = append(issue.Comments, Comment{
			ID:                c.ID,
			URL:               c.URL,
			Author:            c.Author,
			AuthorAssociation: AuthorAssociation(c.AuthorAssociation),
			CreatedAt:         c.CreatedAt,
			UpdatedAt:         c.UpdatedAt,
		})
	}
	return issue
}
