package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// IssueFilter narrows FindIssues. Zero bounds are open; RepoID 0 means all repos.
type IssueFilter struct {
	From   time.Time
	To     time.Time
	RepoID int64
}

// Store defines the storage operations used by ingestion, sync and the
// statistics service. It is satisfied by *DB (SQLite) and *PG (Postgres).
type Store interface {
	// CreateRepo inserts a new repo record.
	CreateRepo(ctx context.Context, owner, repo string) (*Repo, error)

	// EnsureRepo returns the repo record, creating it on first sighting.
	EnsureRepo(ctx context.Context, owner, repo string) (*Repo, error)

	// GetRepoByOwnerRepo retrieves a repo by owner and name.
	GetRepoByOwnerRepo(ctx context.Context, owner, repo string) (*Repo, error)

	// ListRepos returns all tracked repos.
	ListRepos(ctx context.Context) ([]Repo, error)

	// UpdateSyncState records the sync watermark and ETag for a repo.
	UpdateSyncState(ctx context.Context, id int64, syncedAt time.Time, etag string) error

	// UpsertIssue stores an issue snapshot keyed by its GitHub id. A snapshot
	// older than the stored one is ignored.
	UpsertIssue(ctx context.Context, issue *Issue) error

	// AddComment stores a comment, creating or refreshing its parent issue in
	// the same transaction. Duplicate comment ids are ignored.
	AddComment(ctx context.Context, issue *Issue, comment *Comment) error

	// GetIssue retrieves an issue by GitHub id, with its comments.
	GetIssue(ctx context.Context, id int64) (*Issue, error)

	// FindIssues returns issues newest first with comments oldest first.
	FindIssues(ctx context.Context, filter IssueFilter) ([]Issue, error)

	// RecordDelivery marks a webhook delivery as seen and reports whether it
	// was new.
	RecordDelivery(ctx context.Context, id, event string) (bool, error)

	// ForgetDelivery removes a recorded delivery id.
	ForgetDelivery(ctx context.Context, id string) error

	// GetRepoStats returns aggregate counts for a repo.
	GetRepoStats(ctx context.Context, repoID int64) (*RepoStats, error)

	Close() error
}

// Compile-time checks that both backends satisfy Store.
var (
	_ Store = (*DB)(nil)
	_ Store = (*PG)(nil)
)

// timeLayout keeps fixed-width UTC timestamps so text comparison orders them.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
