package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RepoStats holds aggregate statistics for a single repository.
type RepoStats struct {
	Repo         Repo
	IssueCount   int
	OpenCount    int
	CommentCount int
	LastIssueAt  *time.Time
}

// GetRepoStats returns aggregate statistics for a single repo.
func (d *DB) GetRepoStats(ctx context.Context, repoID int64) (*RepoStats, error) {
	repo, err := d.GetRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("getting repo: %w", err)
	}

	stats := &RepoStats{Repo: *repo}
	var last sql.NullString

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE closed_at IS NULL), MAX(created_at)
		FROM issues WHERE repo_id = ?`, repoID,
	).Scan(&stats.IssueCount, &stats.OpenCount, &last)
	if err != nil {
		return nil, fmt.Errorf("counting issues: %w", err)
	}
	if last.Valid {
		t := parseTime(last.String)
		stats.LastIssueAt = &t
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM comments c JOIN issues i ON i.id = c.issue_id
		WHERE i.repo_id = ?`, repoID,
	).Scan(&stats.CommentCount)
	if err != nil {
		return nil, fmt.Errorf("counting comments: %w", err)
	}

	return stats, nil
}

// GetAllRepoStats returns statistics for all tracked repos.
func GetAllRepoStats(ctx context.Context, s Store) ([]RepoStats, error) {
	repos, err := s.ListRepos(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}

	var results []RepoStats
	for _, repo := range repos {
		stats, err := s.GetRepoStats(ctx, repo.ID)
		if err != nil {
			return nil, fmt.Errorf("getting stats for %s: %w", repo.FullName(), err)
		}
		results = append(results, *stats)
	}

	return results, nil
}
