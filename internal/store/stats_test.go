package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetRepoStats_Empty(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	repo, err := db.CreateRepo(ctx, "owner", "repo")
	if err != nil {
		t.Fatalf("creating repo: %v", err)
	}

	stats, err := db.GetRepoStats(ctx, repo.ID)
	if err != nil {
		t.Fatalf("getting stats: %v", err)
	}

	if stats.IssueCount != 0 || stats.OpenCount != 0 || stats.CommentCount != 0 {
		t.Errorf("expected zero counts, got %+v", stats)
	}
	if stats.LastIssueAt != nil {
		t.Errorf("expected nil LastIssueAt, got %v", stats.LastIssueAt)
	}
	if stats.Repo.Owner != "owner" || stats.Repo.RepoName != "repo" {
		t.Errorf("unexpected repo %+v", stats.Repo)
	}
}

func TestGetRepoStats_WithData(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	repo, _ := db.CreateRepo(ctx, "org", "myrepo")
	other, _ := db.CreateRepo(ctx, "org", "other")

	for i := 1; i <= 3; i++ {
		issue := testIssue(repo.ID, int64(i), i, base.Add(time.Duration(i)*time.Hour))
		if i == 1 {
			closed := base.Add(5 * time.Hour)
			issue.ClosedAt = &closed
		}
		if err := db.UpsertIssue(ctx, issue); err != nil {
			t.Fatalf("upserting issue %d: %v", i, err)
		}
	}
	if err := db.UpsertIssue(ctx, testIssue(other.ID, 99, 1, base)); err != nil {
		t.Fatal(err)
	}

	parent := testIssue(repo.ID, 2, 2, base.Add(2*time.Hour))
	for id := int64(10); id < 12; id++ {
		c := &Comment{ID: id, AuthorAssociation: "NONE", CreatedAt: base.Add(3 * time.Hour), UpdatedAt: base.Add(3 * time.Hour)}
		if err := db.AddComment(ctx, parent, c); err != nil {
			t.Fatalf("adding comment: %v", err)
		}
	}

	stats, err := db.GetRepoStats(ctx, repo.ID)
	if err != nil {
		t.Fatalf("getting stats: %v", err)
	}

	if stats.IssueCount != 3 {
		t.Errorf("expected 3 issues, got %d", stats.IssueCount)
	}
	if stats.OpenCount != 2 {
		t.Errorf("expected 2 open, got %d", stats.OpenCount)
	}
	if stats.CommentCount != 2 {
		t.Errorf("expected 2 comments, got %d", stats.CommentCount)
	}
	if stats.LastIssueAt == nil || !stats.LastIssueAt.Equal(base.Add(3*time.Hour)) {
		t.Errorf("unexpected LastIssueAt %v", stats.LastIssueAt)
	}
}

func TestGetRepoStats_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetRepoStats(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAllRepoStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	db.CreateRepo(ctx, "org", "one")
	db.CreateRepo(ctx, "org", "two")

	all, err := GetAllRepoStats(ctx, db)
	if err != nil {
		t.Fatalf("getting all stats: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 results, got %d", len(all))
	}
	if all[0].Repo.RepoName != "one" || all[1].Repo.RepoName != "two" {
		t.Errorf("unexpected order: %s, %s", all[0].Repo.RepoName, all[1].Repo.RepoName)
	}
}
