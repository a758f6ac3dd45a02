package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Issue represents a stored GitHub issue. ID is the GitHub database id.
type Issue struct {
	ID                int64
	RepoID            int64
	Number            int
	Title             string
	URL               string
	Author            string
	AuthorAssociation string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ClosedAt          *time.Time

	// Comments is populated by reads, oldest first.
	Comments []Comment
}

// Comment represents a stored issue comment. ID is the GitHub database id.
type Comment struct {
	ID                int64
	IssueID           int64
	URL               string
	Author            string
	AuthorAssociation string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const issueColumns = `i.id, i.repo_id, i.number, i.title, i.url, i.author, i.author_association,
	i.created_at, i.updated_at, i.closed_at`

const commentColumns = `c.id, c.issue_id, c.url, c.author, c.author_association, c.created_at, c.updated_at`

const upsertIssueSQL = `
	INSERT INTO issues (id, repo_id, number, title, url, author, author_association, created_at, updated_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		repo_id = excluded.repo_id,
		number = excluded.number,
		title = excluded.title,
		url = excluded.url,
		author = excluded.author,
		author_association = excluded.author_association,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at
	WHERE excluded.updated_at >= issues.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertIssue(ctx context.Context, q execer, issue *Issue) error {
	_, err := q.ExecContext(ctx, upsertIssueSQL,
		issue.ID, issue.RepoID, issue.Number, issue.Title, issue.URL,
		issue.Author, issue.AuthorAssociation,
		formatTime(issue.CreatedAt), formatTime(issue.UpdatedAt), formatTimePtr(issue.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting issue %d: %w", issue.ID, err)
	}
	return nil
}

// UpsertIssue inserts or updates an issue snapshot.
func (d *DB) UpsertIssue(ctx context.Context, issue *Issue) error {
	return upsertIssue(ctx, d.db, issue)
}

// AddComment stores comment under issue, creating or refreshing the issue first.
func (d *DB) AddComment(ctx context.Context, issue *Issue, comment *Comment) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning comment transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertIssue(ctx, tx, issue); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO comments (id, issue_id, url, author, author_association, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		comment.ID, issue.ID, comment.URL, comment.Author, comment.AuthorAssociation,
		formatTime(comment.CreatedAt), formatTime(comment.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting comment %d: %w", comment.ID, err)
	}

	return tx.Commit()
}

// GetIssue retrieves an issue by GitHub id, with its comments.
func (d *DB) GetIssue(ctx context.Context, id int64) (*Issue, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues i WHERE i.id = ?`, id)
	issue, err := scanIssue(row)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments c WHERE c.issue_id = ? ORDER BY c.created_at, c.id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		issue.Comments = append(issue.Comments, *c)
	}
	return issue, rows.Err()
}

// issueWhere builds the WHERE clause shared by the issue and comment queries.
func issueWhere(filter IssueFilter) (string, []any) {
	var conds []string
	var args []any
	if !filter.From.IsZero() {
		conds = append(conds, "i.created_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "i.created_at <= ?")
		args = append(args, formatTime(filter.To))
	}
	if filter.RepoID != 0 {
		conds = append(conds, "i.repo_id = ?")
		args = append(args, filter.RepoID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FindIssues returns issues created inside the filter window, newest first,
// each with its comments oldest first.
func (d *DB) FindIssues(ctx context.Context, filter IssueFilter) ([]Issue, error) {
	where, args := issueWhere(filter)

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues i`+where+` ORDER BY i.created_at DESC, i.id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}

	issues := []Issue{}
	index := make(map[int64]int)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[issue.ID] = len(issues)
		issues = append(issues, *issue)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating issues: %w", err)
	}
	if len(issues) == 0 {
		return issues, nil
	}

	crows, err := d.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments c JOIN issues i ON i.id = c.issue_id`+where+
			` ORDER BY c.created_at, c.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		c, err := scanComment(crows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[c.IssueID]; ok {
			issues[i].Comments = append(issues[i].Comments, *c)
		}
	}
	return issues, crows.Err()
}

func scanIssue(row rowScanner) (*Issue, error) {
	var issue Issue
	var author, closedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&issue.ID, &issue.RepoID, &issue.Number, &issue.Title, &issue.URL,
		&author, &issue.AuthorAssociation, &createdAt, &updatedAt, &closedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning issue: %w", err)
	}

	issue.Author = author.String
	issue.CreatedAt = parseTime(createdAt)
	issue.UpdatedAt = parseTime(updatedAt)
	if closedAt.Valid {
		t := parseTime(closedAt.String)
		issue.ClosedAt = &t
	}

	return &issue, nil
}

func scanComment(row rowScanner) (*Comment, error) {
	var c Comment
	var author sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.IssueID, &c.URL, &author, &c.AuthorAssociation, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning comment: %w", err)
	}
	c.Author = author.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}
