package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a Postgres-backed Store for deployments that share one database
// between the webhook server and the sync workers.
type PG struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and runs migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PG, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	p := &PG{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return p, nil
}

// Close releases the pool.
func (p *PG) Close() error {
	p.pool.Close()
	return nil
}

func (p *PG) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repos (
			id BIGSERIAL PRIMARY KEY,
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			last_synced_at TIMESTAMPTZ,
			etag TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(owner, repo)
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			id BIGINT PRIMARY KEY,
			repo_id BIGINT NOT NULL REFERENCES repos(id),
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			author TEXT,
			author_association TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_created ON issues(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_repo_created ON issues(repo_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id BIGINT PRIMARY KEY,
			issue_id BIGINT NOT NULL REFERENCES issues(id),
			url TEXT NOT NULL,
			author TEXT,
			author_association TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			event TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing migration statement: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// querier is the subset of *pgxpool.Pool and pgx.Tx the store uses.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

const pgRepoColumns = `id, owner, repo, last_synced_at, COALESCE(etag, ''), created_at`

func pgScanRepo(row pgx.Row) (*Repo, error) {
	var r Repo
	err := row.Scan(&r.ID, &r.Owner, &r.RepoName, &r.LastSyncedAt, &r.ETag, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning repo: %w", err)
	}
	return &r, nil
}

// CreateRepo inserts a new repo record.
func (p *PG) CreateRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO repos (owner, repo) VALUES ($1, $2) RETURNING `+pgRepoColumns,
		owner, repo,
	)
	r, err := pgScanRepo(row)
	if err != nil {
		return nil, fmt.Errorf("creating repo: %w", err)
	}
	return r, nil
}

// EnsureRepo returns the repo record, creating it on first sighting.
func (p *PG) EnsureRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO repos (owner, repo) VALUES ($1, $2) ON CONFLICT (owner, repo) DO NOTHING`,
		owner, repo,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring repo: %w", err)
	}
	return p.GetRepoByOwnerRepo(ctx, owner, repo)
}

// GetRepo retrieves a repo by its ID.
func (p *PG) GetRepo(ctx context.Context, id int64) (*Repo, error) {
	return pgScanRepo(p.pool.QueryRow(ctx, `SELECT `+pgRepoColumns+` FROM repos WHERE id = $1`, id))
}

// GetRepoByOwnerRepo retrieves a repo by owner and name.
func (p *PG) GetRepoByOwnerRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	return pgScanRepo(p.pool.QueryRow(ctx,
		`SELECT `+pgRepoColumns+` FROM repos WHERE owner = $1 AND repo = $2`, owner, repo))
}

// ListRepos returns all tracked repos.
func (p *PG) ListRepos(ctx context.Context) ([]Repo, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgRepoColumns+` FROM repos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		r, err := pgScanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

// UpdateSyncState updates the last_synced_at and etag for a repo.
func (p *PG) UpdateSyncState(ctx context.Context, id int64, syncedAt time.Time, etag string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE repos SET last_synced_at = $1, etag = $2 WHERE id = $3`,
		syncedAt.UTC(), etag, id,
	)
	if err != nil {
		return fmt.Errorf("updating sync state: %w", err)
	}
	return nil
}

const pgUpsertIssueSQL = `
	INSERT INTO issues (id, repo_id, number, title, url, author, author_association, created_at, updated_at, closed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
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

func pgUpsertIssue(ctx context.Context, q querier, issue *Issue) error {
	var closedAt *time.Time
	if issue.ClosedAt != nil {
		t := issue.ClosedAt.UTC()
		closedAt = &t
	}
	_, err := q.Exec(ctx, pgUpsertIssueSQL,
		issue.ID, issue.RepoID, issue.Number, issue.Title, issue.URL,
		issue.Author, issue.AuthorAssociation,
		issue.CreatedAt.UTC(), issue.UpdatedAt.UTC(), closedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting issue %d: %w", issue.ID, err)
	}
	return nil
}

// UpsertIssue inserts or updates an issue snapshot.
func (p *PG) UpsertIssue(ctx context.Context, issue *Issue) error {
	return pgUpsertIssue(ctx, p.pool, issue)
}

// AddComment stores comment under issue, creating or refreshing the issue first.
func (p *PG) AddComment(ctx context.Context, issue *Issue, comment *Comment) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := pgUpsertIssue(ctx, tx, issue); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO comments (id, issue_id, url, author, author_association, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		comment.ID, issue.ID, comment.URL, comment.Author, comment.AuthorAssociation,
		comment.CreatedAt.UTC(), comment.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting comment %d: %w", comment.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const pgIssueColumns = `i.id, i.repo_id, i.number, i.title, i.url, COALESCE(i.author, ''), i.author_association,
	i.created_at, i.updated_at, i.closed_at`

const pgCommentColumns = `c.id, c.issue_id, c.url, COALESCE(c.author, ''), c.author_association, c.created_at, c.updated_at`

func pgScanIssue(row pgx.Row) (*Issue, error) {
	var issue Issue
	err := row.Scan(
		&issue.ID, &issue.RepoID, &issue.Number, &issue.Title, &issue.URL,
		&issue.Author, &issue.AuthorAssociation, &issue.CreatedAt, &issue.UpdatedAt, &issue.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning issue: %w", err)
	}
	return &issue, nil
}

func pgScanComment(row pgx.Row) (*Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.IssueID, &c.URL, &c.Author, &c.AuthorAssociation, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning comment: %w", err)
	}
	return &c, nil
}

// GetIssue retrieves an issue by GitHub id, with its comments.
func (p *PG) GetIssue(ctx context.Context, id int64) (*Issue, error) {
	issue, err := pgScanIssue(p.pool.QueryRow(ctx, `SELECT `+pgIssueColumns+` FROM issues i WHERE i.id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+pgCommentColumns+` FROM comments c WHERE c.issue_id = $1 ORDER BY c.created_at, c.id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := pgScanComment(rows)
		if err != nil {
			return nil, err
		}
		issue.Comments = append(issue.Comments, *c)
	}
	return issue, rows.Err()
}

func pgIssueWhere(filter IssueFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filter.From.IsZero() {
		add("i.created_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("i.created_at <= $%d", filter.To.UTC())
	}
	if filter.RepoID != 0 {
		add("i.repo_id = $%d", filter.RepoID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FindIssues returns issues created inside the filter window, newest first,
// each with its comments oldest first.
func (p *PG) FindIssues(ctx context.Context, filter IssueFilter) ([]Issue, error) {
	where, args := pgIssueWhere(filter)

	rows, err := p.pool.Query(ctx,
		`SELECT `+pgIssueColumns+` FROM issues i`+where+` ORDER BY i.created_at DESC, i.id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}

	issues := []Issue{}
	index := make(map[int64]int)
	for rows.Next() {
		issue, err := pgScanIssue(rows)
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

	crows, err := p.pool.Query(ctx,
		`SELECT `+pgCommentColumns+` FROM comments c JOIN issues i ON i.id = c.issue_id`+where+
			` ORDER BY c.created_at, c.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		c, err := pgScanComment(crows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[c.IssueID]; ok {
			issues[i].Comments = append(issues[i].Comments, *c)
		}
	}
	return issues, crows.Err()
}

// RecordDelivery stores a webhook delivery id and reports whether it was new.
func (p *PG) RecordDelivery(ctx context.Context, id, event string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO deliveries (id, event) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, event,
	)
	if err != nil {
		return false, fmt.Errorf("recording delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetDelivery removes a recorded delivery so a redelivery is processed again.
func (p *PG) ForgetDelivery(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM deliveries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("forgetting delivery: %w", err)
	}
	return nil
}

// GetRepoStats returns aggregate statistics for a single repo.
func (p *PG) GetRepoStats(ctx context.Context, repoID int64) (*RepoStats, error) {
	repo, err := p.GetRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("getting repo: %w", err)
	}

	stats := &RepoStats{Repo: *repo}
	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE closed_at IS NULL), MAX(created_at)
		FROM issues WHERE repo_id = $1`, repoID,
	).Scan(&stats.IssueCount, &stats.OpenCount, &stats.LastIssueAt)
	if err != nil {
		return nil, fmt.Errorf("counting issues: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM comments c JOIN issues i ON i.id = c.issue_id
		WHERE i.repo_id = $1`, repoID,
	).Scan(&stats.CommentCount)
	if err != nil {
		return nil, fmt.Errorf("counting comments: %w", err)
	}
	return stats, nil
}
