package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repo represents a tracked GitHub repository.
type Repo struct {
	ID           int64
	Owner        string
	RepoName     string
	LastSyncedAt *time.Time
	ETag         string
	CreatedAt    time.Time
}

// FullName returns owner/repo.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.RepoName
}

const repoColumns = `id, owner, repo, last_synced_at, etag, created_at`

// CreateRepo inserts a new repo record.
func (d *DB) CreateRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO repos (owner, repo, created_at) VALUES (?, ?, ?)`,
		owner, repo, formatTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating repo: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting repo id: %w", err)
	}

	return d.GetRepo(ctx, id)
}

// EnsureRepo returns the repo record, creating it on first sighting.
func (d *DB) EnsureRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO repos (owner, repo, created_at) VALUES (?, ?, ?)
		ON CONFLICT(owner, repo) DO NOTHING`,
		owner, repo, formatTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring repo: %w", err)
	}
	return d.GetRepoByOwnerRepo(ctx, owner, repo)
}

// GetRepo retrieves a repo by its ID.
func (d *DB) GetRepo(ctx context.Context, id int64) (*Repo, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE id = ?`, id,
	)
	return scanRepo(row)
}

// GetRepoByOwnerRepo retrieves a repo by owner and name.
func (d *DB) GetRepoByOwnerRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE owner = ? AND repo = ?`,
		owner, repo,
	)
	return scanRepo(row)
}

// UpdateSyncState updates the last_synced_at and etag for a repo.
func (d *DB) UpdateSyncState(ctx context.Context, id int64, syncedAt time.Time, etag string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE repos SET last_synced_at = ?, etag = ? WHERE id = ?`,
		formatTime(syncedAt), etag, id,
	)
	if err != nil {
		return fmt.Errorf("updating sync state: %w", err)
	}
	return nil
}

// ListRepos returns all tracked repos.
func (d *DB) ListRepos(ctx context.Context) ([]Repo, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+repoColumns+` FROM repos ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*Repo, error) {
	var r Repo
	var lastSynced, etag sql.NullString
	var createdAt string

	err := row.Scan(&r.ID, &r.Owner, &r.RepoName, &lastSynced, &etag, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning repo: %w", err)
	}

	if lastSynced.Valid {
		t := parseTime(lastSynced.String)
		r.LastSyncedAt = &t
	}
	r.ETag = etag.String
	r.CreatedAt = parseTime(createdAt)

	return &r, nil
}
