// Package stats resolves a statistics window, loads the issues created in it
// and runs them through the metrics engine.
package stats

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/metrics"
	"github.com/jacklau/issuesla/internal/store"
)

// Error is a client-facing failure with an HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// BadRequest builds an Error for invalid query input.
func BadRequest(msg string) *Error {
	return &Error{Code: "BAD_REQUEST", Message: msg, Status: http.StatusBadRequest}
}

// NotFound builds an Error for a missing resource.
func NotFound(msg string, err error) *Error {
	return &Error{Code: "NOT_FOUND", Message: msg, Status: http.StatusNotFound, Err: err}
}

// Query selects the issues to evaluate. Zero From/To fall back to the
// service window ending now. Repo is owner/name; empty means every repo.
type Query struct {
	From time.Time
	To   time.Time
	Repo string
}

// Service computes dashboard statistics from stored issues.
type Service struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

// NewService creates a Service whose default window is window long.
func NewService(st store.Store, window time.Duration) *Service {
	return &Service{store: st, window: window, now: time.Now}
}

// ResolveAt fills in missing window bounds, ending the window at now when To
// is unset, and rejects inverted windows.
func (s *Service) ResolveAt(q Query, now time.Time) (Query, error) {
	if q.To.IsZero() {
		q.To = now
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-s.window)
	}
	if q.From.After(q.To) {
		return q, BadRequest("from must not be after to")
	}
	return q, nil
}

// Compute returns statistics for issues created within the query window,
// newest first. A defaulted window end and the issue ages share one instant.
func (s *Service) Compute(ctx context.Context, q Query) (metrics.Statistics, error) {
	now := s.now().UTC()
	q, err := s.ResolveAt(q, now)
	if err != nil {
		return metrics.Statistics{}, err
	}

	issues, err := s.Issues(ctx, q)
	if err != nil {
		return metrics.Statistics{}, err
	}

	return metrics.ComputeIssueStatistics(issues, q.From, q.To, now), nil
}

// Issues loads the issues of a resolved query as domain values.
func (s *Service) Issues(ctx context.Context, q Query) ([]github.Issue, error) {
	filter := store.IssueFilter{From: q.From, To: q.To}
	names := map[int64]string{}

	if q.Repo != "" {
		owner, name, err := github.SplitRepo(q.Repo)
		if err != nil {
			return nil, BadRequest(err.Error())
		}
		repo, err := s.store.GetRepoByOwnerRepo(ctx, owner, name)
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFound(fmt.Sprintf("repository %s is not tracked", q.Repo), err)
		}
		if err != nil {
			return nil, fmt.Errorf("looking up repo %s: %w", q.Repo, err)
		}
		filter.RepoID = repo.ID
		names[repo.ID] = repo.FullName()
	} else {
		repos, err := s.store.ListRepos(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing repos: %w", err)
		}
		for _, r := range repos {
			names[r.ID] = r.FullName()
		}
	}

	stored, err := s.store.FindIssues(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding issues: %w", err)
	}

	issues := make([]github.Issue, 0, len(stored))
	for _, si := range stored {
		issues = append(issues, github.FromStoreIssue(si, names[si.RepoID]))
	}
	return issues, nil
}

// ParseDate accepts RFC 3339 timestamps or YYYY-MM-DD dates (midnight UTC).
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseEndDate is ParseDate, except a bare date covers the whole day.
func ParseEndDate(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.Add(24*time.Hour - time.Millisecond), nil
	}
	return ParseDate(s)
}
