package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	gogithub "github.com/google/go-github/v60/github"
	"golang.org/x/sync/errgroup"

	"github.com/jacklau/issuesla/internal/pubsub"
	"github.com/jacklau/issuesla/internal/store"
)

const (
	// watermarkBuffer is subtracted from the latest issue UpdatedAt to guard
	// against clock skew and missed updates at page boundaries.
	watermarkBuffer = 2 * time.Minute

	// maxAttempts bounds retries of a single API call.
	maxAttempts = 4

	// maxRateLimitWait is the longest rate-limit pause taken inside a sync.
	// Longer resets fail the call and leave the next sync to pick up.
	maxRateLimitWait = 5 * time.Minute

	defaultSyncWorkers = 5
	perPage            = 100
)

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Issues        int
	Comments      int
	PullRequests  int
	CommentErrors int
	NotModified   bool
}

// Syncer mirrors a repository's issues and comments into the store through
// the REST API. It is the backfill path for deliveries the webhook missed.
type Syncer struct {
	client *gogithub.Client
	store  store.Store
	broker *pubsub.Broker[WebhookEvent]
	owner  string
	repo   string
	logger *slog.Logger

	workers   int
	retryBase time.Duration

	// OnProgress, when set, is called after each issue is written.
	OnProgress func(done, total int)
}

// NewSyncer creates a Syncer for owner/repo. broker may be nil.
func NewSyncer(client *gogithub.Client, st store.Store, broker *pubsub.Broker[WebhookEvent], owner, repo string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		client:    client,
		store:     st,
		broker:    broker,
		owner:     owner,
		repo:      repo,
		logger:    logger.With("repo", owner+"/"+repo),
		workers:   defaultSyncWorkers,
		retryBase: time.Second,
	}
}

// SetWorkers sets how many comment fetches run concurrently.
func (s *Syncer) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// Run syncs immediately and then every interval until ctx is cancelled.
// Sync errors are logged and do not stop the loop.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("starting sync loop", "interval", interval)

	if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial sync failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sync failed", "error", err)
			}
		}
	}
}

// Sync performs one pass: list issues updated since the watermark, fetch
// their comments, write everything and advance the watermark.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	repoRecord, err := s.store.EnsureRepo(ctx, s.owner, s.repo)
	if err != nil {
		return result, fmt.Errorf("ensuring repo record: %w", err)
	}

	issues, etag, prs, notModified, err := s.listIssues(ctx, repoRecord)
	if err != nil {
		return result, err
	}
	result.PullRequests = prs
	if notModified {
		s.logger.Debug("no changes (304 Not Modified)")
		result.NotModified = true
		return result, nil
	}

	comments, commentErrs := s.fetchComments(ctx, issues)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.CommentErrors = commentErrs

	var latestUpdatedAt time.Time
	for i, gh := range issues {
		issue := ConvertIssue(gh, repoRecord.FullName())
		stored := ToStoreIssue(issue, repoRecord.ID)

		if err := s.store.UpsertIssue(ctx, stored); err != nil {
			return result, fmt.Errorf("upserting issue #%d: %w", issue.Number, err)
		}
		for _, c := range comments[i] {
			comment := ConvertComment(c)
			if err := s.store.AddComment(ctx, stored, ToStoreComment(comment, issue.ID)); err != nil {
				return result, fmt.Errorf("adding comment %d on #%d: %w", comment.ID, issue.Number, err)
			}
			issue.Comments = append(issue.Comments, comment)
		}

		result.Issues++
		result.Comments += len(comments[i])
		if issue.UpdatedAt.After(latestUpdatedAt) {
			latestUpdatedAt = issue.UpdatedAt
		}

		if s.broker != nil {
			s.broker.Publish(pubsub.Synced, WebhookEvent{
				Kind:  EventIssueUpdated,
				Repo:  issue.Repo,
				Issue: issue,
			})
		}
		if s.OnProgress != nil {
			s.OnProgress(i+1, len(issues))
		}
	}

	// A failed comment fetch keeps the watermark so the next pass retries it.
	if commentErrs == 0 {
		if err := s.advanceWatermark(ctx, repoRecord, latestUpdatedAt, etag); err != nil {
			return result, err
		}
	}

	s.logger.Info("sync complete",
		"issues", result.Issues,
		"comments", result.Comments,
		"pull_requests_skipped", result.PullRequests,
		"comment_errors", result.CommentErrors,
	)
	return result, nil
}

func (s *Syncer) advanceWatermark(ctx context.Context, repoRecord *store.Repo, latest time.Time, etag string) error {
	var syncedAt time.Time
	switch {
	case !latest.IsZero():
		syncedAt = latest.Add(-watermarkBuffer)
	case repoRecord.LastSyncedAt != nil:
		syncedAt = *repoRecord.LastSyncedAt
	case etag != "":
		syncedAt = time.Now().UTC().Add(-watermarkBuffer)
	default:
		return nil
	}
	if err := s.store.UpdateSyncState(ctx, repoRecord.ID, syncedAt, etag); err != nil {
		return fmt.Errorf("updating sync state: %w", err)
	}
	return nil
}

// listIssues pages through issues updated since the watermark. Pull
// requests are dropped and counted. The first page is conditional on the
// stored ETag.
func (s *Syncer) listIssues(ctx context.Context, repoRecord *store.Repo) ([]*gogithub.Issue, string, int, bool, error) {
	opts := &gogithub.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "asc",
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	}
	if repoRecord.LastSyncedAt != nil {
		opts.Since = *repoRecord.LastSyncedAt
	}

	var (
		all     []*gogithub.Issue
		newETag string
		prs     int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, "", prs, false, err
		}

		var page []*gogithub.Issue
		resp, err := s.call(ctx, "listing issues", func() (*gogithub.Response, error) {
			var (
				resp *gogithub.Response
				err  error
			)
			if opts.Page <= 1 && repoRecord.ETag != "" {
				page, resp, err = s.listIssuesWithETag(ctx, opts, repoRecord.ETag)
			} else {
				page, resp, err = s.client.Issues.ListByRepo(ctx, s.owner, s.repo, opts)
			}
			return resp, err
		})
		if IsNotModified(httpResponse(resp)) {
			return nil, "", prs, true, nil
		}
		if err != nil {
			return nil, "", prs, false, fmt.Errorf("fetching issues: %w", err)
		}

		if opts.Page <= 1 {
			newETag = resp.Header.Get("ETag")
		}
		s.throttle(ctx, resp)

		for _, gh := range page {
			if gh.IsPullRequest() {
				prs++
				continue
			}
			all = append(all, gh)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, newETag, prs, false, nil
}

// listIssuesWithETag issues the list request with If-None-Match set, which
// go-github's typed method cannot do.
func (s *Syncer) listIssuesWithETag(ctx context.Context, opts *gogithub.IssueListByRepoOptions, etag string) ([]*gogithub.Issue, *gogithub.Response, error) {
	u := fmt.Sprintf("repos/%s/%s/issues", s.owner, s.repo)
	req, err := s.client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("If-None-Match", etag)

	q := req.URL.Query()
	q.Set("state", opts.State)
	q.Set("sort", opts.Sort)
	q.Set("direction", opts.Direction)
	q.Set("per_page", strconv.Itoa(opts.PerPage))
	if !opts.Since.IsZero() {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	req.URL.RawQuery = q.Encode()

	var issues []*gogithub.Issue
	resp, err := s.client.Do(ctx, req, &issues)
	return issues, resp, err
}

// fetchComments loads the comments of every issue with a non-zero comment
// count, at most s.workers at a time. The result is indexed like issues.
func (s *Syncer) fetchComments(ctx context.Context, issues []*gogithub.Issue) ([][]*gogithub.IssueComment, int) {
	results := make([][]*gogithub.IssueComment, len(issues))
	var failed atomic.Int32

	var g errgroup.Group
	g.SetLimit(max(s.workers, 1))

	for i, gh := range issues {
		if gh.GetComments() == 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			number := gh.GetNumber()
			comments, err := s.listComments(ctx, number)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("fetching comments failed", "issue", number, "error", err)
				}
				failed.Add(1)
				return nil
			}
			results[i] = comments
			return nil
		})
	}
	_ = g.Wait()

	return results, int(failed.Load())
}

func (s *Syncer) listComments(ctx context.Context, number int) ([]*gogithub.IssueComment, error) {
	opts := &gogithub.IssueListCommentsOptions{
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	}

	var all []*gogithub.IssueComment
	for {
		var page []*gogithub.IssueComment
		resp, err := s.call(ctx, "listing comments", func() (*gogithub.Response, error) {
			var (
				resp *gogithub.Response
				err  error
			)
			page, resp, err = s.client.Issues.ListComments(ctx, s.owner, s.repo, number, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func (s *Syncer) call(ctx context.Context, what string, fn func() (*gogithub.Response, error)) (*gogithub.Response, error) {
	return Call(ctx, s.logger, s.retryBase, what, fn)
}

// throttle pauses when the remaining request budget runs low.
func (s *Syncer) throttle(ctx context.Context, resp *gogithub.Response) {
	rl := ParseRateLimit(httpResponse(resp))
	if !rl.ShouldThrottle() {
		return
	}
	wait := min(rl.WaitDuration(), maxRateLimitWait)
	if wait <= 0 {
		return
	}
	s.logger.Warn("rate limit low, pausing", "remaining", rl.Remaining, "wait", wait)
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
