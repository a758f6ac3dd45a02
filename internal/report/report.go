// Package report builds repository activity digests from the GitHub search API.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/issuesla/internal/coreteam"
	"github.com/jacklau/issuesla/internal/github"
)

const (
	// topicPrefix marks labels that name an issue's topic area.
	topicPrefix = "topic/"

	// priorityLabel is the label counted as low-priority in the weekly digest.
	priorityLabel = "p3"

	// monthsBack is how many whole months the monthly digest covers.
	monthsBack = 12

	searchPerPage = 100
)

const dateLayout = "2006-01-02"

// Reporter queries one repository for digest data.
type Reporter struct {
	client    *gogithub.Client
	owner     string
	repo      string
	team      *coreteam.Registry
	logger    *slog.Logger
	retryBase time.Duration
}

// New creates a Reporter for owner/repo. team may be nil.
func New(client *gogithub.Client, owner, repo string, team *coreteam.Registry, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		client:    client,
		owner:     owner,
		repo:      repo,
		team:      team,
		logger:    logger,
		retryBase: time.Second,
	}
}

// Period is an inclusive range of calendar days.
type Period struct {
	Start time.Time
	End   time.Time
}

// String renders the period in search qualifier form, e.g. 2024-03-04..2024-03-10.
func (p Period) String() string {
	return p.Start.Format(dateLayout) + ".." + p.End.Format(dateLayout)
}

// LastWeek returns Monday through Sunday of the most recent full week before now.
// On a Sunday the week ending that day is still in progress, so the one
// before it is returned.
func LastWeek(now time.Time) Period {
	day := truncateDay(now)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	end := day.AddDate(0, 0, -weekday)
	return Period{Start: end.AddDate(0, 0, -6), End: end}
}

// LastMonths returns the n whole calendar months before the month containing now, oldest first.
func LastMonths(now time.Time, n int) []Period {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	periods := make([]Period, 0, n)
	for i := n; i >= 1; i-- {
		start := first.AddDate(0, -i, 0)
		periods = append(periods, Period{Start: start, End: start.AddDate(0, 1, -1)})
	}
	return periods
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// search returns every issue and pull request matching qualifiers in the repository.
func (r *Reporter) search(ctx context.Context, qualifiers string) ([]*gogithub.Issue, error) {
	q := fmt.Sprintf("repo:%s/%s %s", r.owner, r.repo, qualifiers)
	r.logger.Debug("searching", "query", q)

	opts := &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: searchPerPage}}
	var all []*gogithub.Issue
	for {
		var result *gogithub.IssuesSearchResult
		resp, err := github.Call(ctx, r.logger, r.retryBase, "search", func() (*gogithub.Response, error) {
			var resp *gogithub.Response
			var err error
			result, resp, err = r.client.Search.Issues(ctx, q, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", q, err)
		}
		all = append(all, result.Issues...)
		if result.GetIncompleteResults() {
			r.logger.Warn("search results incomplete", "query", q)
		}

		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func splitPulls(items []*gogithub.Issue) (issues, pulls []*gogithub.Issue) {
	for _, it := range items {
		if it.IsPullRequest() {
			pulls = append(pulls, it)
		} else {
			issues = append(issues, it)
		}
	}
	return issues, pulls
}

func (r *Reporter) countCoreTeam(items []*gogithub.Issue) int {
	n := 0
	for _, it := range items {
		if r.team.IsCoreTeam(it.GetUser().GetLogin()) {
			n++
		}
	}
	return n
}

// TopicCount is the number of new issues carrying one topic label.
type TopicCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Weekly is the activity digest for one week.
type Weekly struct {
	Repo   string `json:"repo"`
	Period Period `json:"-"`
	Start  string `json:"start"`
	End    string `json:"end"`

	Created             int `json:"created"`
	PullsOpened         int `json:"pulls_opened"`
	CoreTeamPullsOpened int `json:"core_team_pulls_opened"`
	PullsClosed         int `json:"pulls_closed"`
	CoreTeamPullsClosed int `json:"core_team_pulls_closed"`
	IssuesOpened        int `json:"issues_opened"`
	IssuesClosed        int `json:"issues_closed"`
	P3Issues            int `json:"p3_issues"`

	Topics        []TopicCount `json:"topics"`
	MissingTopics []int        `json:"missing_topics"`
}

// Weekly builds the digest for the given week.
func (r *Reporter) Weekly(ctx context.Context, week Period) (*Weekly, error) {
	created, err := r.search(ctx, "created:"+week.String())
	if err != nil {
		return nil, err
	}
	closed, err := r.search(ctx, "closed:"+week.String())
	if err != nil {
		return nil, err
	}
	p3, err := r.search(ctx, fmt.Sprintf("updated:%s label:%s", week, priorityLabel))
	if err != nil {
		return nil, err
	}

	newIssues, newPulls := splitPulls(created)
	closedIssues, closedPulls := splitPulls(closed)
	p3Issues, _ := splitPulls(p3)

	w := &Weekly{
		Repo:                r.owner + "/" + r.repo,
		Period:              week,
		Start:               week.Start.Format(dateLayout),
		End:                 week.End.Format(dateLayout),
		Created:             len(created),
		PullsOpened:         len(newPulls),
		CoreTeamPullsOpened: r.countCoreTeam(newPulls),
		PullsClosed:         len(closedPulls),
		CoreTeamPullsClosed: r.countCoreTeam(closedPulls),
		IssuesOpened:        len(newIssues),
		IssuesClosed:        len(closedIssues),
		P3Issues:            len(p3Issues),
	}
	w.Topics, w.MissingTopics = topics(newIssues)
	return w, nil
}

// topics tallies topic labels across issues and lists the issue numbers with none.
func topics(issues []*gogithub.Issue) ([]TopicCount, []int) {
	counts := make(map[string]int)
	missing := []int{}
	for _, is := range issues {
		found := false
		for _, l := range is.Labels {
			if strings.HasPrefix(l.GetName(), topicPrefix) {
				counts[l.GetName()]++
				found = true
			}
		}
		if !found {
			missing = append(missing, is.GetNumber())
		}
	}

	out := make([]TopicCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, TopicCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	sort.Ints(missing)
	return out, missing
}

// MonthCount is the number of community pull requests opened in one month.
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// Monthly is the community contribution digest.
type Monthly struct {
	Repo   string       `json:"repo"`
	Months []MonthCount `json:"months"`
}

// Monthly counts pull requests opened by community members in each of the
// twelve months before now. Core team members, bots and drafts are excluded.
func (r *Reporter) Monthly(ctx context.Context, now time.Time) (*Monthly, error) {
	m := &Monthly{Repo: r.owner + "/" + r.repo}
	for _, p := range LastMonths(now, monthsBack) {
		pulls, err := r.search(ctx, "is:pr created:"+p.String())
		if err != nil {
			return nil, err
		}
		n := 0
		for _, pr := range pulls {
			login := pr.GetUser().GetLogin()
			if pr.GetDraft() || coreteam.IsBot(login) || r.team.IsCoreTeam(login) {
				continue
			}
			n++
		}
		m.Months = append(m.Months, MonthCount{Month: p.Start.Format("2006-01"), Count: n})
	}
	return m, nil
}
