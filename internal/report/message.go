package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jacklau/issuesla/internal/notify"
)

// Message renders the weekly digest as a notification.
func (w *Weekly) Message() notify.Message {
	topicLines := make([]string, 0, len(w.Topics))
	for _, t := range w.Topics {
		topicLines = append(topicLines, fmt.Sprintf("%s: %d", t.Label, t.Count))
	}
	missing := make([]string, 0, len(w.MissingTopics))
	for _, n := range w.MissingTopics {
		missing = append(missing, fmt.Sprintf("#%d", n))
	}

	return notify.Message{
		Title: fmt.Sprintf("Weekly activity %s to %s", w.Start, w.End),
		URL:   fmt.Sprintf("https://github.com/%s/issues", w.Repo),
		Repo:  w.Repo,
		Fields: []notify.Field{
			{Name: "Issues opened", Value: strconv.Itoa(w.IssuesOpened)},
			{Name: "Issues closed", Value: strconv.Itoa(w.IssuesClosed)},
			{Name: "PRs opened", Value: fmt.Sprintf("%d (%d core team)", w.PullsOpened, w.CoreTeamPullsOpened)},
			{Name: "PRs closed", Value: fmt.Sprintf("%d (%d core team)", w.PullsClosed, w.CoreTeamPullsClosed)},
			{Name: "p3 issues", Value: strconv.Itoa(w.P3Issues)},
			{Name: "Topics", Value: notify.BulletList(topicLines, "none")},
		},
		Body: "Issues missing topics: " + missingList(missing),
	}
}

// Message renders the monthly digest as a notification.
func (m *Monthly) Message() notify.Message {
	fields := make([]notify.Field, 0, len(m.Months))
	total := 0
	for _, mc := range m.Months {
		fields = append(fields, notify.Field{Name: mc.Month, Value: strconv.Itoa(mc.Count)})
		total += mc.Count
	}
	return notify.Message{
		Title:  "Community pull requests by month",
		URL:    fmt.Sprintf("https://github.com/%s/pulls", m.Repo),
		Repo:   m.Repo,
		Fields: fields,
		Body:   fmt.Sprintf("%d community pull requests in %d months", total, len(m.Months)),
	}
}

func missingList(numbers []string) string {
	if len(numbers) == 0 {
		return "none"
	}
	return notify.Truncate(strings.Join(numbers, ", "), 1000)
}
