package report

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v60/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacklau/issuesla/internal/coreteam"
)

type item map[string]any

func issueItem(number int, login string, labels ...string) item {
	ls := make([]item, 0, len(labels))
	for _, l := range labels {
		ls = append(ls, item{"name": l})
	}
	return item{"number": number, "user": item{"login": login}, "labels": ls}
}

func pullItem(number int, login string, draft bool) item {
	it := issueItem(number, login)
	it["pull_request"] = item{"url": fmt.Sprintf("https://api.github.com/repos/octo/app/pulls/%d", number)}
	it["draft"] = draft
	return it
}

func writeSearch(t *testing.T, w http.ResponseWriter, items []item) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(item{"total_count": len(items), "incomplete_results": false, "items": items})
	require.NoError(t, err)
}

func newTestReporter(t *testing.T, handler http.HandlerFunc, team ...string) *Reporter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := gogithub.NewClient(nil)
	baseURL, err := client.BaseURL.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = baseURL

	r := New(client, "octo", "app", coreteam.New(team), nil)
	r.retryBase = time.Millisecond
	return r
}

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLastWeek(t *testing.T) {
	tests := []struct {
		now, start, end string
	}{
		{"2024-03-13", "2024-03-04", "2024-03-10"}, // Wednesday
		{"2024-03-11", "2024-03-04", "2024-03-10"}, // Monday
		{"2024-03-17", "2024-03-04", "2024-03-10"}, // Sunday
		{"2024-03-18", "2024-03-11", "2024-03-17"},
	}
	for _, tt := range tests {
		p := LastWeek(day(tt.now).Add(15 * time.Hour))
		assert.Equal(t, tt.start, p.Start.Format(dateLayout), tt.now)
		assert.Equal(t, tt.end, p.End.Format(dateLayout), tt.now)
	}
	assert.Equal(t, "2024-03-04..2024-03-10", LastWeek(day("2024-03-13")).String())
}

func TestLastMonths(t *testing.T) {
	periods := LastMonths(day("2024-03-13"), 12)
	require.Len(t, periods, 12)
	assert.Equal(t, "2023-03-01..2023-03-31", periods[0].String())
	assert.Equal(t, "2024-02-01..2024-02-29", periods[11].String())
}

func TestWeekly(t *testing.T) {
	var queries []string
	r := newTestReporter(t, func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/search/issues", req.URL.Path)
		q := req.URL.Query().Get("q")
		queries = append(queries, q)

		switch {
		case strings.Contains(q, "created:"):
			writeSearch(t, w, []item{
				issueItem(1, "visitor", "bug", "topic/cli"),
				issueItem(2, "visitor", "topic/cli", "topic/auth"),
				issueItem(3, "visitor", "bug"),
				issueItem(4, "visitor"),
				pullItem(5, "maintainer", false),
				pullItem(6, "visitor", false),
			})
		case strings.Contains(q, "closed:"):
			writeSearch(t, w, []item{
				issueItem(7, "visitor"),
				pullItem(8, "Maintainer", false),
			})
		case strings.Contains(q, "label:p3"):
			writeSearch(t, w, []item{issueItem(9, "visitor", "p3"), pullItem(10, "visitor", false)})
		default:
			t.Errorf("unexpected query %q", q)
		}
	}, "maintainer")

	week := LastWeek(day("2024-03-13"))
	got, err := r.Weekly(t.Context(), week)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"repo:octo/app created:2024-03-04..2024-03-10",
		"repo:octo/app closed:2024-03-04..2024-03-10",
		"repo:octo/app updated:2024-03-04..2024-03-10 label:p3",
	}, queries)

	assert.Equal(t, "octo/app", got.Repo)
	assert.Equal(t, "2024-03-04", got.Start)
	assert.Equal(t, "2024-03-10", got.End)
	assert.Equal(t, 6, got.Created)
	assert.Equal(t, 4, got.IssuesOpened)
	assert.Equal(t, 2, got.PullsOpened)
	assert.Equal(t, 1, got.CoreTeamPullsOpened)
	assert.Equal(t, 1, got.IssuesClosed)
	assert.Equal(t, 1, got.PullsClosed)
	assert.Equal(t, 1, got.CoreTeamPullsClosed)
	assert.Equal(t, 1, got.P3Issues)
	assert.Equal(t, []TopicCount{{"topic/cli", 2}, {"topic/auth", 1}}, got.Topics)
	assert.Equal(t, []int{3, 4}, got.MissingTopics)

	msg := got.Message()
	assert.Equal(t, "Weekly activity 2024-03-04 to 2024-03-10", msg.Title)
	assert.Contains(t, msg.Body, "#3, #4")
	assert.Equal(t, "- topic/cli: 2\n- topic/auth: 1", msg.Fields[5].Value)
}

func TestSearchPagination(t *testing.T) {
	var calls atomic.Int32
	var srvURL string
	r := newTestReporter(t, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		if req.URL.Query().Get("page") == "2" {
			writeSearch(t, w, []item{issueItem(3, "c")})
			return
		}
		assert.Equal(t, "100", req.URL.Query().Get("per_page"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/search/issues?q=x&page=2>; rel="next"`, srvURL))
		writeSearch(t, w, []item{issueItem(1, "a"), issueItem(2, "b")})
	})
	srvURL = strings.TrimSuffix(r.client.BaseURL.String(), "/")

	items, err := r.search(t.Context(), "created:2024-03-04..2024-03-10")
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	r := newTestReporter(t, func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeSearch(t, w, []item{issueItem(1, "a")})
	})

	items, err := r.search(t.Context(), "is:pr")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSearchValidationErrorFails(t *testing.T) {
	var calls atomic.Int32
	r := newTestReporter(t, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Validation Failed"}`))
	})

	_, err := r.Weekly(t.Context(), LastWeek(day("2024-03-13")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "searching")
	assert.EqualValues(t, 1, calls.Load())
}

func TestMonthly(t *testing.T) {
	var queries []string
	r := newTestReporter(t, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query().Get("q")
		queries = append(queries, q)
		if strings.Contains(q, "2024-02-01..2024-02-29") {
			writeSearch(t, w, []item{
				pullItem(1, "visitor", false),
				pullItem(2, "other", false),
				pullItem(3, "visitor", true),
				pullItem(4, "renovate[bot]", false),
				pullItem(5, "Maintainer", false),
			})
			return
		}
		writeSearch(t, w, nil)
	}, "maintainer")

	got, err := r.Monthly(t.Context(), day("2024-03-13"))
	require.NoError(t, err)

	require.Len(t, queries, 12)
	assert.Equal(t, "repo:octo/app is:pr created:2023-03-01..2023-03-31", queries[0])

	require.Len(t, got.Months, 12)
	assert.Equal(t, MonthCount{Month: "2023-03", Count: 0}, got.Months[0])
	assert.Equal(t, MonthCount{Month: "2024-02", Count: 2}, got.Months[11])

	msg := got.Message()
	assert.Len(t, msg.Fields, 12)
	assert.Equal(t, "2 community pull requests in 12 months", msg.Body)
}
