package metrics

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jacklau/issuesla/internal/github"
)

func TestComputeIssueStatisticsEmpty(t *testing.T) {
	from := refNow.Add(-30 * 24 * time.Hour)
	stats := ComputeIssueStatistics(nil, from, refNow, refNow)

	if stats.ResponseTargetTracker.Metric != 0 || stats.CloseTimeTracker.Metric != 0 {
		t.Errorf("expected zero metrics, got %v and %v",
			stats.ResponseTargetTracker.Metric, stats.CloseTimeTracker.Metric)
	}
	if !stats.From.Equal(from) || !stats.To.Equal(refNow) {
		t.Errorf("window not echoed: %v..%v", stats.From, stats.To)
	}

	// Lists must encode as [] for the dashboard, never null.
	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshaling stats: %v", err)
	}
	type items struct {
		Items json.RawMessage `json:"items"`
	}
	type data struct {
		Data json.RawMessage `json:"data"`
	}
	var decoded struct {
		ResponseTargetTracker items `json:"responseTargetTracker"`
		ResponseTargetChart   data  `json:"responseTargetChart"`
		CloseTimeTracker      items `json:"closeTimeTracker"`
		CloseTimeChart        data  `json:"closeTimeChart"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshaling stats: %v", err)
	}
	for name, got := range map[string]json.RawMessage{
		"responseTargetTracker.items": decoded.ResponseTargetTracker.Items,
		"responseTargetChart.data":    decoded.ResponseTargetChart.Data,
		"closeTimeTracker.items":      decoded.CloseTimeTracker.Items,
		"closeTimeChart.data":         decoded.CloseTimeChart.Data,
	} {
		if string(got) != "[]" {
			t.Errorf("%s = %s, want []", name, got)
		}
	}
}

func TestComputeIssueStatisticsScenario(t *testing.T) {
	// (a) core team, open, 2 days old
	a := github.Issue{
		Number:            103,
		AuthorAssociation: github.AssociationMember,
		CreatedAt:         refNow.Add(-2 * 24 * time.Hour),
	}

	// (b) community, 3 days old, first core reply at +30h, open
	bCreated := refNow.Add(-3 * 24 * time.Hour)
	b := github.Issue{
		Number:            102,
		AuthorAssociation: github.AssociationNone,
		CreatedAt:         bCreated,
		Comments: []github.Comment{
			comment(1, github.AssociationNone, bCreated.Add(2*time.Hour)),
			comment(2, github.AssociationMember, bCreated.Add(30*time.Hour)),
		},
	}

	// (c) community, 10 days old, core reply at +2h, closed after 2 days
	cCreated := refNow.Add(-10 * 24 * time.Hour)
	cClosed := cCreated.Add(2 * 24 * time.Hour)
	c := github.Issue{
		Number:            101,
		AuthorAssociation: github.AssociationContributor,
		CreatedAt:         cCreated,
		ClosedAt:          &cClosed,
		Comments: []github.Comment{
			comment(3, github.AssociationOwner, cCreated.Add(2*time.Hour)),
		},
	}

	stats := ComputeIssueStatistics([]github.Issue{a, b, c}, refNow.Add(-30*24*time.Hour), refNow, refNow)

	wantResponse := []ChartPoint{
		{Name: "#103", Value: 0, Color: ColorBlue, Category: CategoryCoreTeam},
		{Name: "#102", Value: Milliseconds(30 * time.Hour), Color: ColorRose, Category: CategoryBad},
		{Name: "#101", Value: Milliseconds(2 * time.Hour), Color: ColorEmerald, Category: CategoryGood},
	}
	wantResponseTooltips := []string{"#103 - Core Team", "#102 - 1.25d", "#101 - 2.00h"}

	wantClose := []ChartPoint{
		{Name: "#103 [waiting]", Value: Milliseconds(48 * time.Hour), Color: ColorYellow, Category: CategoryWaiting},
		{Name: "#102 [waiting]", Value: Milliseconds(72 * time.Hour), Color: ColorYellow, Category: CategoryWaiting},
		{Name: "#101", Value: Milliseconds(48 * time.Hour), Color: ColorEmerald, Category: CategoryGood},
	}
	wantCloseTooltips := []string{"#103 - waiting 2.00d", "#102 - waiting 3.00d", "#101 - 2.00d"}

	assertChart(t, "response", stats.ResponseTargetChart.Data, wantResponse)
	assertChart(t, "close", stats.CloseTimeChart.Data, wantClose)
	assertTooltips(t, "response", stats.ResponseTargetTracker.Items, wantResponseTooltips)
	assertTooltips(t, "close", stats.CloseTimeTracker.Items, wantCloseTooltips)

	// (a) and (c) meet the response target, only (c) the close target.
	if got, want := stats.ResponseTargetTracker.Metric, 200.0/3; math.Abs(got-want) > 1e-9 {
		t.Errorf("response metric = %v, want %v", got, want)
	}
	if got, want := stats.CloseTimeTracker.Metric, 100.0/3; math.Abs(got-want) > 1e-9 {
		t.Errorf("close metric = %v, want %v", got, want)
	}
}

func assertChart(t *testing.T, track string, got, want []ChartPoint) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s chart: expected %d points, got %d", track, len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s chart[%d] = %+v, want %+v", track, i, got[i], want[i])
		}
	}
}

func assertTooltips(t *testing.T, track string, items []TrackerItem, want []string) {
	t.Helper()
	if len(items) != len(want) {
		t.Fatalf("%s tracker: expected %d items, got %d", track, len(want), len(items))
	}
	for i := range want {
		if items[i].Tooltip != want[i] {
			t.Errorf("%s tracker[%d] tooltip = %q, want %q", track, i, items[i].Tooltip, want[i])
		}
	}
}

// randomIssues builds a deterministic pseudo-random issue set.
func randomIssues(r *rand.Rand, n int) []github.Issue {
	assocs := []github.AuthorAssociation{
		github.AssociationOwner, github.AssociationMember, github.AssociationCollaborator,
		github.AssociationContributor, github.AssociationNone, "",
	}

	issues := make([]github.Issue, n)
	for i := range issues {
		created := refNow.Add(-time.Duration(r.Int64N(int64(30 * 24 * time.Hour))))
		issue := github.Issue{
			Number:            n - i,
			AuthorAssociation: assocs[r.IntN(len(assocs))],
			CreatedAt:         created,
		}
		for j := r.IntN(4); j > 0; j-- {
			at := created.Add(time.Duration(r.Int64N(int64(refNow.Sub(created)) + 1)))
			issue.Comments = append(issue.Comments, comment(int64(i*10+j), assocs[r.IntN(len(assocs))], at))
		}
		if r.IntN(2) == 0 {
			closed := created.Add(time.Duration(r.Int64N(int64(refNow.Sub(created)) + 1)))
			issue.ClosedAt = &closed
		}
		issues[i] = issue
	}
	return issues
}

func TestComputeIssueStatisticsProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))

	for round := 0; round < 50; round++ {
		issues := randomIssues(r, r.IntN(25))
		stats := ComputeIssueStatistics(issues, refNow.Add(-30*24*time.Hour), refNow, refNow)

		for _, tr := range []Tracker{stats.ResponseTargetTracker, stats.CloseTimeTracker} {
			if tr.Metric < 0 || tr.Metric > 100 || math.IsNaN(tr.Metric) {
				t.Fatalf("round %d: metric %v out of range", round, tr.Metric)
			}
			if len(issues) == 0 && tr.Metric != 0 {
				t.Fatalf("round %d: expected 0 metric for empty set, got %v", round, tr.Metric)
			}
			if len(tr.Items) != len(issues) {
				t.Fatalf("round %d: expected %d items, got %d", round, len(issues), len(tr.Items))
			}
		}

		charts := []Chart{stats.ResponseTargetChart, stats.CloseTimeChart}
		trackers := []Tracker{stats.ResponseTargetTracker, stats.CloseTimeTracker}
		for k := range charts {
			for i, issue := range issues {
				ev := Evaluate(issue, refNow)
				want := ev.Response
				if k == 1 {
					want = ev.Close
				}
				point := charts[k].Data[i]
				item := trackers[k].Items[i]
				if point.Category != want.Category || point.Name != want.ChartName(issue.Number) {
					t.Fatalf("round %d track %d index %d: point %+v does not match issue #%d", round, k, i, point, issue.Number)
				}
				if item.Color != point.Color || item.Tooltip != want.Tooltip(issue.Number) {
					t.Fatalf("round %d track %d index %d: tracker item %+v out of step with chart", round, k, i, item)
				}
			}
		}
	}
}

func TestComputeIssueStatisticsAllMet(t *testing.T) {
	issues := []github.Issue{
		{Number: 2, AuthorAssociation: github.AssociationOwner, CreatedAt: refNow.Add(-time.Hour)},
		{Number: 1, AuthorAssociation: github.AssociationCollaborator, CreatedAt: refNow.Add(-2 * time.Hour)},
	}
	stats := ComputeIssueStatistics(issues, refNow.Add(-24*time.Hour), refNow, refNow)

	if stats.ResponseTargetTracker.Metric != 100 {
		t.Errorf("expected response metric 100, got %v", stats.ResponseTargetTracker.Metric)
	}
	if stats.CloseTimeTracker.Metric != 0 {
		t.Errorf("expected close metric 0 for open issues, got %v", stats.CloseTimeTracker.Metric)
	}
}

func TestCountByCategory(t *testing.T) {
	chart := Chart{Data: []ChartPoint{
		{Category: CategoryGood}, {Category: CategoryBad}, {Category: CategoryGood}, {Category: CategoryWaiting},
	}}
	counts := chart.CountByCategory()
	if counts[CategoryGood] != 2 || counts[CategoryBad] != 1 || counts[CategoryWaiting] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if counts[CategoryCoreTeam] != 0 {
		t.Errorf("expected no core-team entries, got %d", counts[CategoryCoreTeam])
	}
}
