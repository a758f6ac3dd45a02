package metrics

import (
	"time"

	"github.com/jacklau/issuesla/internal/github"
)

// TrackerItem is one colored cell of a tracker bar.
type TrackerItem struct {
	Color   Color  `json:"color"`
	Tooltip string `json:"tooltip"`
}

// ChartPoint is one bar of a chart. Value is in milliseconds.
type ChartPoint struct {
	Name     string   `json:"name"`
	Value    float64  `json:"value"`
	Color    Color    `json:"color"`
	Category Category `json:"category"`
}

// Tracker is the target-met percentage plus one item per issue.
type Tracker struct {
	Metric float64       `json:"metric"`
	Items  []TrackerItem `json:"items"`
}

// Chart holds one point per issue.
type Chart struct {
	Data []ChartPoint `json:"data"`
}

// CountByCategory tallies chart points per category.
func (c Chart) CountByCategory() map[Category]int {
	counts := make(map[Category]int)
	for _, p := range c.Data {
		counts[p.Category]++
	}
	return counts
}

// Statistics is the dashboard payload for a date window.
type Statistics struct {
	From                  time.Time `json:"from"`
	To                    time.Time `json:"to"`
	ResponseTargetTracker Tracker   `json:"responseTargetTracker"`
	ResponseTargetChart   Chart     `json:"responseTargetChart"`
	CloseTimeTracker      Tracker   `json:"closeTimeTracker"`
	CloseTimeChart        Chart     `json:"closeTimeChart"`
}

// track accumulates one track of the fold.
type track struct {
	met   int
	items []TrackerItem
	data  []ChartPoint
}

func newTrack(capacity int) track {
	return track{
		items: make([]TrackerItem, 0, capacity),
		data:  make([]ChartPoint, 0, capacity),
	}
}

func (t track) add(number int, o Outcome) track {
	if o.Met() {
		t.met++
	}
	t.items = append(t.items, TrackerItem{Color: o.Color, Tooltip: o.Tooltip(number)})
	t.data = append(t.data, ChartPoint{
		Name:     o.ChartName(number),
		Value:    Milliseconds(o.Value),
		Color:    o.Color,
		Category: o.Category,
	})
	return t
}

func (t track) finish(total int) (Tracker, Chart) {
	var metric float64
	if total > 0 {
		metric = float64(t.met) / float64(total) * 100
	}
	return Tracker{Metric: metric, Items: t.items}, Chart{Data: t.data}
}

// ComputeIssueStatistics classifies every issue on both tracks and folds the
// results into tracker and chart payloads. Output order follows input order;
// callers pass issues newest first. The metric is 0 for an empty input.
func ComputeIssueStatistics(issues []github.Issue, from, to, now time.Time) Statistics {
	response := newTrack(len(issues))
	closing := newTrack(len(issues))

	for _, issue := range issues {
		ev := Evaluate(issue, now)
		response = response.add(issue.Number, ev.Response)
		closing = closing.add(issue.Number, ev.Close)
	}

	stats := Statistics{From: from, To: to}
	stats.ResponseTargetTracker, stats.ResponseTargetChart = response.finish(len(issues))
	stats.CloseTimeTracker, stats.CloseTimeChart = closing.finish(len(issues))
	return stats
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
