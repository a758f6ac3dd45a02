package metrics

import (
	"fmt"
	"time"

	"github.com/jacklau/issuesla/internal/github"
)

const (
	// ResponseTarget is how long a community issue may wait for its first core team response.
	ResponseTarget = 24 * time.Hour

	// CloseTarget is how long an issue may stay open.
	CloseTarget = 7 * 24 * time.Hour
)

// Category is the bucket an issue falls into on one track.
type Category string

const (
	CategoryGood     Category = "good"
	CategoryBad      Category = "bad"
	CategoryWaiting  Category = "waiting"
	CategoryCoreTeam Category = "core-team" // response track only
)

// Color is the dashboard color of a bucket.
type Color string

const (
	ColorEmerald Color = "emerald"
	ColorRose    Color = "rose"
	ColorYellow  Color = "yellow"
	ColorBlue    Color = "blue"
)

// Outcome is the classification of one issue on one track.
type Outcome struct {
	Category Category
	Color    Color

	// Waiting marks Value as an open-ended wait measured up to the reference instant.
	Waiting bool

	// Value is the duration rendered in tooltips and charts. It is zero for
	// core team issues.
	Value time.Duration
}

// Met reports whether the outcome counts toward the target-met percentage.
func (o Outcome) Met() bool {
	return o.Category == CategoryGood || o.Category == CategoryCoreTeam
}

// Tooltip renders the tracker tooltip for issue number.
func (o Outcome) Tooltip(number int) string {
	switch {
	case o.Category == CategoryCoreTeam:
		return fmt.Sprintf("#%d - Core Team", number)
	case o.Waiting:
		return fmt.Sprintf("#%d - waiting %s", number, FormatDelay(o.Value))
	default:
		return fmt.Sprintf("#%d - %s", number, FormatDelay(o.Value))
	}
}

// ChartName renders the chart point label for issue number.
func (o Outcome) ChartName(number int) string {
	if o.Waiting {
		return fmt.Sprintf("#%d [waiting]", number)
	}
	return fmt.Sprintf("#%d", number)
}

type verdict struct {
	category Category
	color    Color
	waiting  bool
}

func (v verdict) outcome(value time.Duration) Outcome {
	return Outcome{Category: v.category, Color: v.color, Waiting: v.waiting, Value: value}
}

var (
	good    = verdict{CategoryGood, ColorEmerald, false}
	bad     = verdict{CategoryBad, ColorRose, false}
	overdue = verdict{CategoryBad, ColorRose, true}
	pending = verdict{CategoryWaiting, ColorYellow, true}
)

// closeKey indexes the close-time table. overTarget is CloseDelay >= CloseTarget
// for closed issues and Age > CloseTarget for open ones.
type closeKey struct {
	closed     bool
	overTarget bool
}

var closeTable = map[closeKey]verdict{
	{closed: true, overTarget: false}:  good,
	{closed: true, overTarget: true}:   bad,
	{closed: false, overTarget: true}:  overdue,
	{closed: false, overTarget: false}: pending,
}

// responseKey indexes the response-time table. late is only set when the
// issue is mature and has a core team response.
type responseKey struct {
	mature    bool
	responded bool
	late      bool
}

var responseTable = map[responseKey]verdict{
	{mature: true, responded: true, late: false}: good,
	{mature: true, responded: true, late: true}:  bad,
	{mature: true, responded: false}:             overdue,
	{mature: false, responded: true}:             good,
	{mature: false, responded: false}:            pending,
}

// ClassifyClose places an issue on the close-time track.
func ClassifyClose(f Facts) Outcome {
	if f.Closed {
		return closeTable[closeKey{closed: true, overTarget: f.CloseDelay >= CloseTarget}].outcome(f.CloseDelay)
	}
	return closeTable[closeKey{closed: false, overTarget: f.Age > CloseTarget}].outcome(f.Age)
}

// ClassifyResponse places an issue on the response-time track. Core team
// issues always count as met with a zero value.
func ClassifyResponse(f Facts) Outcome {
	if f.CoreTeamAuthored {
		return Outcome{Category: CategoryCoreTeam, Color: ColorBlue}
	}

	key := responseKey{
		mature:    f.Age > ResponseTarget,
		responded: f.Responded(),
	}
	if key.mature && key.responded {
		key.late = f.FirstResponseDelay >= ResponseTarget
	}
	return responseTable[key].outcome(f.FirstResponseDelay)
}

// Evaluation is the full classification of a single issue.
type Evaluation struct {
	Facts    Facts
	Response Outcome
	Close    Outcome
}

// Evaluate derives the facts for issue at now and classifies it on both tracks.
func Evaluate(issue github.Issue, now time.Time) Evaluation {
	f := Derive(issue, now)
	return Evaluation{
		Facts:    f,
		Response: ClassifyResponse(f),
		Close:    ClassifyClose(f),
	}
}
