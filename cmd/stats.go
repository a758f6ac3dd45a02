package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/metrics"
	"github.com/jacklau/issuesla/internal/stats"
)

var (
	statsFrom   string
	statsTo     string
	statsRepo   string
	statsJSON   bool
	statsIssues bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print response and close-time statistics for a window",
	Long: `Stats evaluates the stored issues created within a date window against
the first-response and time-to-close targets.

Dates are YYYY-MM-DD or RFC 3339. A bare --to date includes that whole day.
Without --from the configured window ending at --to is used.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsFrom, "from", "", "window start")
	statsCmd.Flags().StringVar(&statsTo, "to", "", "window end (default now)")
	statsCmd.Flags().StringVar(&statsRepo, "repo", "", "limit to one owner/repo")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the dashboard JSON payload")
	statsCmd.Flags().BoolVar(&statsIssues, "issues", false, "list every issue with its classification")
	rootCmd.AddCommand(statsCmd)
}

func parseStatsQuery(from, to, repo string) (stats.Query, error) {
	q := stats.Query{Repo: repo}
	var err error
	if from != "" {
		if q.From, err = stats.ParseDate(from); err != nil {
			return q, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if q.To, err = stats.ParseEndDate(to); err != nil {
			return q, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return q, nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	q, err := parseStatsQuery(statsFrom, statsTo, statsRepo)
	if err != nil {
		return err
	}

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	svc := stats.NewService(c.Store, cfg.Defaults.Window())
	now := time.Now().UTC()
	q, err = svc.ResolveAt(q, now)
	if err != nil {
		return err
	}

	issues, err := svc.Issues(ctx, q)
	if err != nil {
		return err
	}
	st := metrics.ComputeIssueStatistics(issues, q.From, q.To, now)

	out := cmd.OutOrStdout()
	if statsJSON {
		return writeJSON(out, st)
	}

	printStatsSummary(out, st)
	if statsIssues {
		fmt.Fprintln(out)
		printIssueTable(out, issues, now)
	}
	return nil
}

func printStatsSummary(w io.Writer, st metrics.Statistics) {
	fmt.Fprintf(w, "Window: %s to %s\n", st.From.Format(time.RFC3339), st.To.Format(time.RFC3339))
	fmt.Fprintf(w, "Issues: %d\n\n", len(st.CloseTimeChart.Data))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tMET\tGOOD\tBAD\tWAITING\tCORE TEAM")
	printTrackRow(tw, "first response <"+metrics.FormatDelay(metrics.ResponseTarget), st.ResponseTargetTracker, st.ResponseTargetChart)
	printTrackRow(tw, "close <"+metrics.FormatDelay(metrics.CloseTarget), st.CloseTimeTracker, st.CloseTimeChart)
	tw.Flush()
}

func printTrackRow(w io.Writer, name string, t metrics.Tracker, c metrics.Chart) {
	counts := c.CountByCategory()
	fmt.Fprintf(w, "%s\t%.1f%%\t%d\t%d\t%d\t%d\n", name, t.Metric,
		counts[metrics.CategoryGood], counts[metrics.CategoryBad],
		counts[metrics.CategoryWaiting], counts[metrics.CategoryCoreTeam])
}

func printIssueTable(w io.Writer, issues []github.Issue, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPO\tISSUE\tRESPONSE\tCLOSE\tTITLE")
	for _, is := range issues {
		ev := metrics.Evaluate(is, now)
		fmt.Fprintf(tw, "%s\t#%d\t%s %s\t%s %s\t%s\n",
			is.Repo, is.Number,
			ev.Response.Category, trackValue(ev.Response),
			ev.Close.Category, trackValue(ev.Close),
			truncateTitle(is.Title, 60))
	}
	tw.Flush()
}

func trackValue(o metrics.Outcome) string {
	if o.Category == metrics.CategoryCoreTeam {
		return ""
	}
	return "(" + metrics.FormatDelay(o.Value) + ")"
}

func truncateTitle(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
