package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/notify"
	"github.com/jacklau/issuesla/internal/report"
)

var (
	reportNotify bool
	reportJSON   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize repository activity from the GitHub search API",
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly [owner/repo ...]",
	Short: "Issues and pull requests opened and closed last week",
	Long: `Weekly reports last Monday-to-Sunday's opened and closed issues and pull
requests, core team pull requests, p3 issues, the topic/* label breakdown of
new issues, and the new issues that have no topic label.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		week := report.LastWeek(time.Now())
		return runReport(cmd, args, func(ctx context.Context, r *report.Reporter) (any, notify.Message, error) {
			w, err := r.Weekly(ctx, week)
			if err != nil {
				return nil, notify.Message{}, err
			}
			return w, w.Message(), nil
		}, func(out io.Writer, v any) { printWeekly(out, v.(*report.Weekly)) })
	},
}

var reportMonthlyCmd = &cobra.Command{
	Use:   "monthly [owner/repo ...]",
	Short: "Community pull requests opened per month over the last year",
	Long: `Monthly counts pull requests opened in each of the last twelve whole
months, excluding core team members, bots and drafts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		return runReport(cmd, args, func(ctx context.Context, r *report.Reporter) (any, notify.Message, error) {
			m, err := r.Monthly(ctx, now)
			if err != nil {
				return nil, notify.Message{}, err
			}
			return m, m.Message(), nil
		}, func(out io.Writer, v any) { printMonthly(out, v.(*report.Monthly)) })
	},
}

func init() {
	reportCmd.PersistentFlags().BoolVar(&reportNotify, "notify", false, "post the report to the configured Slack/Discord webhooks")
	reportCmd.PersistentFlags().BoolVar(&reportJSON, "json", false, "print the report as JSON")
	reportCmd.AddCommand(reportWeeklyCmd, reportMonthlyCmd)
	rootCmd.AddCommand(reportCmd)
}

type buildFunc func(ctx context.Context, r *report.Reporter) (any, notify.Message, error)

func runReport(cmd *cobra.Command, args []string, build buildFunc, render func(io.Writer, any)) error {
	ctx := cmd.Context()
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	repos, err := resolveRepos(args, cfg)
	if err != nil {
		return err
	}

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	var n notify.Notifier
	if reportNotify {
		if n, err = createNotifier(cfg); err != nil {
			return fmt.Errorf("creating notifier: %w", err)
		}
		if n == nil {
			return fmt.Errorf("--notify needs notify.slack_webhook or notify.discord_webhook in the config")
		}
	}

	out := cmd.OutOrStdout()
	for _, name := range repos {
		owner, repo, _ := github.SplitRepo(name)
		v, msg, err := build(ctx, report.New(c.GHClient, owner, repo, c.Team, logger))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		if reportJSON {
			if err := writeJSON(out, v); err != nil {
				return err
			}
		} else {
			render(out, v)
		}

		if n != nil {
			if err := n.Notify(ctx, msg); err != nil {
				return fmt.Errorf("sending %s report: %w", name, err)
			}
			logger.Info("report sent", "repo", name)
		}
	}
	return nil
}

func printWeekly(w io.Writer, r *report.Weekly) {
	fmt.Fprintf(w, "%s: %s to %s (%d issues and pull requests opened)\n\n", r.Repo, r.Start, r.End, r.Created)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Issues opened\t%d\n", r.IssuesOpened)
	fmt.Fprintf(tw, "Issues closed\t%d\n", r.IssuesClosed)
	fmt.Fprintf(tw, "Issues labeled p3\t%d\n", r.P3Issues)
	fmt.Fprintf(tw, "PRs opened\t%d\n", r.PullsOpened)
	fmt.Fprintf(tw, "PRs opened by core team\t%d\n", r.CoreTeamPullsOpened)
	fmt.Fprintf(tw, "PRs closed\t%d\n", r.PullsClosed)
	fmt.Fprintf(tw, "PRs closed by core team\t%d\n", r.CoreTeamPullsClosed)
	tw.Flush()

	fmt.Fprintln(w, "\nTopics:")
	if len(r.Topics) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, t := range r.Topics {
		fmt.Fprintf(w, "  %s %d\n", t.Label, t.Count)
	}

	missing := make([]string, 0, len(r.MissingTopics))
	for _, n := range r.MissingTopics {
		missing = append(missing, fmt.Sprintf("#%d", n))
	}
	if len(missing) == 0 {
		missing = append(missing, "none")
	}
	fmt.Fprintf(w, "\nIssues missing topics: %s\n", strings.Join(missing, ", "))
}

func printMonthly(w io.Writer, r *report.Monthly) {
	fmt.Fprintf(w, "%s: community pull requests\n\n", r.Repo)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tPRS")
	for _, m := range r.Months {
		fmt.Fprintf(tw, "%s\t%d\n", m.Month, m.Count)
	}
	tw.Flush()
}
