package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jacklau/issuesla/internal/config"
	"github.com/jacklau/issuesla/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked repositories and store size",
	Long: `Display per-repository issue, open and comment counts, the newest issue,
the last successful sync, and the size of the database file.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	allStats, err := store.GetAllRepoStats(ctx, c.Store)
	if err != nil {
		return fmt.Errorf("querying stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(allStats) == 0 {
		fmt.Fprintln(out, "No repositories tracked yet.")
		fmt.Fprintln(out, "Run 'issuesla sync <owner/repo>' or point a webhook at 'issuesla serve' to get started.")
		return nil
	}

	printRepoStats(out, allStats)
	fmt.Fprintln(out)
	fmt.Fprintln(out, storeDescription(cfg.Store))
	return nil
}

func printRepoStats(w io.Writer, allStats []store.RepoStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tISSUES\tOPEN\tCOMMENTS\tNEWEST ISSUE\tLAST SYNCED")
	fmt.Fprintln(tw, "----------\t------\t----\t--------\t------------\t-----------")

	var totalIssues, totalOpen, totalComments int
	for _, s := range allStats {
		newest := "-"
		if s.LastIssueAt != nil {
			newest = humanize.Time(*s.LastIssueAt)
		}
		synced := "never"
		if s.Repo.LastSyncedAt != nil {
			synced = humanize.Time(*s.Repo.LastSyncedAt)
		}

		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Repo.FullName(), s.IssueCount, s.OpenCount, s.CommentCount, newest, synced)

		totalIssues += s.IssueCount
		totalOpen += s.OpenCount
		totalComments += s.CommentCount
	}

	if len(allStats) > 1 {
		fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t\t\n", totalIssues, totalOpen, totalComments)
	}
	tw.Flush()
}

// storeDescription names the store and, for sqlite, its file size.
func storeDescription(sc config.StoreConfig) string {
	if sc.Driver == config.DriverPostgres {
		return "Database: postgres"
	}
	size, err := dbFileSize(sc.Path)
	if err != nil {
		return fmt.Sprintf("Database: %s (size unknown)", sc.Path)
	}
	return fmt.Sprintf("Database: %s (%s)", sc.Path, humanize.IBytes(uint64(size)))
}

// dbFileSize returns the size in bytes of the database file.
func dbFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
