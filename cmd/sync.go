package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jacklau/issuesla/internal/github"
)

var (
	syncWorkers  int
	syncWatch    bool
	syncInterval string
	syncProgress bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [owner/repo ...]",
	Short: "Backfill issues and comments from the GitHub API",
	Long: `Sync lists every issue updated since the last sync, skips pull requests,
fetches comments concurrently, and stores the result. The first run of a
repo fetches its whole history.

If no arguments are provided, all repos defined in the config file
are synced. With --watch, sync repeats on the configured interval.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "concurrent comment fetches (default from config)")
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "keep syncing on an interval")
	syncCmd.Flags().StringVar(&syncInterval, "interval", "", "watch interval (default from config)")
	syncCmd.Flags().BoolVar(&syncProgress, "progress", true, "show a progress bar")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	repos, err := resolveRepos(args, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	syncers := make([]*github.Syncer, 0, len(repos))
	for _, name := range repos {
		owner, repo, _ := github.SplitRepo(name)
		s := createSyncer(c, owner, repo)
		if syncWorkers > 0 {
			s.SetWorkers(syncWorkers)
		}
		syncers = append(syncers, s)
	}

	if syncWatch {
		interval, err := resolveInterval(syncInterval, cfg.Defaults.SyncInterval)
		if err != nil {
			return err
		}
		done := make(chan struct{}, len(syncers))
		for _, s := range syncers {
			go func() {
				_ = s.Run(ctx, interval)
				done <- struct{}{}
			}()
		}
		for range syncers {
			<-done
		}
		logger.Info("sync stopped")
		return nil
	}

	out := cmd.OutOrStdout()
	for i, s := range syncers {
		if err := syncOnce(ctx, s, repos[i], out, cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	return nil
}

func syncOnce(ctx context.Context, s *github.Syncer, name string, out, progress io.Writer) error {
	if syncProgress {
		bar := newProgressBar(0, name, progress)
		s.OnProgress = bar.Set
		defer func() {
			if bar.total > 0 {
				bar.Finish()
			}
		}()
	}

	res, err := s.Sync(ctx)
	if err != nil {
		return fmt.Errorf("syncing %s: %w", name, err)
	}
	printSyncResult(out, name, res)
	return nil
}

func printSyncResult(w io.Writer, name string, res github.SyncResult) {
	if res.NotModified {
		fmt.Fprintf(w, "%s: up to date\n", name)
		return
	}
	fmt.Fprintf(w, "%s: %d issues, %d comments, %d pull requests skipped", name, res.Issues, res.Comments, res.PullRequests)
	if res.CommentErrors > 0 {
		fmt.Fprintf(w, ", %d comment fetches failed (will retry next sync)", res.CommentErrors)
	}
	fmt.Fprintln(w)
}
