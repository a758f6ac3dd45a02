package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/ingest"
	"github.com/jacklau/issuesla/internal/pipeline"
	"github.com/jacklau/issuesla/internal/server"
	"github.com/jacklau/issuesla/internal/stats"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr     string
	serveSync     bool
	serveInterval string
	serveDryRun   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [owner/repo ...]",
	Short: "Run the webhook receiver and statistics API",
	Long: `Serve accepts GitHub issue and issue_comment webhooks, stores them, and
answers GET /api/issue-statistics. Late first responses and late closes
are posted to the configured Slack/Discord webhooks.

With --sync, the listed repos (or all configured repos) are also
re-synced from the REST API on an interval.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveSync, "sync", false, "periodically sync repos from the GitHub API")
	serveCmd.Flags().StringVar(&serveInterval, "interval", "", "sync interval (default from config)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "detect missed targets but skip notifications")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.WebhookSecret == "" {
		return fmt.Errorf("server.webhook_secret is required to verify deliveries")
	}

	interval, err := resolveInterval(serveInterval, cfg.Defaults.SyncInterval)
	if err != nil {
		return err
	}

	var repos []string
	if serveSync {
		if repos, err = resolveRepos(args, cfg); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	n, err := createNotifier(cfg)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}
	if serveDryRun {
		n = nil
		logger.Info("dry-run mode enabled, notifications disabled")
	}

	handler := server.NewHandler(
		ingest.New(c.Store, c.Broker, logger),
		stats.NewService(c.Store, cfg.Defaults.Window()),
		c.Store,
		cfg.Server.WebhookSecret,
		cfg.Server.AllowedOrigins,
		logger,
	)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p := pipeline.New(pipeline.PipelineDeps{
		Store:    c.Store,
		Broker:   c.Broker,
		Notifier: n,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down", "dropped_events", c.Broker.Dropped())
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := p.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	})

	for _, name := range repos {
		owner, repo, _ := github.SplitRepo(name)
		s := createSyncer(c, owner, repo)
		logger.Info("starting sync", "repo", name, "interval", interval.String())
		g.Go(func() error {
			runSyncLoop(gctx, s, interval, logger.With("repo", name))
			return nil
		})
	}

	return g.Wait()
}

type syncRunner interface {
	Run(ctx context.Context, interval time.Duration) error
}

// runSyncLoop runs r until ctx ends. A sync loop that dies on its own is
// logged and does not take the server down.
func runSyncLoop(ctx context.Context, r syncRunner, interval time.Duration, logger *slog.Logger) {
	if err := r.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sync loop stopped", "error", err)
	}
}

// resolveInterval returns the flag value when set, otherwise the config default.
func resolveInterval(flag string, fallback func() (time.Duration, error)) (time.Duration, error) {
	if flag == "" {
		return fallback()
	}
	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", flag, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, nil
}
