package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	gogithub "github.com/google/go-github/v60/github"
	"github.com/spf13/cobra"

	"github.com/jacklau/issuesla/internal/config"
	"github.com/jacklau/issuesla/internal/coreteam"
	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/notify"
	"github.com/jacklau/issuesla/internal/pubsub"
	"github.com/jacklau/issuesla/internal/store"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "issuesla",
	Short: "Track how quickly GitHub issues get answered and closed",
	Long: `issuesla ingests GitHub issue webhooks, keeps a local copy of issues and
comments, and reports how often the core team meets its first-response
and time-to-close targets.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	return config.DefaultPath()
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands.
type components struct {
	Config   *config.Config
	Store    store.Store
	GHClient *gogithub.Client
	Team     *coreteam.Registry
	Broker   *pubsub.Broker[github.WebhookEvent]
	Logger   *slog.Logger
}

// Close releases the store.
func (c *components) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// initComponents creates all components from config.
func initComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		Config: cfg,
		Logger: logger,
		Team:   coreteam.New(cfg.CoreTeam),
		Broker: pubsub.NewBroker[github.WebhookEvent](),
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	c.Store = st

	client, err := github.NewClient(ctx, github.AuthConfig{
		Mode:           cfg.GitHub.Auth,
		Token:          cfg.GitHub.Token,
		AppID:          cfg.GitHub.AppID,
		InstallationID: cfg.GitHub.InstallationID,
		PrivateKey:     cfg.GitHub.PrivateKey,
		PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}
	c.GHClient = client

	return c, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case config.DriverPostgres:
		pg, err := store.OpenPostgres(ctx, sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return pg, nil
	default:
		db, err := store.Open(sc.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		return db, nil
	}
}

// createNotifier builds a Notifier from config. It returns nil when no
// webhook is configured.
func createNotifier(cfg *config.Config) (notify.Notifier, error) {
	n, err := notify.NewNotifier(cfg.Notify.SlackWebhook, cfg.Notify.DiscordWebhook)
	if errors.Is(err, notify.ErrNotConfigured) {
		return nil, nil
	}
	return n, err
}

// createSyncer builds a Syncer for owner/repo.
func createSyncer(c *components, owner, repo string) *github.Syncer {
	s := github.NewSyncer(c.GHClient, c.Store, c.Broker, owner, repo, c.Logger)
	s.SetWorkers(c.Config.Defaults.SyncWorkers)
	return s
}
