// Package cmd implements the engagementd command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	engagement "github.com/jdziat/engagement-jobs"
	"github.com/jdziat/engagement-jobs/pkg/config"
)

// globals holds flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "engagementd",
		Short: "Campaign engagement ingestion pipeline",
		Long: `engagementd ingests retweets, replies, quotes, likes and public metrics
for the posts a campaign tracks, and rolls them up into hourly snapshots.

Configuration is read from --config (YAML) with environment overrides:
ENGAGEMENT_DATABASE_DSN, X_BEARER_TOKEN, X_API_RPS, X_API_BURST,
LOG_LEVEL and METRICS_ADDR.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file path (optional)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format (json, text)")

	root.AddCommand(
		newServeCmd(g),
		newMigrateCmd(g),
		newEnqueueCmd(g),
		newAddCampaignCmd(g),
		newAddTweetCmd(g),
		newRemoveTweetCmd(g),
		newStatsCmd(g),
		newCleanupCmd(g),
	)
	return root
}

// Execute runs the command line and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the configuration and applies flag overrides.
func (g *globals) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// open loads the configuration and builds a migrated pipeline.
func (g *globals) open(cmd *cobra.Command, logOut io.Writer) (*engagement.Pipeline, *slog.Logger, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Log.NewLogger(logOut)
	if err != nil {
		return nil, nil, err
	}
	p, err := engagement.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Store.Migrate(cmd.Context()); err != nil {
		_ = p.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return p, logger, nil
}
