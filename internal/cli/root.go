package cli

import (
	"fmt"
	"os"

	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	project    string
	version    string
	dueDate    string
	name       string
	verbose    bool
}

// Execute builds the command tree and runs it.
func Execute() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "rd-burndown",
		Short:   "Redmine burndown chart data collector",
		Long:    "rd-burndown syncs Redmine issues into Postgres and records daily burndown snapshots per version or release.",
		Version: Version,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "rd-burndown.yaml", "config file path")
	pf.StringVar(&opts.project, "project", "", "Redmine project identifier (overrides config)")
	pf.StringVar(&opts.version, "version-name", "", "target version name (overrides config)")
	pf.StringVar(&opts.dueDate, "due-date", "", "release due date YYYY-MM-DD (overrides config)")
	pf.StringVar(&opts.name, "name", "", "release name (overrides config)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(checkCmd(opts))
	rootCmd.AddCommand(syncCmd(opts))
	rootCmd.AddCommand(snapshotCmd(opts))
	rootCmd.AddCommand(serveCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads config, applies flag overrides and builds the logger.
func (o *rootOptions) load() (config.Config, zerolog.Logger) {
	cfg := config.Load(o.configPath)
	if o.project != "" {
		cfg.ProjectIdentifier = o.project
	}
	if o.version != "" {
		cfg.VersionName = o.version
	}
	if o.dueDate != "" {
		cfg.ReleaseDueDate = o.dueDate
	}
	if o.name != "" {
		cfg.ReleaseName = o.name
	}
	log := logger.New(cfg)
	if o.verbose {
		log = log.Level(zerolog.DebugLevel)
	}
	return cfg, log
}
