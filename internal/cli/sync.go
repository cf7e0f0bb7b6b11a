package cli

import (
	"fmt"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/adapters/redmine"
	"github.com/kiririmode/redmine-burndown/internal/domain"
	"github.com/kiririmode/redmine-burndown/internal/repo"
	"github.com/kiririmode/redmine-burndown/internal/sync"
	"github.com/spf13/cobra"
)

func syncCmd(opts *rootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync issues and journals for the target version from Redmine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := opts.load()
			ctx := cmd.Context()

			if cfg.ProjectIdentifier == "" {
				return fmt.Errorf("project identifier required (--project or config)")
			}

			db := repo.MustOpen(ctx, cfg, log)
			defer db.Close()
			r := repo.NewRepository(db, log)
			if err := r.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			svc := sync.NewService(cfg, log, redmine.NewClient(cfg, log), r)

			if cfg.ReleaseDueDate != "" {
				rel, err := svc.EnsureRelease(ctx, cfg.ProjectIdentifier, cfg.ReleaseDueDate, cfg.ReleaseName)
				if err != nil {
					return fmt.Errorf("register release: %w", err)
				}
				fmt.Printf("Release %q (due %s) registered as #%d\n", rel.Name, rel.DueDate.Format("2006-01-02"), rel.ID)
			}

			if cfg.VersionName == "" {
				if cfg.ReleaseDueDate != "" {
					return nil
				}
				return fmt.Errorf("version name required (--version-name or config)")
			}

			res, err := svc.Run(ctx, cfg.ProjectIdentifier, cfg.VersionName, full)
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d issues and %d journal entries for version #%d in %s\n",
				res.IssuesSynced, res.JournalsSynced, res.VersionID, res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "ignore the incremental watermark and refetch everything")
	cmd.AddCommand(syncStatusCmd(opts))
	return cmd
}

func syncStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := opts.load()
			ctx := cmd.Context()

			db := repo.MustOpen(ctx, cfg, log)
			defer db.Close()
			r := repo.NewRepository(db, log)
			if err := r.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			sr, err := r.LastSyncRun(ctx)
			if err != nil {
				return err
			}
			fmt.Print(formatSyncStatus(sr))
			return nil
		},
	}
}

func formatSyncStatus(sr *domain.SyncRun) string {
	if sr == nil {
		return "No sync runs recorded yet\n"
	}
	state := "FAILED"
	if sr.Success {
		state = "OK"
	}
	out := fmt.Sprintf("Last sync run #%d: %s\n", sr.ID, state)
	out += fmt.Sprintf("  Project:  %s\n", sr.Project)
	out += fmt.Sprintf("  Version:  %s\n", sr.Version)
	out += fmt.Sprintf("  Started:  %s\n", sr.StartedAt.Format(time.RFC3339))
	if sr.FinishedAt != nil {
		out += fmt.Sprintf("  Finished: %s\n", sr.FinishedAt.Format(time.RFC3339))
	} else {
		out += "  Finished: (still running)\n"
	}
	out += fmt.Sprintf("  Issues:   %d\n", sr.IssuesSynced)
	out += fmt.Sprintf("  Journals: %d\n", sr.JournalsSynced)
	if sr.Error != "" {
		out += fmt.Sprintf("  Error:    %s\n", sr.Error)
	}
	return out
}
