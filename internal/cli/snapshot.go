package cli

import (
	"fmt"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/domain"
	"github.com/kiririmode/redmine-burndown/internal/repo"
	"github.com/kiririmode/redmine-burndown/internal/snapshot"
	"github.com/spf13/cobra"
)

func snapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record and inspect burndown snapshots",
	}
	cmd.AddCommand(snapshotCreateCmd(opts))
	cmd.AddCommand(snapshotListCmd(opts))
	return cmd
}

func snapshotCreateCmd(opts *rootOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Compute and persist today's burndown snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := opts.load()
			ctx := cmd.Context()

			p := snapshot.Params{
				ProjectIdentifier: cfg.ProjectIdentifier,
				VersionName:       cfg.VersionName,
				ReleaseDueDate:    cfg.ReleaseDueDate,
				ReleaseName:       cfg.ReleaseName,
			}
			if at != "" {
				d, err := time.Parse("2006-01-02", at)
				if err != nil {
					return fmt.Errorf("bad --at date %q: %w", at, err)
				}
				p.TargetDate = d
			}

			db := repo.MustOpen(ctx, cfg, log)
			defer db.Close()
			r := repo.NewRepository(db, log)
			if err := r.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			res, err := snapshot.NewService(cfg, log, r).Create(ctx, p)
			if err != nil {
				return err
			}

			fmt.Printf("Snapshot %s for %s #%d\n", res.Date.Format("2006-01-02"), res.Target.Kind, res.Target.ID)
			fmt.Printf("  Scope:     %6.1fh\n", res.Snapshot.ScopeHours)
			fmt.Printf("  Remaining: %6.1fh\n", res.Snapshot.RemainingHours)
			fmt.Printf("  Completed: %6.1fh\n", res.Snapshot.CompletedHours)
			fmt.Printf("  Ideal:     %6.1fh\n", res.Snapshot.IdealRemainingHours)
			for _, a := range res.Assignees {
				name := "(unassigned)"
				if a.AssignedToName != nil {
					name = *a.AssignedToName
				}
				fmt.Printf("  %-20s scope %6.1fh remaining %6.1fh\n", name, a.ScopeHours, a.RemainingHours)
			}
			for _, w := range res.Warnings {
				fmt.Printf("  warning: %s\n", w.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "snapshot date YYYY-MM-DD (default today)")
	return cmd
}

func snapshotListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent snapshots for the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := opts.load()
			ctx := cmd.Context()

			db := repo.MustOpen(ctx, cfg, log)
			defer db.Close()
			r := repo.NewRepository(db, log)
			if err := r.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			target, err := resolveListTarget(cmd, cfg, r)
			if err != nil {
				return err
			}

			rows, err := r.SnapshotsByTarget(ctx, target, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Printf("No snapshots for %s #%d yet\n", target.Kind, target.ID)
				return nil
			}

			fmt.Printf("%-12s %8s %10s %10s %8s\n", "DATE", "SCOPE", "REMAINING", "COMPLETED", "IDEAL")
			for _, s := range rows {
				fmt.Printf("%-12s %7.1fh %9.1fh %9.1fh %7.1fh\n",
					s.Date.Format("2006-01-02"), s.ScopeHours, s.RemainingHours, s.CompletedHours, s.IdealRemainingHours)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 30, "maximum rows to show")
	return cmd
}

func resolveListTarget(cmd *cobra.Command, cfg config.Config, r *repo.Repository) (domain.Target, error) {
	ctx := cmd.Context()
	if cfg.VersionName != "" {
		v, err := r.VersionByName(ctx, cfg.VersionName)
		if err != nil {
			return domain.Target{}, err
		}
		if v == nil {
			return domain.Target{}, fmt.Errorf("version not found: %s", cfg.VersionName)
		}
		return domain.Target{Kind: domain.TargetVersion, ID: v.ID}, nil
	}
	if cfg.ReleaseDueDate != "" {
		due, err := time.Parse("2006-01-02", cfg.ReleaseDueDate)
		if err != nil {
			return domain.Target{}, fmt.Errorf("bad release due date %q: %w", cfg.ReleaseDueDate, err)
		}
		name := cfg.ReleaseName
		if name == "" {
			name = "Release-" + cfg.ReleaseDueDate
		}
		pid, err := r.ProjectID(ctx, cfg.ProjectIdentifier)
		if err != nil {
			return domain.Target{}, err
		}
		rel, err := r.ReleaseByCriteria(ctx, pid, due, name)
		if err != nil {
			return domain.Target{}, err
		}
		if rel == nil {
			return domain.Target{}, fmt.Errorf("release not found: %s", name)
		}
		return domain.Target{Kind: domain.TargetRelease, ID: rel.ID}, nil
	}
	return domain.Target{}, fmt.Errorf("no target: set a version name or release due date")
}
