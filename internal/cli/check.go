package cli

import (
	"fmt"

	"github.com/kiririmode/redmine-burndown/internal/adapters/redmine"
	"github.com/kiririmode/redmine-burndown/internal/repo"
	"github.com/spf13/cobra"
)

func checkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, Redmine and database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := opts.load()
			ctx := cmd.Context()

			fmt.Println("Configuration:")
			fmt.Printf("  Redmine:  %s\n", cfg.RedmineBaseURL)
			fmt.Printf("  Project:  %s\n", zeroOr(cfg.ProjectIdentifier, "(not set)"))
			fmt.Printf("  Version:  %s\n", zeroOr(cfg.VersionName, "(not set)"))
			if cfg.ReleaseDueDate != "" {
				fmt.Printf("  Release:  %s due %s\n", zeroOr(cfg.ReleaseName, "Release-"+cfg.ReleaseDueDate), cfg.ReleaseDueDate)
			}
			fmt.Printf("  Timezone: %s\n", cfg.TZ)
			fmt.Printf("  Done:     %v\n", cfg.DoneStatuses)
			if len(cfg.Holidays) > 0 {
				fmt.Printf("  Holidays: %d configured\n", len(cfg.Holidays))
			}

			fmt.Println("\nRedmine:")
			client := redmine.NewClient(cfg, log)
			projects, statuses, err := client.CheckConnection(ctx)
			if err != nil {
				fmt.Printf("  Status:   FAILED (%s)\n", err)
				return fmt.Errorf("redmine connection check failed")
			}
			fmt.Printf("  Status:   OK (%d projects, %d statuses visible)\n", projects, statuses)

			fmt.Println("\nDatabase:")
			db := repo.MustOpen(ctx, cfg, log)
			defer db.Close()
			r := repo.NewRepository(db, log)
			if err := r.EnsureSchema(ctx); err != nil {
				fmt.Printf("  Status:   FAILED (%s)\n", err)
				return fmt.Errorf("schema check failed")
			}
			fmt.Println("  Status:   OK (schema up to date)")
			return nil
		},
	}
}

func zeroOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
