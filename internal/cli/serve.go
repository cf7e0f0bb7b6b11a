package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiririmode/redmine-burndown/internal/adapters/redmine"
	httpapi "github.com/kiririmode/redmine-burndown/internal/http"
	"github.com/kiririmode/redmine-burndown/internal/jobs"
	"github.com/kiririmode/redmine-burndown/internal/repo"
	"github.com/kiririmode/redmine-burndown/internal/snapshot"
	"github.com/kiririmode/redmine-burndown/internal/sync"
	"github.com/spf13/cobra"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reporting API and the daily snapshot scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := opts.load()
			ctx := cmd.Context()

			db := repo.MustOpen(ctx, cfg, log)
			defer db.Close()
			r := repo.NewRepository(db, log)
			if err := r.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			syncSvc := sync.NewService(cfg, log, redmine.NewClient(cfg, log), r)
			snapSvc := snapshot.NewService(cfg, log, r)

			cron := jobs.NewCron(cfg, log, syncSvc, snapSvc, r)
			cron.Start()
			defer cron.Stop()

			router := httpapi.NewRouter(cfg, log, r)

			errCh := make(chan error, 1)
			go func() { errCh <- router.Run(cfg.HTTPAddr) }()
			log.Info().Str("addr", cfg.HTTPAddr).Str("cron", cfg.SnapshotCron).Msg("serving")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sigCh:
				log.Info().Msg("shutting down")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
}
