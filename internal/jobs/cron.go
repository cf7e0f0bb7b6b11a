package jobs

import (
	"context"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/repo"
	"github.com/kiririmode/redmine-burndown/internal/snapshot"
	"github.com/kiririmode/redmine-burndown/internal/sync"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type syncer interface {
	Run(ctx context.Context, project, version string, full bool) (*sync.Result, error)
}

type snapshotter interface {
	Create(ctx context.Context, p snapshot.Params) (*snapshot.Result, error)
}

// Cron drives the daily snapshot: sync the configured target from Redmine,
// then record the burndown row for today. A Postgres advisory lock keeps
// concurrent replicas from double-running.
type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	syn  syncer
	snap snapshotter
	repo *repo.Repository
	c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, syn syncer, snap snapshotter, r *repo.Repository) *Cron {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	cr := &Cron{cfg: cfg, log: log, syn: syn, snap: snap, repo: r, c: c}
	if _, err := c.AddFunc(cfg.SnapshotCron, cr.daily); err != nil {
		log.Error().Err(err).Str("spec", cfg.SnapshotCron).Msg("cron: bad schedule")
	}
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

const dailyLockKey int64 = 724201

func (cr *Cron) daily() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ok, err := cr.repo.TryAdvisoryLock(ctx, dailyLockKey)
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: lock error")
		return
	}
	if !ok {
		cr.log.Info().Msg("cron: snapshot already running elsewhere")
		return
	}
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), dailyLockKey) }()

	cr.log.Info().Msg("cron: daily snapshot")
	if cr.cfg.VersionName != "" {
		sr, err := cr.syn.Run(ctx, cr.cfg.ProjectIdentifier, cr.cfg.VersionName, false)
		if err != nil {
			cr.log.Error().Err(err).Msg("cron: sync failed")
			return
		}
		cr.log.Info().Int("issues", sr.IssuesSynced).Int("journals", sr.JournalsSynced).Msg("cron: sync done")
	}

	res, err := cr.snap.Create(ctx, snapshot.Params{
		ProjectIdentifier: cr.cfg.ProjectIdentifier,
		VersionName:       cr.cfg.VersionName,
		ReleaseDueDate:    cr.cfg.ReleaseDueDate,
		ReleaseName:       cr.cfg.ReleaseName,
	})
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: snapshot failed")
		return
	}
	cr.log.Info().
		Str("kind", string(res.Target.Kind)).
		Int64("target_id", res.Target.ID).
		Float64("scope_h", res.Snapshot.ScopeHours).
		Float64("remaining_h", res.Snapshot.RemainingHours).
		Dur("took", res.Duration).
		Msg("cron: snapshot recorded")
}
