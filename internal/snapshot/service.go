package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/calendar"
	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/domain"
	"github.com/rs/zerolog"
)

// ErrTargetNotFound is returned when the named version or matching release
// record is absent from the store. The pipeline aborts with no writes.
var ErrTargetNotFound = errors.New("target not found")

// Store is the persistence surface the snapshot pipeline needs. The
// Postgres repository implements it; tests use an in-memory fake.
type Store interface {
	VersionByName(ctx context.Context, name string) (*domain.Version, error)
	Version(ctx context.Context, id int64) (*domain.Version, error)
	ReleaseByCriteria(ctx context.Context, projectID int64, dueDate time.Time, name string) (*domain.Release, error)
	ProjectID(ctx context.Context, identifier string) (int64, error)

	IssuesByVersion(ctx context.Context, versionID int64) ([]domain.Issue, error)
	RootIssuesByDueDate(ctx context.Context, projectID int64, dueDate time.Time) ([]domain.Issue, error)

	SaveSnapshot(ctx context.Context, s domain.Snapshot) error
	SaveAssigneeSnapshot(ctx context.Context, s domain.AssigneeSnapshot) error

	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Params selects what to snapshot. Exactly one of VersionName and
// ReleaseDueDate must be set; the CLI validates that before calling in.
type Params struct {
	ProjectIdentifier string
	VersionName       string
	ReleaseDueDate    string // YYYY-MM-DD
	ReleaseName       string
	TargetDate        time.Time
}

// Result summarizes one snapshot run for display.
type Result struct {
	Target    domain.Target
	Date      time.Time
	Snapshot  domain.Snapshot
	Assignees []domain.AssigneeSnapshot
	Warnings  []domain.Warning
	Duration  time.Duration
}

type Service struct {
	cfg      config.Config
	log      zerolog.Logger
	store    Store
	holidays calendar.HolidayLookup
	done     map[string]struct{}
}

func NewService(cfg config.Config, log zerolog.Logger, store Store) *Service {
	done := make(map[string]struct{}, len(cfg.DoneStatuses))
	for _, s := range cfg.DoneStatuses {
		done[s] = struct{}{}
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		store:    store,
		holidays: calendar.NewHolidaySet(cfg.Holidays),
		done:     done,
	}
}

// Create runs the snapshot pipeline for one target date: resolve the
// target, fetch its issues, resolve effective estimates, aggregate, persist
// the whole-scope and per-assignee rows, then update the bookkeeping meta.
// Re-running for the same (date, target) overwrites the prior rows.
func (s *Service) Create(ctx context.Context, p Params) (*Result, error) {
	started := time.Now()

	date := p.TargetDate
	if date.IsZero() {
		date = time.Now()
	}
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	target, version, err := s.resolveTarget(ctx, p)
	if err != nil {
		return nil, err
	}

	issues, err := s.fetchIssues(ctx, target, p)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("issues", len(issues)).Str("kind", string(target.Kind)).Int64("id", target.ID).Msg("snapshot: issues fetched")

	estimates, warnings, err := ResolveEstimates(issues)
	if err != nil {
		return nil, err
	}

	whole, perAssignee := Aggregate(target, date, issues, estimates, s.done)

	// Version mode burns linearly across the sprint window; releases have
	// no start date, so the scope is carried unchanged.
	if target.Kind == domain.TargetVersion {
		whole.IdealRemainingHours = IdealRemaining(version.StartDate, version.DueDate, date, whole.ScopeHours, s.holidays)
	} else {
		whole.IdealRemainingHours = IdealRemainingByDueDate(date, whole.ScopeHours)
	}

	v := ComputeVelocities(target, date)
	whole.VelocityAvg, whole.VelocityMax, whole.VelocityMin = v.Avg, v.Max, v.Min

	if err := s.store.SaveSnapshot(ctx, whole); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	for _, as := range perAssignee {
		if err := s.store.SaveAssigneeSnapshot(ctx, as); err != nil {
			return nil, fmt.Errorf("save assignee snapshot: %w", err)
		}
	}

	if err := s.updateMetadata(ctx, target, date, whole.ScopeHours); err != nil {
		return nil, err
	}

	for _, w := range warnings {
		s.log.Warn().Int64("issue", w.IssueID).Msg(w.Message)
	}

	return &Result{
		Target:    target,
		Date:      date,
		Snapshot:  whole,
		Assignees: perAssignee,
		Warnings:  warnings,
		Duration:  time.Since(started),
	}, nil
}

func (s *Service) resolveTarget(ctx context.Context, p Params) (domain.Target, *domain.Version, error) {
	switch {
	case p.VersionName != "":
		v, err := s.store.VersionByName(ctx, p.VersionName)
		if err != nil {
			return domain.Target{}, nil, fmt.Errorf("resolve version: %w", err)
		}
		if v == nil {
			return domain.Target{}, nil, fmt.Errorf("version %q: %w", p.VersionName, ErrTargetNotFound)
		}
		return domain.Target{Kind: domain.TargetVersion, ID: v.ID}, v, nil

	case p.ReleaseDueDate != "":
		due, err := time.Parse("2006-01-02", p.ReleaseDueDate)
		if err != nil {
			return domain.Target{}, nil, fmt.Errorf("release due date %q: %w", p.ReleaseDueDate, err)
		}
		name := p.ReleaseName
		if name == "" {
			name = "Release-" + p.ReleaseDueDate
		}
		projectID, err := s.store.ProjectID(ctx, p.ProjectIdentifier)
		if err != nil {
			return domain.Target{}, nil, fmt.Errorf("resolve project: %w", err)
		}
		rel, err := s.store.ReleaseByCriteria(ctx, projectID, due, name)
		if err != nil {
			return domain.Target{}, nil, fmt.Errorf("resolve release: %w", err)
		}
		if rel == nil {
			return domain.Target{}, nil, fmt.Errorf("release %q (due %s): %w", name, p.ReleaseDueDate, ErrTargetNotFound)
		}
		return domain.Target{Kind: domain.TargetRelease, ID: rel.ID}, nil, nil

	default:
		return domain.Target{}, nil, errors.New("either a version name or a release due date is required")
	}
}

func (s *Service) fetchIssues(ctx context.Context, target domain.Target, p Params) ([]domain.Issue, error) {
	if target.Kind == domain.TargetVersion {
		// Always the latest synced state; replaying the change journal to
		// reconstruct the tree as of an earlier target date is not
		// implemented.
		return s.store.IssuesByVersion(ctx, target.ID)
	}
	due, err := time.Parse("2006-01-02", p.ReleaseDueDate)
	if err != nil {
		return nil, err
	}
	projectID, err := s.store.ProjectID(ctx, p.ProjectIdentifier)
	if err != nil {
		return nil, err
	}
	return s.store.RootIssuesByDueDate(ctx, projectID, due)
}

func (s *Service) updateMetadata(ctx context.Context, target domain.Target, date time.Time, scopeHours float64) error {
	// Initial scope is first-snapshot-wins: it fixes the baseline the
	// ideal line of future reporting refers to.
	scopeKey := fmt.Sprintf("initial_scope_%s_%d", target.Kind, target.ID)
	if _, ok, err := s.store.GetMeta(ctx, scopeKey); err != nil {
		return fmt.Errorf("read meta %s: %w", scopeKey, err)
	} else if !ok {
		if err := s.store.SetMeta(ctx, scopeKey, strconv.FormatFloat(scopeHours, 'f', -1, 64)); err != nil {
			return fmt.Errorf("write meta %s: %w", scopeKey, err)
		}
	}

	lastKey := fmt.Sprintf("last_snapshot_%s_%d", target.Kind, target.ID)
	if err := s.store.SetMeta(ctx, lastKey, date.Format("2006-01-02")); err != nil {
		return fmt.Errorf("write meta %s: %w", lastKey, err)
	}
	return nil
}
