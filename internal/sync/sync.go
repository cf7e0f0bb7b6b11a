// Package sync ingests tracker data into the local store: versions, the
// issue working set, and the change journal of the tracked fields.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/adapters/redmine"
	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/domain"
	"github.com/rs/zerolog"
)

// ErrVersionNotFound is returned when the requested version does not exist
// in the remote project.
var ErrVersionNotFound = errors.New("version not found")

// API is the tracker surface the sync needs; satisfied by *redmine.Client.
type API interface {
	Project(ctx context.Context, identifier string) (*redmine.Project, error)
	Versions(ctx context.Context, projectIdentifier string) ([]redmine.Version, error)
	Issues(ctx context.Context, q redmine.IssueQuery) (*redmine.IssuesPage, error)
}

// Store is the persistence surface; satisfied by *repo.Repository.
type Store interface {
	UpsertVersion(ctx context.Context, v domain.Version) error
	UpsertIssues(ctx context.Context, issues []domain.Issue) error
	InsertJournals(ctx context.Context, entries []domain.JournalEntry) error
	LastSeenAt(ctx context.Context, versionID int64) (*time.Time, error)
	EnsureRelease(ctx context.Context, r domain.Release) (int64, error)
	StartSyncRun(ctx context.Context, project, version string) (int64, error)
	FinishSyncRun(ctx context.Context, id int64, issues, journals int, success bool, errStr string) error
}

// trackable lists the journal fields worth keeping; everything else in the
// change history is noise for burndown purposes.
var trackable = map[string]struct{}{
	"estimated_hours":  {},
	"status_id":        {},
	"fixed_version_id": {},
	"assigned_to_id":   {},
}

type Service struct {
	cfg    config.Config
	log    zerolog.Logger
	client API
	store  Store
}

func NewService(cfg config.Config, log zerolog.Logger, client API, store Store) *Service {
	return &Service{cfg: cfg, log: log, client: client, store: store}
}

// Result summarizes one sync invocation.
type Result struct {
	VersionID      int64
	IssuesSynced   int
	JournalsSynced int
	Duration       time.Duration
}

// Run synchronizes one project version: validates both against the API,
// upserts the version, then pages through its issues capturing journals.
// Without full=true only issues updated since the last sync are fetched.
func (s *Service) Run(ctx context.Context, projectIdentifier, versionName string, full bool) (*Result, error) {
	started := time.Now()

	runID, err := s.store.StartSyncRun(ctx, projectIdentifier, versionName)
	if err != nil {
		s.log.Error().Err(err).Msg("sync: start run bookkeeping failed")
	}
	res, err := s.run(ctx, projectIdentifier, versionName, full)
	if runID != 0 {
		errStr := ""
		issues, journals := 0, 0
		if res != nil {
			issues, journals = res.IssuesSynced, res.JournalsSynced
		}
		if err != nil {
			errStr = err.Error()
		}
		if ferr := s.store.FinishSyncRun(ctx, runID, issues, journals, err == nil, errStr); ferr != nil {
			s.log.Error().Err(ferr).Msg("sync: finish run bookkeeping failed")
		}
	}
	if res != nil {
		res.Duration = time.Since(started)
	}
	return res, err
}

func (s *Service) run(ctx context.Context, projectIdentifier, versionName string, full bool) (*Result, error) {
	project, err := s.client.Project(ctx, projectIdentifier)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", projectIdentifier, err)
	}

	version, err := s.findVersion(ctx, projectIdentifier, versionName)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertVersion(ctx, toDomainVersion(*version, project.ID)); err != nil {
		return nil, fmt.Errorf("save version: %w", err)
	}

	var since string
	if !full {
		watermark, err := s.store.LastSeenAt(ctx, version.ID)
		if err != nil {
			return nil, fmt.Errorf("read sync watermark: %w", err)
		}
		if watermark != nil {
			since = watermark.UTC().Format(time.RFC3339)
			s.log.Debug().Str("since", since).Msg("sync: incremental")
		}
	}

	issues, journals, err := s.syncIssues(ctx, project.ID, version.ID, since)
	if err != nil {
		return &Result{VersionID: version.ID, IssuesSynced: issues, JournalsSynced: journals}, err
	}
	return &Result{VersionID: version.ID, IssuesSynced: issues, JournalsSynced: journals}, nil
}

// EnsureRelease registers (or finds) the ad-hoc release record snapshot
// release mode resolves against.
func (s *Service) EnsureRelease(ctx context.Context, projectIdentifier, dueDate, name string) (*domain.Release, error) {
	project, err := s.client.Project(ctx, projectIdentifier)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", projectIdentifier, err)
	}
	due, err := time.Parse("2006-01-02", dueDate)
	if err != nil {
		return nil, fmt.Errorf("release due date %q: %w", dueDate, err)
	}
	if name == "" {
		name = "Release-" + dueDate
	}
	rel := domain.Release{ProjectID: project.ID, Name: name, DueDate: due}
	id, err := s.store.EnsureRelease(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("register release: %w", err)
	}
	rel.ID = id
	return &rel, nil
}

func (s *Service) findVersion(ctx context.Context, projectIdentifier, versionName string) (*redmine.Version, error) {
	versions, err := s.client.Versions(ctx, projectIdentifier)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	for i := range versions {
		v := &versions[i]
		if v.Name == versionName || fmt.Sprint(v.ID) == versionName {
			return v, nil
		}
	}
	return nil, fmt.Errorf("version %q: %w", versionName, ErrVersionNotFound)
}

func (s *Service) syncIssues(ctx context.Context, projectID, versionID int64, since string) (int, int, error) {
	limit := s.cfg.SyncPageSize
	if limit <= 0 {
		limit = 100
	}
	issuesCount, journalsCount := 0, 0
	offset := 0
	now := time.Now().UTC()

	for {
		page, err := s.client.Issues(ctx, redmine.IssueQuery{
			ProjectID:    fmt.Sprint(projectID),
			VersionID:    versionID,
			Limit:        limit,
			Offset:       offset,
			UpdatedSince: since,
			Journals:     true,
			Children:     true,
		})
		if err != nil {
			return issuesCount, journalsCount, fmt.Errorf("fetch issues offset=%d: %w", offset, err)
		}
		if len(page.Issues) == 0 {
			break
		}

		batch := make([]domain.Issue, 0, len(page.Issues))
		var entries []domain.JournalEntry
		for _, raw := range page.Issues {
			batch = append(batch, toDomainIssue(raw, now))
			entries = append(entries, journalEntries(raw)...)
		}
		if err := s.store.UpsertIssues(ctx, batch); err != nil {
			return issuesCount, journalsCount, fmt.Errorf("save issues: %w", err)
		}
		if err := s.store.InsertJournals(ctx, entries); err != nil {
			return issuesCount, journalsCount, fmt.Errorf("save journals: %w", err)
		}
		issuesCount += len(batch)
		journalsCount += len(entries)

		offset += limit
		if offset >= page.TotalCount {
			break
		}
	}
	return issuesCount, journalsCount, nil
}

func journalEntries(raw redmine.Issue) []domain.JournalEntry {
	var out []domain.JournalEntry
	for _, j := range raw.Journals {
		at := parseTime(j.CreatedOn)
		if at == nil {
			continue
		}
		for _, d := range j.Details {
			if d.Property != "attr" {
				continue
			}
			if _, ok := trackable[d.Name]; !ok {
				continue
			}
			out = append(out, domain.JournalEntry{
				IssueID:  raw.ID,
				At:       *at,
				Field:    d.Name,
				OldValue: d.OldValue,
				NewValue: d.NewValue,
			})
		}
	}
	return out
}

func toDomainIssue(raw redmine.Issue, seenAt time.Time) domain.Issue {
	issue := domain.Issue{
		ID:             raw.ID,
		ProjectID:      raw.Project.ID,
		Subject:        raw.Subject,
		StatusName:     raw.Status.Name,
		EstimatedHours: raw.EstimatedHours,
		ClosedOn:       parseTime(raw.ClosedOn),
		UpdatedOn:      parseTime(raw.UpdatedOn),
		DueDate:        parseDate(raw.DueDate),
		LastSeenAt:     seenAt,
	}
	if raw.FixedVersion != nil {
		id := raw.FixedVersion.ID
		issue.VersionID = &id
	}
	if raw.Parent != nil {
		id := raw.Parent.ID
		issue.ParentID = &id
	}
	if raw.AssignedTo != nil {
		id := raw.AssignedTo.ID
		name := raw.AssignedTo.Name
		issue.AssignedToID = &id
		issue.AssignedToName = &name
	}
	return issue
}

// toDomainVersion maps a raw version record. Redmine versions carry no
// explicit start date; creation time stands in for the window start, as in
// the original tooling around this schema.
func toDomainVersion(raw redmine.Version, projectID int64) domain.Version {
	return domain.Version{
		ID:        raw.ID,
		ProjectID: projectID,
		Name:      raw.Name,
		StartDate: parseTime(raw.CreatedOn),
		DueDate:   parseDate(raw.DueDate),
		CreatedOn: parseTime(raw.CreatedOn),
		UpdatedOn: parseTime(raw.UpdatedOn),
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
