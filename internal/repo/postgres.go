package repo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/domain"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS versions (
		id BIGINT PRIMARY KEY,
		project_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		start_date TIMESTAMPTZ,
		due_date TIMESTAMPTZ,
		created_on TIMESTAMPTZ,
		updated_on TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS releases (
		id BIGSERIAL PRIMARY KEY,
		project_id BIGINT NOT NULL,
		due_date DATE NOT NULL,
		name TEXT NOT NULL,
		UNIQUE (project_id, due_date, name)
	)`,
	`CREATE TABLE IF NOT EXISTS issues (
		id BIGINT PRIMARY KEY,
		project_id BIGINT NOT NULL,
		version_id BIGINT,
		parent_id BIGINT,
		subject TEXT NOT NULL,
		status_name TEXT NOT NULL,
		estimated_hours DOUBLE PRECISION,
		closed_on TIMESTAMPTZ,
		updated_on TIMESTAMPTZ,
		assigned_to_id BIGINT,
		assigned_to_name TEXT,
		due_date DATE,
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_version_id ON issues (version_id)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_parent_id ON issues (parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_assigned_to_id ON issues (assigned_to_id)`,
	`CREATE TABLE IF NOT EXISTS issue_journals (
		id BIGSERIAL PRIMARY KEY,
		issue_id BIGINT NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_issue_journals_nat
		ON issue_journals (issue_id, at, field, COALESCE(old_value,''), COALESCE(new_value,''))`,
	`CREATE INDEX IF NOT EXISTS idx_issue_journals_at ON issue_journals (at)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		date DATE NOT NULL,
		target_kind TEXT NOT NULL,
		target_id BIGINT NOT NULL,
		scope_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		remaining_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		completed_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		ideal_remaining_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		v_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
		v_max DOUBLE PRECISION NOT NULL DEFAULT 0,
		v_min DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (date, target_kind, target_id)
	)`,
	`CREATE TABLE IF NOT EXISTS assignee_snapshots (
		date DATE NOT NULL,
		target_kind TEXT NOT NULL,
		target_id BIGINT NOT NULL,
		assigned_to_id BIGINT,
		assigned_to_name TEXT,
		scope_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		remaining_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		completed_hours DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_assignee_snapshots_key
		ON assignee_snapshots (date, target_kind, target_id, COALESCE(assigned_to_id, -1))`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id BIGSERIAL PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		finished_at TIMESTAMPTZ,
		project TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		issues_synced INT NOT NULL DEFAULT 0,
		journals_synced INT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT false,
		error TEXT NOT NULL DEFAULT ''
	)`,
}

// EnsureSchema creates all tables and indexes when absent. Statements are
// individually idempotent, so re-running on startup is safe.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil {
		return errors.New("advisory unlock returned false")
	}
	return err
}

// ---- sync writes ----

func (r *Repository) UpsertVersion(ctx context.Context, v domain.Version) error {
	const q = `
		INSERT INTO versions(id, project_id, name, start_date, due_date, created_on, updated_on)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(id) DO UPDATE SET
			project_id=EXCLUDED.project_id,
			name=EXCLUDED.name,
			start_date=EXCLUDED.start_date,
			due_date=EXCLUDED.due_date,
			created_on=EXCLUDED.created_on,
			updated_on=EXCLUDED.updated_on`
	_, err := r.db.Pool.Exec(ctx, q, v.ID, v.ProjectID, v.Name, v.StartDate, v.DueDate, v.CreatedOn, v.UpdatedOn)
	return err
}

func (r *Repository) UpsertIssues(ctx context.Context, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `
		INSERT INTO issues(id, project_id, version_id, parent_id, subject, status_name,
			estimated_hours, closed_on, updated_on, assigned_to_id, assigned_to_name,
			due_date, last_seen_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT(id) DO UPDATE SET
			project_id=EXCLUDED.project_id,
			version_id=EXCLUDED.version_id,
			parent_id=EXCLUDED.parent_id,
			subject=EXCLUDED.subject,
			status_name=EXCLUDED.status_name,
			estimated_hours=EXCLUDED.estimated_hours,
			closed_on=EXCLUDED.closed_on,
			updated_on=EXCLUDED.updated_on,
			assigned_to_id=EXCLUDED.assigned_to_id,
			assigned_to_name=EXCLUDED.assigned_to_name,
			due_date=EXCLUDED.due_date,
			last_seen_at=EXCLUDED.last_seen_at`
	for _, i := range issues {
		batch.Queue(q, i.ID, i.ProjectID, i.VersionID, i.ParentID, i.Subject, i.StatusName,
			i.EstimatedHours, i.ClosedOn, i.UpdatedOn, i.AssignedToID, i.AssignedToName,
			i.DueDate, i.LastSeenAt)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range issues {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) InsertJournals(ctx context.Context, entries []domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `INSERT INTO issue_journals(issue_id, at, field, old_value, new_value)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (issue_id, at, field, COALESCE(old_value,''), COALESCE(new_value,'')) DO NOTHING`
	for _, e := range entries {
		batch.Queue(q, e.IssueID, e.At, e.Field, e.OldValue, e.NewValue)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) LastSeenAt(ctx context.Context, versionID int64) (*time.Time, error) {
	var ts *time.Time
	err := r.db.Pool.QueryRow(ctx, `SELECT MAX(last_seen_at) FROM issues WHERE version_id=$1`, versionID).Scan(&ts)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func (r *Repository) EnsureRelease(ctx context.Context, rel domain.Release) (int64, error) {
	const q = `INSERT INTO releases(project_id, due_date, name) VALUES($1,$2,$3)
		ON CONFLICT (project_id, due_date, name) DO UPDATE SET name=EXCLUDED.name
		RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, rel.ProjectID, rel.DueDate, rel.Name).Scan(&id)
	return id, err
}

func (r *Repository) StartSyncRun(ctx context.Context, project, version string) (int64, error) {
	const q = `INSERT INTO sync_runs(started_at, project, version, success) VALUES(now(), $1, $2, false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q, project, version).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) FinishSyncRun(ctx context.Context, id int64, issues, journals int, success bool, errStr string) error {
	const q = `UPDATE sync_runs SET finished_at=now(), issues_synced=$2, journals_synced=$3, success=$4, error=$5 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, issues, journals, success, errStr)
	return err
}

func (r *Repository) LastSyncRun(ctx context.Context) (*domain.SyncRun, error) {
	const q = `SELECT id, started_at, finished_at, project, version,
		issues_synced, journals_synced, success, error
		FROM sync_runs ORDER BY id DESC LIMIT 1`
	sr := &domain.SyncRun{}
	err := r.db.Pool.QueryRow(ctx, q).Scan(&sr.ID, &sr.StartedAt, &sr.FinishedAt, &sr.Project, &sr.Version,
		&sr.IssuesSynced, &sr.JournalsSynced, &sr.Success, &sr.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sr, nil
}

// ---- target resolution ----

func (r *Repository) VersionByName(ctx context.Context, name string) (*domain.Version, error) {
	const q = `SELECT id, project_id, name, start_date, due_date, created_on, updated_on
		FROM versions WHERE name=$1`
	v := &domain.Version{}
	err := r.db.Pool.QueryRow(ctx, q, name).Scan(&v.ID, &v.ProjectID, &v.Name, &v.StartDate, &v.DueDate, &v.CreatedOn, &v.UpdatedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Repository) Version(ctx context.Context, id int64) (*domain.Version, error) {
	const q = `SELECT id, project_id, name, start_date, due_date, created_on, updated_on
		FROM versions WHERE id=$1`
	v := &domain.Version{}
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&v.ID, &v.ProjectID, &v.Name, &v.StartDate, &v.DueDate, &v.CreatedOn, &v.UpdatedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Repository) ReleaseByCriteria(ctx context.Context, projectID int64, dueDate time.Time, name string) (*domain.Release, error) {
	const q = `SELECT id, project_id, due_date, name FROM releases
		WHERE project_id=$1 AND due_date=$2 AND name=$3`
	rel := &domain.Release{}
	err := r.db.Pool.QueryRow(ctx, q, projectID, dueDate, name).Scan(&rel.ID, &rel.ProjectID, &rel.DueDate, &rel.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// ProjectID maps a project identifier onto the numeric id: numeric input
// is taken verbatim, otherwise the id is inferred from the synced issues.
func (r *Repository) ProjectID(ctx context.Context, identifier string) (int64, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return id, nil
	}
	var id int64
	err := r.db.Pool.QueryRow(ctx, `SELECT DISTINCT project_id FROM issues LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New("no synced issues to infer the project from")
	}
	return id, err
}

// ---- issue reads ----

const issueColumns = `id, project_id, version_id, parent_id, subject, status_name,
	estimated_hours, closed_on, updated_on, assigned_to_id, assigned_to_name, due_date, last_seen_at`

func scanIssues(rows pgx.Rows) ([]domain.Issue, error) {
	defer rows.Close()
	var out []domain.Issue
	for rows.Next() {
		var i domain.Issue
		if err := rows.Scan(&i.ID, &i.ProjectID, &i.VersionID, &i.ParentID, &i.Subject, &i.StatusName,
			&i.EstimatedHours, &i.ClosedOn, &i.UpdatedOn, &i.AssignedToID, &i.AssignedToName,
			&i.DueDate, &i.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *Repository) IssuesByVersion(ctx context.Context, versionID int64) ([]domain.Issue, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+issueColumns+` FROM issues WHERE version_id=$1 ORDER BY id`, versionID)
	if err != nil {
		return nil, err
	}
	return scanIssues(rows)
}

func (r *Repository) RootIssuesByDueDate(ctx context.Context, projectID int64, dueDate time.Time) ([]domain.Issue, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+issueColumns+` FROM issues
		WHERE project_id=$1 AND parent_id IS NULL AND due_date IS NOT NULL AND due_date <= $2
		ORDER BY id`, projectID, dueDate)
	if err != nil {
		return nil, err
	}
	return scanIssues(rows)
}

// ---- snapshot persistence ----

func (r *Repository) SaveSnapshot(ctx context.Context, s domain.Snapshot) error {
	const q = `
		INSERT INTO snapshots(date, target_kind, target_id, scope_hours, remaining_hours,
			completed_hours, ideal_remaining_hours, v_avg, v_max, v_min)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (date, target_kind, target_id) DO UPDATE SET
			scope_hours=EXCLUDED.scope_hours,
			remaining_hours=EXCLUDED.remaining_hours,
			completed_hours=EXCLUDED.completed_hours,
			ideal_remaining_hours=EXCLUDED.ideal_remaining_hours,
			v_avg=EXCLUDED.v_avg,
			v_max=EXCLUDED.v_max,
			v_min=EXCLUDED.v_min`
	_, err := r.db.Pool.Exec(ctx, q, s.Date, string(s.Target.Kind), s.Target.ID,
		s.ScopeHours, s.RemainingHours, s.CompletedHours, s.IdealRemainingHours,
		s.VelocityAvg, s.VelocityMax, s.VelocityMin)
	return err
}

func (r *Repository) SaveAssigneeSnapshot(ctx context.Context, s domain.AssigneeSnapshot) error {
	const q = `
		INSERT INTO assignee_snapshots(date, target_kind, target_id, assigned_to_id,
			assigned_to_name, scope_hours, remaining_hours, completed_hours)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (date, target_kind, target_id, COALESCE(assigned_to_id, -1)) DO UPDATE SET
			assigned_to_name=EXCLUDED.assigned_to_name,
			scope_hours=EXCLUDED.scope_hours,
			remaining_hours=EXCLUDED.remaining_hours,
			completed_hours=EXCLUDED.completed_hours`
	_, err := r.db.Pool.Exec(ctx, q, s.Date, string(s.Target.Kind), s.Target.ID,
		s.AssignedToID, s.AssignedToName, s.ScopeHours, s.RemainingHours, s.CompletedHours)
	return err
}

func (r *Repository) SnapshotsByTarget(ctx context.Context, target domain.Target, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	const q = `SELECT date, target_kind, target_id, scope_hours, remaining_hours,
		completed_hours, ideal_remaining_hours, v_avg, v_max, v_min
		FROM snapshots WHERE target_kind=$1 AND target_id=$2
		ORDER BY date DESC LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, string(target.Kind), target.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		var kind string
		if err := rows.Scan(&s.Date, &kind, &s.Target.ID, &s.ScopeHours, &s.RemainingHours,
			&s.CompletedHours, &s.IdealRemainingHours, &s.VelocityAvg, &s.VelocityMax, &s.VelocityMin); err != nil {
			return nil, err
		}
		s.Target.Kind = domain.TargetKind(kind)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) AssigneeSnapshotsByTarget(ctx context.Context, target domain.Target, limit int) ([]domain.AssigneeSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	const q = `SELECT date, target_kind, target_id, assigned_to_id, assigned_to_name,
		scope_hours, remaining_hours, completed_hours
		FROM assignee_snapshots WHERE target_kind=$1 AND target_id=$2
		ORDER BY date DESC, COALESCE(assigned_to_id, -1) LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, string(target.Kind), target.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AssigneeSnapshot
	for rows.Next() {
		var s domain.AssigneeSnapshot
		var kind string
		if err := rows.Scan(&s.Date, &kind, &s.Target.ID, &s.AssignedToID, &s.AssignedToName,
			&s.ScopeHours, &s.RemainingHours, &s.CompletedHours); err != nil {
			return nil, err
		}
		s.Target.Kind = domain.TargetKind(kind)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---- meta ----

func (r *Repository) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.Pool.QueryRow(ctx, `SELECT value FROM meta WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
	const q = `INSERT INTO meta(key, value, updated_at) VALUES($1,$2,now())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, key, value)
	return err
}
