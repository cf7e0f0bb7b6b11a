package domain

import "time"

// Issue is one Redmine issue as persisted by sync. Nullable tracker fields
// stay pointers so "absent" and "zero" remain distinct.
type Issue struct {
	ID             int64
	ProjectID      int64
	VersionID      *int64
	ParentID       *int64
	Subject        string
	StatusName     string
	EstimatedHours *float64
	ClosedOn       *time.Time
	UpdatedOn      *time.Time
	AssignedToID   *int64
	AssignedToName *string
	DueDate        *time.Time
	LastSeenAt     time.Time
}

// Version is a Redmine fixed version (milestone) with its sprint window.
type Version struct {
	ID        int64
	ProjectID int64
	Name      string
	StartDate *time.Time
	DueDate   *time.Time
	CreatedOn *time.Time
	UpdatedOn *time.Time
}

// Release is an ad-hoc due-date grouping, identified by project, due date
// and name. It has no start date.
type Release struct {
	ID        int64
	ProjectID int64
	Name      string
	DueDate   time.Time
}

// TargetKind discriminates what a burndown is computed against.
type TargetKind string

const (
	TargetVersion TargetKind = "version"
	TargetRelease TargetKind = "release"
)

// Target identifies the entity a snapshot belongs to.
type Target struct {
	Kind TargetKind
	ID   int64
}

// JournalEntry is one tracked field change captured from the issue
// change history.
type JournalEntry struct {
	IssueID  int64
	At       time.Time
	Field    string
	OldValue *string
	NewValue *string
}

// Snapshot is the whole-scope burndown record for one (date, target).
type Snapshot struct {
	Date                time.Time
	Target              Target
	ScopeHours          float64
	RemainingHours      float64
	CompletedHours      float64
	IdealRemainingHours float64
	VelocityAvg         float64
	VelocityMax         float64
	VelocityMin         float64
}

// AssigneeSnapshot is the per-assignee rollup for one (date, target).
// A nil AssignedToID is the unassigned bucket.
type AssigneeSnapshot struct {
	Date           time.Time
	Target         Target
	AssignedToID   *int64
	AssignedToName *string
	ScopeHours     float64
	RemainingHours float64
	CompletedHours float64
}

// Warning is a data-quality note produced while resolving estimates. It
// accompanies a successful result and never aborts a computation.
type Warning struct {
	IssueID int64
	Message string
}

// SyncRun records one ingestion invocation for bookkeeping.
type SyncRun struct {
	ID             int64
	StartedAt      time.Time
	FinishedAt     *time.Time
	Project        string
	Version        string
	IssuesSynced   int
	JournalsSynced int
	Success        bool
	Error          string
}
