package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/domain"
	"github.com/rs/zerolog"
)

// Store is the read surface the API serves from; satisfied by
// *repo.Repository. The API never writes.
type Store interface {
	VersionByName(ctx context.Context, name string) (*domain.Version, error)
	ReleaseByCriteria(ctx context.Context, projectID int64, dueDate time.Time, name string) (*domain.Release, error)
	ProjectID(ctx context.Context, identifier string) (int64, error)
	SnapshotsByTarget(ctx context.Context, target domain.Target, limit int) ([]domain.Snapshot, error)
	AssigneeSnapshotsByTarget(ctx context.Context, target domain.Target, limit int) ([]domain.AssigneeSnapshot, error)
	LastSyncRun(ctx context.Context) (*domain.SyncRun, error)
}

type Handlers struct {
	cfg   config.Config
	log   zerolog.Logger
	store Store
}

func NewHandlers(cfg config.Config, log zerolog.Logger, store Store) *Handlers {
	return &Handlers{cfg: cfg, log: log, store: store}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type snapshotRow struct {
	Date                string  `json:"date"`
	ScopeHours          float64 `json:"scope_hours"`
	RemainingHours      float64 `json:"remaining_hours"`
	CompletedHours      float64 `json:"completed_hours"`
	IdealRemainingHours float64 `json:"ideal_remaining_hours"`
	VelocityAvg         float64 `json:"velocity_avg"`
	VelocityMax         float64 `json:"velocity_max"`
	VelocityMin         float64 `json:"velocity_min"`
}

type assigneeRow struct {
	Date           string  `json:"date"`
	AssignedToID   *int64  `json:"assigned_to_id"`
	AssignedToName *string `json:"assigned_to_name"`
	ScopeHours     float64 `json:"scope_hours"`
	RemainingHours float64 `json:"remaining_hours"`
	CompletedHours float64 `json:"completed_hours"`
}

func (h *Handlers) Burndown(c *gin.Context) {
	target, ok := h.resolveTarget(c)
	if !ok {
		return
	}
	rows, err := h.store.SnapshotsByTarget(c.Request.Context(), target, limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]snapshotRow, 0, len(rows))
	for _, s := range rows {
		out = append(out, snapshotRow{
			Date:                s.Date.Format("2006-01-02"),
			ScopeHours:          s.ScopeHours,
			RemainingHours:      s.RemainingHours,
			CompletedHours:      s.CompletedHours,
			IdealRemainingHours: s.IdealRemainingHours,
			VelocityAvg:         s.VelocityAvg,
			VelocityMax:         s.VelocityMax,
			VelocityMin:         s.VelocityMin,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"target_kind": string(target.Kind),
		"target_id":   target.ID,
		"snapshots":   out,
	})
}

func (h *Handlers) BurndownAssignees(c *gin.Context) {
	target, ok := h.resolveTarget(c)
	if !ok {
		return
	}
	rows, err := h.store.AssigneeSnapshotsByTarget(c.Request.Context(), target, limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]assigneeRow, 0, len(rows))
	for _, s := range rows {
		out = append(out, assigneeRow{
			Date:           s.Date.Format("2006-01-02"),
			AssignedToID:   s.AssignedToID,
			AssignedToName: s.AssignedToName,
			ScopeHours:     s.ScopeHours,
			RemainingHours: s.RemainingHours,
			CompletedHours: s.CompletedHours,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"target_kind": string(target.Kind),
		"target_id":   target.ID,
		"assignees":   out,
	})
}

func (h *Handlers) LastSync(c *gin.Context) {
	sr, err := h.store.LastSyncRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sr == nil {
		c.JSON(http.StatusOK, gin.H{"last_sync": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_sync": gin.H{
		"id":              sr.ID,
		"started_at":      sr.StartedAt,
		"finished_at":     sr.FinishedAt,
		"project":         sr.Project,
		"version":         sr.Version,
		"issues_synced":   sr.IssuesSynced,
		"journals_synced": sr.JournalsSynced,
		"success":         sr.Success,
		"error":           sr.Error,
	}})
}

// resolveTarget picks the series to serve: explicit ?kind=&id= wins,
// otherwise the configured version or release selector. On failure it
// writes the error response and returns ok=false.
func (h *Handlers) resolveTarget(c *gin.Context) (domain.Target, bool) {
	ctx := c.Request.Context()
	if kind := c.Query("kind"); kind != "" {
		id, err := strconv.ParseInt(c.Query("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
			return domain.Target{}, false
		}
		if kind != string(domain.TargetVersion) && kind != string(domain.TargetRelease) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be version or release"})
			return domain.Target{}, false
		}
		return domain.Target{Kind: domain.TargetKind(kind), ID: id}, true
	}

	if h.cfg.VersionName != "" {
		v, err := h.store.VersionByName(ctx, h.cfg.VersionName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return domain.Target{}, false
		}
		if v == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "version not found: " + h.cfg.VersionName})
			return domain.Target{}, false
		}
		return domain.Target{Kind: domain.TargetVersion, ID: v.ID}, true
	}

	if h.cfg.ReleaseDueDate != "" {
		due, err := time.Parse("2006-01-02", h.cfg.ReleaseDueDate)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "bad release due date in config"})
			return domain.Target{}, false
		}
		name := h.cfg.ReleaseName
		if name == "" {
			name = "Release-" + h.cfg.ReleaseDueDate
		}
		pid, err := h.store.ProjectID(ctx, h.cfg.ProjectIdentifier)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return domain.Target{}, false
		}
		rel, err := h.store.ReleaseByCriteria(ctx, pid, due, name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return domain.Target{}, false
		}
		if rel == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "release not found: " + name})
			return domain.Target{}, false
		}
		return domain.Target{Kind: domain.TargetRelease, ID: rel.ID}, true
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": "no target: pass ?kind=&id= or configure a version/release"})
	return domain.Target{}, false
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "90"))
	if err != nil || n <= 0 {
		return 90
	}
	return n
}
