package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/kiririmode/redmine-burndown/internal/domain"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	version   *domain.Version
	release   *domain.Release
	snapshots []domain.Snapshot
	assignees []domain.AssigneeSnapshot
	lastRun   *domain.SyncRun
	gotTarget domain.Target
	gotLimit  int
}

func (f *fakeStore) VersionByName(_ context.Context, _ string) (*domain.Version, error) {
	return f.version, nil
}

func (f *fakeStore) ReleaseByCriteria(_ context.Context, _ int64, _ time.Time, _ string) (*domain.Release, error) {
	return f.release, nil
}

func (f *fakeStore) ProjectID(_ context.Context, _ string) (int64, error) { return 7, nil }

func (f *fakeStore) SnapshotsByTarget(_ context.Context, target domain.Target, limit int) ([]domain.Snapshot, error) {
	f.gotTarget, f.gotLimit = target, limit
	return f.snapshots, nil
}

func (f *fakeStore) AssigneeSnapshotsByTarget(_ context.Context, target domain.Target, limit int) ([]domain.AssigneeSnapshot, error) {
	f.gotTarget, f.gotLimit = target, limit
	return f.assignees, nil
}

func (f *fakeStore) LastSyncRun(_ context.Context) (*domain.SyncRun, error) { return f.lastRun, nil }

func newTestRouter(t *testing.T, cfg config.Config, store Store) *httptest.Server {
	t.Helper()
	r := NewRouter(cfg, zerolog.Nop(), store)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestRouter(t, config.Config{}, &fakeStore{})
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestBurndown_ExplicitTarget(t *testing.T) {
	store := &fakeStore{snapshots: []domain.Snapshot{{
		Date:                time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC),
		Target:              domain.Target{Kind: domain.TargetVersion, ID: 3},
		ScopeHours:          40,
		RemainingHours:      24,
		CompletedHours:      16,
		IdealRemainingHours: 30,
	}}}
	srv := newTestRouter(t, config.Config{}, store)

	resp, err := srv.Client().Get(srv.URL + "/api/burndown?kind=version&id=3&limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if store.gotTarget != (domain.Target{Kind: domain.TargetVersion, ID: 3}) {
		t.Errorf("queried target = %+v", store.gotTarget)
	}
	if store.gotLimit != 10 {
		t.Errorf("limit = %d, want 10", store.gotLimit)
	}

	var body struct {
		TargetKind string        `json:"target_kind"`
		TargetID   int64         `json:"target_id"`
		Snapshots  []snapshotRow `json:"snapshots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.TargetKind != "version" || body.TargetID != 3 {
		t.Errorf("target = %s/%d", body.TargetKind, body.TargetID)
	}
	if len(body.Snapshots) != 1 || body.Snapshots[0].Date != "2025-08-05" {
		t.Fatalf("snapshots = %+v", body.Snapshots)
	}
	if body.Snapshots[0].RemainingHours != 24 {
		t.Errorf("remaining = %g, want 24", body.Snapshots[0].RemainingHours)
	}
}

func TestBurndown_ConfiguredVersionFallback(t *testing.T) {
	store := &fakeStore{version: &domain.Version{ID: 9, Name: "Sprint 12"}}
	srv := newTestRouter(t, config.Config{VersionName: "Sprint 12"}, store)

	resp, err := srv.Client().Get(srv.URL + "/api/burndown")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	want := domain.Target{Kind: domain.TargetVersion, ID: 9}
	if store.gotTarget != want {
		t.Errorf("queried target = %+v, want %+v", store.gotTarget, want)
	}
}

func TestBurndown_BadRequests(t *testing.T) {
	srv := newTestRouter(t, config.Config{}, &fakeStore{})

	for _, path := range []string{
		"/api/burndown?kind=version&id=abc",
		"/api/burndown?kind=sprint&id=1",
		"/api/burndown",
	} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != 400 {
			t.Errorf("%s: status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestBurndown_ConfiguredVersionMissing(t *testing.T) {
	srv := newTestRouter(t, config.Config{VersionName: "gone"}, &fakeStore{})
	resp, err := srv.Client().Get(srv.URL + "/api/burndown")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBurndownAssignees_UnassignedBucket(t *testing.T) {
	name := "Sato"
	id := int64(12)
	store := &fakeStore{assignees: []domain.AssigneeSnapshot{
		{Date: time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC), AssignedToID: &id, AssignedToName: &name, ScopeHours: 30, RemainingHours: 10, CompletedHours: 20},
		{Date: time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC), ScopeHours: 8, RemainingHours: 8},
	}}
	srv := newTestRouter(t, config.Config{}, store)

	resp, err := srv.Client().Get(srv.URL + "/api/burndown/assignees?kind=version&id=3")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Assignees []assigneeRow `json:"assignees"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Assignees) != 2 {
		t.Fatalf("assignees = %d, want 2", len(body.Assignees))
	}
	if body.Assignees[1].AssignedToID != nil {
		t.Errorf("unassigned bucket should have null id, got %v", *body.Assignees[1].AssignedToID)
	}
}

func TestLastSync(t *testing.T) {
	finished := time.Date(2025, 8, 5, 6, 1, 0, 0, time.UTC)
	store := &fakeStore{lastRun: &domain.SyncRun{
		ID: 4, StartedAt: finished.Add(-time.Minute), FinishedAt: &finished,
		Project: "crm", Version: "Sprint 12", IssuesSynced: 42, JournalsSynced: 7, Success: true,
	}}
	srv := newTestRouter(t, config.Config{}, store)

	resp, err := srv.Client().Get(srv.URL + "/api/last-sync")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		LastSync *struct {
			IssuesSynced int  `json:"issues_synced"`
			Success      bool `json:"success"`
		} `json:"last_sync"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.LastSync == nil || body.LastSync.IssuesSynced != 42 || !body.LastSync.Success {
		t.Fatalf("last_sync = %+v", body.LastSync)
	}
}

func TestLastSync_Empty(t *testing.T) {
	srv := newTestRouter(t, config.Config{}, &fakeStore{})
	resp, err := srv.Client().Get(srv.URL + "/api/last-sync")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if v, ok := body["last_sync"]; !ok || v != nil {
		t.Fatalf("last_sync = %v, want explicit null", v)
	}
}
