package snapshot

import (
	"errors"
	"strings"
	"testing"

	"github.com/kiririmode/redmine-burndown/internal/domain"
)

func f(v float64) *float64 { return &v }
func i64(v int64) *int64   { return &v }

func issue(id int64, parent *int64, est *float64) domain.Issue {
	return domain.Issue{ID: id, ParentID: parent, EstimatedHours: est, StatusName: "New"}
}

func TestResolveEstimates_NestedHierarchy(t *testing.T) {
	// #1 -> #2 -> {#3: 15h, #4: 25h}, #1 -> #5: 30h
	issues := []domain.Issue{
		issue(1, nil, nil),
		issue(2, i64(1), nil),
		issue(3, i64(2), f(15)),
		issue(4, i64(2), f(25)),
		issue(5, i64(1), f(30)),
	}
	est, warns, err := ResolveEstimates(issues)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[int64]float64{1: 70, 2: 40, 3: 15, 4: 25, 5: 30}
	for id, w := range want {
		if est[id] != w {
			t.Errorf("estimate(#%d) = %g, want %g", id, est[id], w)
		}
	}
	if len(warns) != 0 {
		t.Fatalf("expected no warnings, got %v", warns)
	}
}

func TestResolveEstimates_LeafProperty(t *testing.T) {
	issues := []domain.Issue{
		issue(1, nil, f(8)),
		issue(2, nil, nil),
	}
	est, _, err := ResolveEstimates(issues)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est[1] != 8 {
		t.Errorf("leaf with estimate: got %g, want 8", est[1])
	}
	if est[2] != 0 {
		t.Errorf("leaf without estimate: got %g, want 0", est[2])
	}
}

func TestResolveEstimates_PartialCoverageFallsBackToParent(t *testing.T) {
	// One child estimated, one not: the parent's own value wins and the
	// double estimate is warned about exactly once.
	issues := []domain.Issue{
		issue(1, nil, f(50)),
		issue(2, i64(1), f(10)),
		issue(3, i64(1), nil),
	}
	est, warns, err := ResolveEstimates(issues)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est[1] != 50 {
		t.Errorf("estimate(#1) = %g, want parent fallback 50", est[1])
	}
	if len(warns) != 1 {
		t.Fatalf("want exactly one warning, got %d: %v", len(warns), warns)
	}
	if warns[0].IssueID != 1 || !strings.Contains(warns[0].Message, "#1") {
		t.Errorf("warning should name issue #1: %+v", warns[0])
	}
}

func TestResolveEstimates_PartialCoverageWithoutParentEstimate(t *testing.T) {
	issues := []domain.Issue{
		issue(1, nil, nil),
		issue(2, i64(1), f(10)),
		issue(3, i64(1), nil),
	}
	est, warns, err := ResolveEstimates(issues)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est[1] != 0 {
		t.Errorf("estimate(#1) = %g, want 0 (no parent value to fall back on)", est[1])
	}
	if len(warns) != 0 {
		t.Fatalf("no warning without a parent-level estimate, got %v", warns)
	}
}

func TestResolveEstimates_DeepFallbackIsGlobalPerSubtree(t *testing.T) {
	// A missing estimate on a grandchild leaf breaks coverage of the whole
	// subtree: the root must not partially sum.
	issues := []domain.Issue{
		issue(1, nil, f(100)),
		issue(2, i64(1), f(60)),
		issue(3, i64(2), f(20)),
		issue(4, i64(2), nil),
		issue(5, i64(1), f(30)),
	}
	est, _, err := ResolveEstimates(issues)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est[2] != 60 {
		t.Errorf("estimate(#2) = %g, want own value 60", est[2])
	}
	if est[1] != 100 {
		t.Errorf("estimate(#1) = %g, want own value 100", est[1])
	}
}

func TestResolveEstimates_OrphanParentTreatedAsRoot(t *testing.T) {
	issues := []domain.Issue{
		issue(7, i64(999), f(5)), // parent not in the working set
	}
	est, _, err := ResolveEstimates(issues)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est[7] != 5 {
		t.Errorf("orphan issue should resolve as a root: got %g, want 5", est[7])
	}
}

func TestResolveEstimates_CycleDetected(t *testing.T) {
	issues := []domain.Issue{
		issue(1, i64(2), f(1)),
		issue(2, i64(1), f(2)),
		issue(3, nil, f(4)),
	}
	_, _, err := ResolveEstimates(issues)
	if !errors.Is(err, ErrCyclicHierarchy) {
		t.Fatalf("want ErrCyclicHierarchy, got %v", err)
	}
}

func TestResolveEstimates_Empty(t *testing.T) {
	est, warns, err := ResolveEstimates(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(est) != 0 || len(warns) != 0 {
		t.Fatalf("empty input should yield empty outputs: %v %v", est, warns)
	}
}
