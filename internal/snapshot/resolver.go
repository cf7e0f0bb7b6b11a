package snapshot

import (
	"errors"
	"fmt"

	"github.com/kiririmode/redmine-burndown/internal/domain"
)

// ErrCyclicHierarchy is returned when the issue set contains a parent loop,
// leaving at least one issue unreachable from any root.
var ErrCyclicHierarchy = errors.New("cyclic issue hierarchy")

// ResolveEstimates computes the effective estimate of every issue reachable
// from a root, applying the parent/child precedence rule:
//
//   - a leaf contributes its own estimate (0 when absent);
//   - a parent whose leaf descendants all carry estimates contributes the
//     sum of its children;
//   - otherwise the parent falls back to its own estimate, with a warning
//     when estimates exist at both the parent and a child level.
//
// The decision is per subtree: partial coverage always falls back to the
// parent value, never to a partial sum. Issues whose parent is missing from
// the set are treated as roots. Warnings accompany a successful result and
// are ordered by traversal.
func ResolveEstimates(issues []domain.Issue) (map[int64]float64, []domain.Warning, error) {
	byID := make(map[int64]domain.Issue, len(issues))
	for _, is := range issues {
		byID[is.ID] = is
	}

	children := make(map[int64][]int64, len(issues))
	var roots []int64
	for _, is := range issues {
		if is.ParentID != nil {
			if _, ok := byID[*is.ParentID]; ok {
				children[*is.ParentID] = append(children[*is.ParentID], is.ID)
				continue
			}
		}
		roots = append(roots, is.ID)
	}

	estimates := make(map[int64]float64, len(issues))
	covered := make(map[int64]bool, len(issues))
	var warnings []domain.Warning

	// Iterative post-order. Children finish before their parent, so the
	// parent can read memoized child values; stack depth is independent of
	// tree depth.
	type frame struct {
		id   int64
		next int
	}
	for _, root := range roots {
		if _, done := estimates[root]; done {
			continue
		}
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			kids := children[f.id]
			if f.next < len(kids) {
				child := kids[f.next]
				f.next++
				if _, done := estimates[child]; !done {
					stack = append(stack, frame{id: child})
				}
				continue
			}
			issue := byID[f.id]
			if len(kids) == 0 {
				estimates[f.id] = deref(issue.EstimatedHours)
				covered[f.id] = issue.EstimatedHours != nil
			} else {
				allCovered := true
				sum := 0.0
				for _, child := range kids {
					sum += estimates[child]
					if !covered[child] {
						allCovered = false
					}
				}
				covered[f.id] = allCovered
				if allCovered {
					estimates[f.id] = sum
				} else {
					estimates[f.id] = deref(issue.EstimatedHours)
					if issue.EstimatedHours != nil && anyChildEstimated(byID, kids) {
						warnings = append(warnings, domain.Warning{
							IssueID: f.id,
							Message: fmt.Sprintf("issue #%d has estimates at both parent and child level (parent: %gh)", f.id, *issue.EstimatedHours),
						})
					}
				}
			}
			stack = stack[:len(stack)-1]
		}
	}

	// Every acyclic issue has an ancestor chain ending at a root, so
	// anything still unvisited sits in or under a parent loop.
	if len(estimates) != len(byID) {
		return nil, nil, fmt.Errorf("%w: %d of %d issues unreachable from any root",
			ErrCyclicHierarchy, len(byID)-len(estimates), len(byID))
	}

	return estimates, warnings, nil
}

func anyChildEstimated(byID map[int64]domain.Issue, kids []int64) bool {
	for _, id := range kids {
		if byID[id].EstimatedHours != nil {
			return true
		}
	}
	return false
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
