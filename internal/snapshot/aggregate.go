package snapshot

import (
	"time"

	"github.com/kiririmode/redmine-burndown/internal/domain"
)

// Aggregate rolls resolved estimates up into the whole-scope record and the
// per-assignee records for one (date, target). Only root issues contribute;
// child effort is already folded upward by ResolveEstimates. Done-status
// membership is exact-match on the configured names.
//
// completed is derived by subtraction from the same floats, so
// completed + remaining == scope holds exactly.
func Aggregate(target domain.Target, date time.Time, issues []domain.Issue, estimates map[int64]float64, doneStatuses map[string]struct{}) (domain.Snapshot, []domain.AssigneeSnapshot) {
	inSet := make(map[int64]struct{}, len(issues))
	for _, is := range issues {
		inSet[is.ID] = struct{}{}
	}
	isRoot := func(is domain.Issue) bool {
		if is.ParentID == nil {
			return true
		}
		_, ok := inSet[*is.ParentID]
		return !ok
	}

	type acc struct {
		id        *int64
		name      *string
		scope     float64
		remaining float64
	}
	const unassigned = -1
	accs := map[int64]*acc{}
	var order []int64

	whole := domain.Snapshot{Date: date, Target: target}
	for _, is := range issues {
		if !isRoot(is) {
			continue
		}
		est := estimates[is.ID]
		_, done := doneStatuses[is.StatusName]

		whole.ScopeHours += est
		if !done {
			whole.RemainingHours += est
		}

		key := int64(unassigned)
		if is.AssignedToID != nil {
			key = *is.AssignedToID
		}
		a, ok := accs[key]
		if !ok {
			a = &acc{id: is.AssignedToID, name: is.AssignedToName}
			accs[key] = a
			order = append(order, key)
		}
		a.scope += est
		if !done {
			a.remaining += est
		}
	}
	whole.CompletedHours = whole.ScopeHours - whole.RemainingHours

	// The unassigned bucket is emitted like any other assignee; rows
	// without effort are not.
	var perAssignee []domain.AssigneeSnapshot
	for _, key := range order {
		a := accs[key]
		if a.scope <= 0 {
			continue
		}
		perAssignee = append(perAssignee, domain.AssigneeSnapshot{
			Date:           date,
			Target:         target,
			AssignedToID:   a.id,
			AssignedToName: a.name,
			ScopeHours:     a.scope,
			RemainingHours: a.remaining,
			CompletedHours: a.scope - a.remaining,
		})
	}

	return whole, perAssignee
}
