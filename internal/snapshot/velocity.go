package snapshot

import (
	"time"

	"github.com/kiririmode/redmine-burndown/internal/domain"
)

// Velocities holds the avg/max/min day-over-day burn aggregates persisted
// with each snapshot.
type Velocities struct {
	Avg float64
	Max float64
	Min float64
}

// ComputeVelocities is the rolling-burn extension point. The windowing
// policy for day-over-day burn is not specified yet, so all aggregates are
// zero until it is.
func ComputeVelocities(target domain.Target, date time.Time) Velocities {
	return Velocities{}
}
