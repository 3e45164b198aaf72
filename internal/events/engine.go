package events

import "time"

// SchedulerStart is emitted when the engine starts bringing computed members
// up to date for a write batch.
type SchedulerStart struct {
	Members   int
	MaxPasses int
}

// SchedulerFinish is emitted when a scheduler run converges or fails.
type SchedulerFinish struct {
	Passes   int
	Changes  int
	Err      error
	Duration time.Duration
}

// PassFinish is emitted after every scheduler pass.
type PassFinish struct {
	Pass     int
	Changes  int
	Duration time.Duration
}

// ComputedUpdated is emitted when a pass wrote new values for a computed member.
type ComputedUpdated struct {
	Member   string
	Pass     int
	Changes  int
	Duration time.Duration
}

// NavigationLoad is emitted after the engine preloads a navigation from the host.
type NavigationLoad struct {
	Navigation string
	Mode       string
	Entities   int
	Err        error
	Duration   time.Duration
}

// ConsistencyChecked reports how many stored values of a computed member
// match a fresh recomputation.
type ConsistencyChecked struct {
	Member       string
	Consistent   int
	Inconsistent int
	Ratio        float64
}
