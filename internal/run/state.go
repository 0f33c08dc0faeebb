package run

// State is the lifecycle of one work item. Transitions are monotonic:
// Pending -> InFlight -> Succeeded or Failed. A Failed item moves back to
// Pending only through the explicit retry-failed option, never automatically.
// Skipped is terminal and assigned before the loop starts.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateSucceeded
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}
