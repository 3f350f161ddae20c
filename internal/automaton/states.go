package automaton

// State is the position of a resource's control loop.
type State string

const (
	// StateDown is the initial state: no backing instance is known to run.
	StateDown State = "down"

	// StateCalm means the resource is converged and idle.
	StateCalm State = "calm"

	// StateRestart means the backing instance stopped answering and must
	// be recreated.
	StateRestart State = "restart"

	// StateConfigure means a configuration apply is in progress or being
	// retried on backoff.
	StateConfigure State = "configure"

	// StateRebuild means the backing instance is being destructively
	// recreated after repeated apply failures.
	StateRebuild State = "rebuild"

	// StateError means a rebuild failed; the machine keeps retrying on
	// backoff and surfaces a critical alert.
	StateError State = "error"

	// StateDeleted is terminal. The machine is discarded afterwards.
	StateDeleted State = "deleted"
)

// validTransitions enumerates every legal edge. Anything else is a
// programming defect and is logged loudly by transition().
var validTransitions = map[State][]State{
	StateDown:      {StateConfigure, StateRebuild, StateDeleted},
	StateCalm:      {StateConfigure, StateRestart, StateRebuild, StateDeleted},
	StateRestart:   {StateRebuild, StateDeleted},
	StateConfigure: {StateCalm, StateRebuild, StateDeleted},
	StateRebuild:   {StateConfigure, StateError, StateDeleted},
	StateError:     {StateRebuild, StateDeleted},
	StateDeleted:   {},
}

// ValidTransition reports whether from→to is an edge of the transition table.
func ValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDeleted
}

func (s State) String() string { return string(s) }
