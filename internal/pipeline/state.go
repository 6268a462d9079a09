package pipeline

// State is a step of one analysis attempt.
type State string

const (
	StateIdle          State = "IDLE"
	StateCaptured      State = "CAPTURED"
	StateSubmitting    State = "SUBMITTING"
	StateResultReady   State = "RESULT_READY"
	StateFallbackReady State = "FALLBACK_READY"
	StatePersisted     State = "PERSISTED"
	StateDone          State = "DONE"
)

var transitions = map[State][]State{
	StateIdle:          {StateCaptured},
	StateCaptured:      {StateSubmitting},
	StateSubmitting:    {StateResultReady, StateFallbackReady},
	StateResultReady:   {StatePersisted},
	StateFallbackReady: {StatePersisted},
	StatePersisted:     {StateDone},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateDone
}
