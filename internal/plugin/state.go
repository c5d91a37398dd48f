package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin lifecycle states.
const (
	// StateDiscovered - Plugin metadata is known but no code is loaded.
	StateDiscovered State = iota

	// StateLoaded - Plugin code is loaded but not activated.
	StateLoaded

	// StateActivated - Plugin is active and running.
	StateActivated

	// StateDeactivated - Plugin was active and has been stopped.
	StateDeactivated

	// StateFailed - Plugin encountered an error.
	StateFailed

	// StateUnloaded - Plugin code has been released.
	StateUnloaded
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateLoaded:
		return "loaded"
	case StateActivated:
		return "activated"
	case StateDeactivated:
		return "deactivated"
	case StateFailed:
		return "failed"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// ParseState converts a state name back to a State. Unknown names return
// StateDiscovered and false.
func ParseState(s string) (State, bool) {
	for _, st := range []State{
		StateDiscovered, StateLoaded, StateActivated,
		StateDeactivated, StateFailed, StateUnloaded,
	} {
		if st.String() == s {
			return st, true
		}
	}
	return StateDiscovered, false
}

// transitions is the complete set of legal lifecycle transitions.
// Registry.UpdateState rejects everything absent from this table.
var transitions = map[State]map[State]bool{
	StateDiscovered: {
		StateLoaded: true, // load success
		StateFailed: true, // load error
	},
	StateLoaded: {
		StateActivated: true, // activate success
		StateFailed:    true, // activate error
		StateUnloaded:  true, // unload
	},
	StateActivated: {
		StateDeactivated: true, // deactivate
		StateFailed:      true, // forced
	},
	StateDeactivated: {
		StateActivated: true, // re-activate
		StateUnloaded:  true, // unload
	},
	StateFailed: {
		StateUnloaded: true, // cleanup
	},
	StateUnloaded: {
		StateLoaded: true, // reload
	},
}

// CanTransition reports whether the transition from s to next is legal.
func (s State) CanTransition(next State) bool {
	return transitions[s][next]
}

// IsUsable returns true if the plugin can currently service calls.
func (s State) IsUsable() bool {
	return s == StateLoaded || s == StateActivated
}
