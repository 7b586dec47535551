package manager

// State of the backend binding
type State string

const (
	StateUninitialized State = "uninitialized"
	StateProbing       State = "probing"
	StateBound         State = "bound"
	// StateDegraded is a binding to a lower priority backend after the
	// preferred one was declined at runtime
	StateDegraded State = "degraded"
)

func (s State) String() string {
	return string(s)
}
