package capture

// State represents a recorder session state.
type State string

const (
	StateIdle      State = "idle"
	StateReady     State = "ready"
	StateRecording State = "recording"
	StatePreview   State = "preview"
	StateError     State = "error"
	StateClosed    State = "closed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsActive returns true while the session owns the camera device.
func (s State) IsActive() bool {
	switch s {
	case StateReady, StateRecording:
		return true
	default:
		return false
	}
}
