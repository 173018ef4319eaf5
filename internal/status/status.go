package status

// Status is the closed set of user availability states.
//
// busy and ringing imply a live call session (CurrentCallID non-empty).
// unavailable and disconnected exclude the user as a call target regardless
// of connectivity.
type Status string

const (
	Available    Status = "available"
	Unavailable  Status = "unavailable"
	Busy         Status = "busy"
	Ringing      Status = "ringing"
	Disconnected Status = "disconnected"
)

// Valid reports whether s is a member of the closed set.
func (s Status) Valid() bool {
	switch s {
	case Available, Unavailable, Busy, Ringing, Disconnected:
		return true
	default:
		return false
	}
}

// Callable reports whether a user in this state may become the target of a
// new call. Exhaustive by construction: anything outside the closed set is
// not callable.
func (s Status) Callable() bool {
	switch s {
	case Available:
		return true
	case Unavailable, Busy, Ringing, Disconnected:
		return false
	default:
		return false
	}
}
