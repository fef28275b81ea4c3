package handshake

// State is the position of a handshake in its fixed exchange.
type State int

const (
	StateInit State = iota
	StateSynSent
	StateEstablished
	StateTimedOut
	// StateFailed covers send failures and channel errors.
	StateFailed
	StateCanceled
)

var stateNames = [...]string{
	StateInit:        "INIT",
	StateSynSent:     "SYN_SENT",
	StateEstablished: "ESTABLISHED",
	StateTimedOut:    "TIMED_OUT",
	StateFailed:      "FAILED",
	StateCanceled:    "CANCELED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
