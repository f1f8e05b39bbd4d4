package negotiation

// Phase is the negotiation phase of a session. The zero value is not a
// valid phase.
type Phase int

const (
	PhaseIdle Phase = iota + 1
	PhaseHaveLocalOffer
	PhaseHaveRemoteOffer
	PhaseConnected
	PhaseClosed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseHaveLocalOffer:
		return "HAVE_LOCAL_OFFER"
	case PhaseHaveRemoteOffer:
		return "HAVE_REMOTE_OFFER"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseClosed:
		return "CLOSED"
	case PhaseFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further negotiation happens in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseFailed
}

func (p Phase) negotiating() bool {
	return p == PhaseHaveLocalOffer || p == PhaseHaveRemoteOffer
}

// ConnectivityState is reported by the connection capability.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota + 1
	ConnectivityConnecting
	ConnectivityConnected
	ConnectivityDisconnected
	ConnectivityFailed
	ConnectivityClosed
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityNew:
		return "new"
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	}
	return "unknown"
}
