package negotiation

import "errors"

var (
	ErrInvalidDescription = errors.New("invalid session description")
	ErrInvalidCandidate   = errors.New("invalid candidate")
	ErrMediaUnavailable   = errors.New("local media unavailable")
	ErrSelfSelection      = errors.New("cannot start a session with yourself")
	ErrEmptyTarget        = errors.New("peer name is empty")
	ErrConnectivityFailed = errors.New("connectivity failed")
	ErrNegotiationTimeout = errors.New("negotiation stalled")
	// ErrSessionReset is returned for work that was discarded because the
	// session it belonged to was reset.
	ErrSessionReset = errors.New("session was reset")
)
