package negotiation

import (
	"context"

	"github.com/mossy-p/peer-signaling/internal/models"
)

// Connection is the connection-establishment capability owned by one
// session. Implementations must be safe for Close to be called while another
// method is in flight.
type Connection interface {
	CreateOffer() (models.SessionDescription, error)
	CreateAnswer() (models.SessionDescription, error)
	SetLocalDescription(desc models.SessionDescription) error
	SetRemoteDescription(desc models.SessionDescription) error
	// Rollback discards a pending local offer.
	Rollback() error
	AddCandidate(c models.Candidate) error
	AttachLocalMedia(s Stream) error
	Close() error
}

// ConnectionEvents are the observable events of a Connection. Callbacks may
// fire on any goroutine.
type ConnectionEvents struct {
	NegotiationNeeded   func()
	CandidateGenerated  func(c models.Candidate)
	ConnectivityChanged func(s ConnectivityState)
	RemoteMediaAttached func(s Stream)
}

// ConnectionFactory creates a Connection that reports to ev.
type ConnectionFactory interface {
	NewConnection(ev ConnectionEvents) (Connection, error)
}

// Stream is a handle to a local or remote media stream.
type Stream interface {
	ID() string
	Close() error
}

// Constraints select which local media to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// MediaSource acquires local media.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Signaler delivers envelopes to the relay.
type Signaler interface {
	Send(env models.Envelope) error
}

// Observer is the presentation layer's view of a machine.
type Observer interface {
	PhaseChanged(remote string, phase Phase)
	RemoteMediaAttached(remote string, s Stream)
	// Failed reports user-visible failures: media, connectivity, timeout.
	Failed(remote string, err error)
}

type nopObserver struct{}

func (nopObserver) PhaseChanged(string, Phase)         {}
func (nopObserver) RemoteMediaAttached(string, Stream) {}
func (nopObserver) Failed(string, error)               {}
