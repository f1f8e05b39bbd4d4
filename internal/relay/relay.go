// Package relay forwards signaling messages between connected parties by
// display name. Payload contents are never interpreted.
package relay

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/mossy-p/peer-signaling/internal/presence"
)

var (
	// ErrRouteNotFound means no connection is registered under the target
	// name. The message is dropped and the sender is not told.
	ErrRouteNotFound = errors.New("route not found")
	// ErrTargetBusy means the target's send buffer was full.
	ErrTargetBusy = errors.New("target send buffer full")
)

// Resolver finds the connection registered under a display name.
type Resolver interface {
	Lookup(displayName string) (presence.Endpoint, bool)
}

// Stats counts routing outcomes.
type Stats struct {
	Delivered uint64
	NotFound  uint64
	Busy      uint64
}

// Relay forwards signaling envelopes between registered parties.
type Relay struct {
	resolver Resolver

	delivered atomic.Uint64
	notFound  atomic.Uint64
	busy      atomic.Uint64
}

// New returns a Relay that resolves targets through resolver.
func New(resolver Resolver) *Relay {
	return &Relay{resolver: resolver}
}

// Route forwards env to the connection registered under its target. The
// `from` field is not checked against the sender's registered name.
func (r *Relay) Route(env models.Envelope) error {
	msg, err := env.Signal()
	if err != nil {
		return err
	}

	ep, ok := r.resolver.Lookup(msg.Target)
	if !ok {
		r.notFound.Add(1)
		logging.Debug("dropping %s from %q: no party named %q", env.Type, msg.From, msg.Target)
		return fmt.Errorf("%w: %q", ErrRouteNotFound, msg.Target)
	}

	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Type, err)
	}
	if !ep.Deliver(frame) {
		r.busy.Add(1)
		logging.Warn("failed to deliver %s to %q (%s), buffer full", env.Type, msg.Target, ep.ID())
		return fmt.Errorf("%w: %q", ErrTargetBusy, msg.Target)
	}

	r.delivered.Add(1)
	logging.Debug("routed %s %q -> %q", env.Type, msg.From, msg.Target)
	return nil
}

// Stats returns a snapshot of the routing counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Delivered: r.delivered.Load(),
		NotFound:  r.notFound.Load(),
		Busy:      r.busy.Load(),
	}
}
