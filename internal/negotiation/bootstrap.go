package negotiation

import (
	"context"
	"strings"

	"github.com/mossy-p/peer-signaling/internal/logging"
)

// SelectPeer starts a session with target as the offering side. Any other
// session is reset first; an exchange already under way with target is
// joined, since target's offer may have crossed ours. It returns once the
// offer is sent or the attempt fails.
func (m *Machine) SelectPeer(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return ErrEmptyTarget
	}
	if target == m.cfg.LocalName {
		return ErrSelfSelection
	}

	logging.Info("calling %q", target)
	m.reset(true, func(s *session) bool {
		return s.exchangingWith(target)
	})
	return m.do(ctx, func(ctx context.Context) error {
		return m.initiateLocal(ctx, target)
	})
}

// Hangup ends the current session and returns to IDLE.
func (m *Machine) Hangup() {
	m.Reset()
}

// exchangingWith reports whether s is with target and has not yet connected
// or ended. A session in IDLE is still being opened by the worker.
func (s *session) exchangingWith(target string) bool {
	if s.remote != target {
		return false
	}
	return s.phase == PhaseIdle || s.phase.negotiating()
}
