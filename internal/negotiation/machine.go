// Package negotiation implements the client-side negotiation state machine:
// it orders offer/answer/candidate exchange with one remote party, resolves
// crossed offers and buffers candidates that arrive before the remote
// description.
//
// Every inbound message, local action and capability event is applied by a
// single worker goroutine (Run) in arrival order. Reset may be called from any
// goroutine at any time; work still in flight for the discarded session is
// ignored when it completes. Inbound messages are never dropped by a reset:
// each one is judged against the session that is current when it runs.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
)

// ErrMachineStopped is returned to callers waiting on a machine whose worker
// has exited.
var ErrMachineStopped = errors.New("negotiation machine stopped")

// Config wires a Machine to its capabilities.
type Config struct {
	LocalName   string
	Connections ConnectionFactory
	Media       MediaSource
	// Constraints default to audio and video when both are false.
	Constraints Constraints
	Signaler    Signaler
	Observer    Observer
	// StallTimeout fails a session that stays in HAVE_LOCAL_OFFER or
	// HAVE_REMOTE_OFFER this long. Zero disables it.
	StallTimeout time.Duration
}

type queuedCandidate struct {
	from string
	c    models.Candidate
}

type session struct {
	remote string
	phase  Phase
	conn   Connection

	// Owned by the worker.
	remoteSet   bool
	pending     []queuedCandidate
	renegotiate bool

	// Number of local descriptions applied so far.
	localDescs atomic.Uint64

	mu     sync.Mutex
	stream Stream
	timer  *time.Timer
	closed bool
}

func (s *session) setStream(st Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.stream = st
	return true
}

func (s *session) armTimer(d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, fire)
}

func (s *session) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// teardown releases the capability and local media. It is idempotent.
func (s *session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stream, timer := s.stream, s.timer
	s.stream, s.timer = nil, nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if err := s.conn.Close(); err != nil {
		logging.Debug("failed to close connection: %v", err)
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			logging.Debug("failed to release local media: %v", err)
		}
	}
}

// Machine negotiates with at most one remote party at a time.
type Machine struct {
	cfg     Config
	queue   *opQueue
	stopped chan struct{}

	mu      sync.Mutex
	sess    *session
	epoch   uint64
	// Epoch and kind of the op the worker is running.
	running uint64
	inbound bool
}

// NewMachine returns a machine in IDLE. Nothing is applied until Run starts.
func NewMachine(cfg Config) *Machine {
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if !cfg.Constraints.Audio && !cfg.Constraints.Video {
		cfg.Constraints = Constraints{Audio: true, Video: true}
	}
	return &Machine{
		cfg:     cfg,
		queue:   newOpQueue(),
		stopped: make(chan struct{}),
	}
}

// LocalName returns the display name this machine negotiates as.
func (m *Machine) LocalName() string {
	return m.cfg.LocalName
}

// Phase returns the phase of the current session, IDLE when there is none.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return PhaseIdle
	}
	return m.sess.phase
}

// Remote returns the remote party of the current session.
func (m *Machine) Remote() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.remote
}

// Run applies queued work until ctx is cancelled. The current session is
// torn down on exit.
func (m *Machine) Run(ctx context.Context) error {
	defer func() {
		close(m.stopped)
		m.Reset()
	}()

	for {
		o, ok := m.queue.pop(ctx)
		if !ok {
			return ctx.Err()
		}

		m.mu.Lock()
		if o.inbound {
			o.epoch = m.epoch
		}
		m.running, m.inbound = o.epoch, o.inbound
		valid := o.epoch == m.epoch
		m.mu.Unlock()

		err := ErrSessionReset
		if valid {
			err = o.run(ctx)
		}
		if o.done != nil {
			o.done <- err
		}
	}
}

// Deliver queues an inbound signaling envelope. It is applied even if the
// machine is reset before the worker reaches it.
func (m *Machine) Deliver(env models.Envelope) {
	m.queue.push(op{inbound: true, run: func(ctx context.Context) error {
		return m.handle(ctx, env)
	}})
}

// Reset discards the current session: queued candidates are dropped, the
// capability is torn down and the remote party is cleared. A local action
// queued or running when Reset is called is abandoned with ErrSessionReset.
func (m *Machine) Reset() {
	m.reset(true, nil)
}

// reset discards the current session unless keep reports true for it. Only
// an external reset bumps the epoch; the worker discarding a session leaves
// queued work valid.
func (m *Machine) reset(external bool, keep func(*session) bool) {
	m.mu.Lock()
	if m.sess != nil && keep != nil && keep(m.sess) {
		m.mu.Unlock()
		return
	}
	old := m.sess
	m.sess = nil
	if external {
		m.epoch++
	}
	remote := ""
	if old != nil {
		remote = old.remote
	}
	m.mu.Unlock()

	if old != nil {
		old.teardown()
		logging.Info("session with %q reset", remote)
		m.cfg.Observer.PhaseChanged(remote, PhaseIdle)
	}
}

// resetInline is reset called by the worker on behalf of the op it is
// running.
func (m *Machine) resetInline() {
	m.reset(false, nil)
}

func (m *Machine) enqueue(run func(ctx context.Context) error, done chan error) {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	m.queue.push(op{epoch: epoch, run: run, done: done})
}

func (m *Machine) do(ctx context.Context, run func(ctx context.Context) error) error {
	done := make(chan error, 1)
	m.enqueue(run, done)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrMachineStopped
	}
}

// enqueueFor queues capability work that only applies while sess is current.
func (m *Machine) enqueueFor(sess *session, fn func(*session) error) {
	m.queue.push(op{inbound: true, run: func(context.Context) error {
		if !m.isCurrent(sess) {
			return ErrSessionReset
		}
		return fn(sess)
	}})
}

func (m *Machine) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

func (m *Machine) isCurrent(sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess == sess
}

// staleOr returns ErrSessionReset when sess was discarded, err otherwise.
func (m *Machine) staleOr(sess *session, err error) error {
	if !m.isCurrent(sess) {
		return ErrSessionReset
	}
	return err
}

func (m *Machine) setPhase(sess *session, p Phase) bool {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return false
	}
	prev := sess.phase
	sess.phase = p
	remote := sess.remote
	m.mu.Unlock()

	if prev != p {
		logging.Info("session with %q: %s -> %s", remote, prev, p)
		m.cfg.Observer.PhaseChanged(remote, p)
	}
	return true
}

// open creates the session for remote and makes it current. A local action
// that was reset meanwhile gets ErrSessionReset.
func (m *Machine) open(remote string) (*session, error) {
	sess := &session{remote: remote, phase: PhaseIdle}
	conn, err := m.cfg.Connections.NewConnection(m.eventsFor(sess))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	sess.conn = conn

	m.mu.Lock()
	if !m.inbound && m.running != m.epoch {
		m.mu.Unlock()
		conn.Close()
		return nil, ErrSessionReset
	}
	m.sess = sess
	m.mu.Unlock()
	return sess, nil
}

// discard drops sess without reporting a failure.
func (m *Machine) discard(sess *session) {
	if m.isCurrent(sess) {
		m.resetInline()
	}
}

// abort drops sess and reports err to the presentation layer.
func (m *Machine) abort(sess *session, err error) error {
	if !m.isCurrent(sess) {
		return ErrSessionReset
	}
	m.resetInline()
	m.cfg.Observer.Failed(sess.remote, err)
	return err
}

// fail moves sess to FAILED. The session stays current until reset.
func (m *Machine) fail(sess *session, err error) error {
	if !m.setPhase(sess, PhaseFailed) {
		return ErrSessionReset
	}
	sess.teardown()
	m.cfg.Observer.Failed(sess.remote, err)
	return err
}

func (m *Machine) armStall(sess *session) {
	if m.cfg.StallTimeout <= 0 {
		return
	}
	sess.armTimer(m.cfg.StallTimeout, func() {
		m.enqueueFor(sess, func(s *session) error {
			if !s.phase.negotiating() {
				return nil
			}
			return m.fail(s, ErrNegotiationTimeout)
		})
	})
}

func (m *Machine) send(t models.EventType, remote string, data interface{}) error {
	env, err := models.NewSignal(t, m.cfg.LocalName, remote, data)
	if err != nil {
		return err
	}
	if err := m.cfg.Signaler.Send(env); err != nil {
		return fmt.Errorf("failed to send %s to %q: %w", t, remote, err)
	}
	logging.Debug("sent %s to %q", t, remote)
	return nil
}

func (m *Machine) eventsFor(sess *session) ConnectionEvents {
	return ConnectionEvents{
		NegotiationNeeded: func() {
			seen := sess.localDescs.Load()
			m.enqueueFor(sess, func(s *session) error {
				return m.negotiationNeeded(s, seen)
			})
		},
		CandidateGenerated: func(c models.Candidate) {
			m.enqueueFor(sess, func(s *session) error {
				if s.phase.Terminal() {
					return nil
				}
				return m.send(models.EventCandidate, s.remote, c)
			})
		},
		ConnectivityChanged: func(st ConnectivityState) {
			m.enqueueFor(sess, func(s *session) error {
				return m.connectivityChanged(s, st)
			})
		},
		RemoteMediaAttached: func(st Stream) {
			m.enqueueFor(sess, func(s *session) error {
				logging.Info("remote media %s attached from %q", st.ID(), s.remote)
				m.cfg.Observer.RemoteMediaAttached(s.remote, st)
				return nil
			})
		},
	}
}

func (m *Machine) handle(ctx context.Context, env models.Envelope) error {
	msg, err := env.Signal()
	if err != nil {
		logging.Warn("dropping signaling message: %v", err)
		return err
	}
	if msg.Target != m.cfg.LocalName {
		logging.Debug("dropping %s for %q, local party is %q", env.Type, msg.Target, m.cfg.LocalName)
		return nil
	}

	switch env.Type {
	case models.EventOffer:
		err = m.receiveOffer(ctx, msg)
	case models.EventAnswer:
		err = m.receiveAnswer(msg)
	case models.EventCandidate:
		err = m.receiveCandidate(msg)
	}
	if err != nil && !errors.Is(err, ErrSessionReset) {
		logging.Warn("%s from %q: %v", env.Type, msg.From, err)
	}
	return err
}

// initiateLocal starts a session as the offering side. An exchange already
// in flight with remote is joined instead: its offer may have crossed ours
// on the wire.
func (m *Machine) initiateLocal(ctx context.Context, remote string) error {
	if sess := m.current(); sess != nil {
		if sess.remote == remote && sess.phase.negotiating() {
			logging.Info("already negotiating with %q", remote)
			return nil
		}
		m.resetInline()
	}

	sess, err := m.open(remote)
	if err != nil {
		return err
	}
	if err := m.acquireMedia(ctx, sess); err != nil {
		return err
	}
	if err := m.offer(sess); err != nil {
		m.discard(sess)
		return err
	}
	return nil
}

func (m *Machine) acquireMedia(ctx context.Context, sess *session) error {
	stream, err := m.cfg.Media.Acquire(ctx, m.cfg.Constraints)
	if !m.isCurrent(sess) {
		if stream != nil {
			stream.Close()
		}
		return ErrSessionReset
	}
	if err != nil {
		return m.abort(sess, fmt.Errorf("%w: %v", ErrMediaUnavailable, err))
	}
	if !sess.setStream(stream) {
		stream.Close()
		return ErrSessionReset
	}
	if err := sess.conn.AttachLocalMedia(stream); err != nil {
		return m.abort(sess, fmt.Errorf("%w: %v", ErrMediaUnavailable, err))
	}
	return nil
}

// offer creates and sends a fresh offer, entering HAVE_LOCAL_OFFER.
func (m *Machine) offer(sess *session) error {
	desc, err := sess.conn.CreateOffer()
	if err != nil {
		return m.staleOr(sess, fmt.Errorf("failed to create offer: %w", err))
	}
	if err := sess.conn.SetLocalDescription(desc); err != nil {
		return m.staleOr(sess, fmt.Errorf("failed to set local offer: %w", err))
	}
	sess.localDescs.Add(1)
	if !m.setPhase(sess, PhaseHaveLocalOffer) {
		return ErrSessionReset
	}
	m.armStall(sess)
	return m.send(models.EventOffer, sess.remote, desc)
}

// answer creates and sends an answer to the applied remote offer, then
// flushes queued candidates.
func (m *Machine) answer(sess *session) error {
	desc, err := sess.conn.CreateAnswer()
	if err != nil {
		return m.staleOr(sess, fmt.Errorf("failed to create answer: %w", err))
	}
	if err := sess.conn.SetLocalDescription(desc); err != nil {
		return m.staleOr(sess, fmt.Errorf("failed to set local answer: %w", err))
	}
	sess.localDescs.Add(1)

	if sess.phase != PhaseConnected {
		if !m.setPhase(sess, PhaseHaveRemoteOffer) {
			return ErrSessionReset
		}
		m.armStall(sess)
	}
	if err := m.send(models.EventAnswer, sess.remote, desc); err != nil {
		return err
	}
	m.flush(sess)
	return nil
}

func (m *Machine) applyRemote(sess *session, desc models.SessionDescription) error {
	if err := sess.conn.SetRemoteDescription(desc); err != nil {
		return m.staleOr(sess, fmt.Errorf("%w: %v", ErrInvalidDescription, err))
	}
	if !m.isCurrent(sess) {
		return ErrSessionReset
	}
	sess.remoteSet = true
	return nil
}

func (m *Machine) receiveOffer(ctx context.Context, msg models.SignalPayload) error {
	desc, err := decodeDescription(msg.Data, "offer")
	if err != nil {
		return err
	}

	sess := m.current()
	if sess != nil && sess.phase.Terminal() {
		m.resetInline()
		sess = nil
	}

	switch {
	case sess == nil:
		sess, err = m.open(msg.From)
		if err != nil {
			return err
		}
		if err := m.applyRemote(sess, desc); err != nil {
			m.discard(sess)
			return err
		}
		if err := m.acquireMedia(ctx, sess); err != nil {
			return err
		}
		return m.answer(sess)

	case msg.From != sess.remote:
		logging.Warn("in a session with %q, dropping offer from %q", sess.remote, msg.From)
		return nil

	case sess.phase == PhaseHaveLocalOffer:
		if winsGlare(m.cfg.LocalName, msg.From) {
			logging.Info("offers crossed with %q, keeping local offer", msg.From)
			return nil
		}
		logging.Info("offers crossed with %q, answering remote offer", msg.From)
		if err := sess.conn.Rollback(); err != nil {
			return m.staleOr(sess, fmt.Errorf("failed to roll back local offer: %w", err))
		}
		sess.remoteSet = false
		if err := m.applyRemote(sess, desc); err != nil {
			if errors.Is(err, ErrSessionReset) {
				return err
			}
			// Restore HAVE_LOCAL_OFFER with a fresh offer.
			if oerr := m.offer(sess); oerr != nil {
				logging.Warn("failed to restore local offer for %q: %v", sess.remote, oerr)
			}
			return err
		}
		return m.answer(sess)

	default:
		if err := m.applyRemote(sess, desc); err != nil {
			return err
		}
		return m.answer(sess)
	}
}

func (m *Machine) receiveAnswer(msg models.SignalPayload) error {
	desc, err := decodeDescription(msg.Data, "answer")
	if err != nil {
		return err
	}

	sess := m.current()
	if sess == nil || sess.phase != PhaseHaveLocalOffer {
		logging.Debug("dropping answer from %q, no local offer outstanding", msg.From)
		return nil
	}

	if err := m.applyRemote(sess, desc); err != nil {
		return err
	}
	if msg.From != sess.remote {
		logging.Info("answer for %q came from %q, following responder", sess.remote, msg.From)
		m.mu.Lock()
		sess.remote = msg.From
		m.mu.Unlock()
	}
	m.flush(sess)

	if !m.setPhase(sess, PhaseConnected) {
		return ErrSessionReset
	}
	sess.stopTimer()
	return m.replayRenegotiation(sess)
}

func (m *Machine) receiveCandidate(msg models.SignalPayload) error {
	c, err := decodeCandidate(msg.Data)
	if errors.Is(err, errEndOfCandidates) {
		return nil
	}
	if err != nil {
		return err
	}

	sess := m.current()
	if sess == nil || sess.phase.Terminal() || !sess.accepts(msg.From) {
		logging.Debug("dropping candidate from %q, no matching session", msg.From)
		return nil
	}
	if !sess.remoteSet {
		sess.pending = append(sess.pending, queuedCandidate{from: msg.From, c: c})
		logging.Debug("queued candidate from %q (%d pending)", msg.From, len(sess.pending))
		return nil
	}
	return m.addCandidate(sess, c)
}

// accepts reports whether candidates from party belong to sess. Until the
// answer arrives the responder may not be the party the offer was sent to.
func (s *session) accepts(party string) bool {
	if party == s.remote {
		return true
	}
	return s.phase == PhaseHaveLocalOffer && !s.remoteSet
}

func (m *Machine) addCandidate(sess *session, c models.Candidate) error {
	if err := sess.conn.AddCandidate(c); err != nil {
		return m.staleOr(sess, fmt.Errorf("%w: %v", ErrInvalidCandidate, err))
	}
	return nil
}

// flush applies the remote's queued candidates in arrival order and drops
// the rest.
func (m *Machine) flush(sess *session) {
	pending := sess.pending
	sess.pending = nil
	for _, q := range pending {
		if q.from != sess.remote {
			logging.Debug("dropping queued candidate from %q, session is with %q", q.from, sess.remote)
			continue
		}
		if err := m.addCandidate(sess, q.c); err != nil {
			if errors.Is(err, ErrSessionReset) {
				return
			}
			logging.Warn("failed to apply queued candidate from %q: %v", sess.remote, err)
		}
	}
}

// negotiationNeeded re-offers from CONNECTED. During an exchange the request
// is replayed once CONNECTED is reached. Requests raised before the latest
// local description are already covered by it.
func (m *Machine) negotiationNeeded(sess *session, seen uint64) error {
	if seen < sess.localDescs.Load() {
		return nil
	}
	switch sess.phase {
	case PhaseConnected:
		return m.offer(sess)
	case PhaseHaveLocalOffer, PhaseHaveRemoteOffer:
		sess.renegotiate = true
	}
	return nil
}

func (m *Machine) replayRenegotiation(sess *session) error {
	if !sess.renegotiate {
		return nil
	}
	sess.renegotiate = false
	return m.offer(sess)
}

func (m *Machine) connectivityChanged(sess *session, st ConnectivityState) error {
	logging.Debug("connectivity with %q: %s", sess.remote, st)

	switch st {
	case ConnectivityConnected:
		if sess.phase != PhaseHaveRemoteOffer {
			return nil
		}
		if !m.setPhase(sess, PhaseConnected) {
			return ErrSessionReset
		}
		sess.stopTimer()
		return m.replayRenegotiation(sess)

	case ConnectivityFailed:
		if sess.phase.Terminal() {
			return nil
		}
		return m.fail(sess, ErrConnectivityFailed)

	case ConnectivityClosed:
		if sess.phase.Terminal() || sess.phase == PhaseIdle {
			return nil
		}
		m.setPhase(sess, PhaseClosed)
		sess.stopTimer()
	}
	return nil
}

// winsGlare decides crossed offers: the greater display name keeps its offer.
func winsGlare(local, remote string) bool {
	return local > remote
}
