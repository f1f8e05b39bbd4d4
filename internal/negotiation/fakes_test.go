package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	owner string
	ev    ConnectionEvents

	mu         sync.Mutex
	offers     int
	local      *models.SessionDescription
	remote     *models.SessionDescription
	candidates []models.Candidate
	rollbacks  int
	media      []Stream
	closed     bool
	failRemote error
	rejectSDP  string
}

func (c *fakeConn) CreateOffer() (models.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.SessionDescription{}, errConnClosed
	}
	c.offers++
	return models.SessionDescription{Type: "offer", SDP: fmt.Sprintf("v=0 %s offer %d", c.owner, c.offers)}, nil
}

func (c *fakeConn) CreateAnswer() (models.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.SessionDescription{}, errConnClosed
	}
	if c.remote == nil || c.remote.Type != "offer" {
		return models.SessionDescription{}, errors.New("no remote offer")
	}
	return models.SessionDescription{Type: "answer", SDP: fmt.Sprintf("v=0 %s answer", c.owner)}, nil
}

func (c *fakeConn) SetLocalDescription(desc models.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.local = &desc
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc models.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.failRemote != nil {
		return c.failRemote
	}
	if c.rejectSDP != "" && desc.SDP == c.rejectSDP {
		return errors.New("unsupported description")
	}
	c.remote = &desc
	return nil
}

func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil || c.local.Type != "offer" {
		return errors.New("no local offer to roll back")
	}
	c.local = nil
	c.rollbacks++
	return nil
}

func (c *fakeConn) AddCandidate(cand models.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

// AttachLocalMedia raises NegotiationNeeded synchronously the way real
// engines do when tracks are added.
func (c *fakeConn) AttachLocalMedia(s Stream) error {
	c.mu.Lock()
	c.media = append(c.media, s)
	c.mu.Unlock()
	c.ev.NegotiationNeeded()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Candidates() []models.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Candidate(nil), c.candidates...)
}

func (c *fakeConn) Remote() *models.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *fakeConn) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	owner      string
	failRemote error
	// Connections refuse this remote SDP.
	rejectSDP string

	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewConnection(ev ConnectionEvents) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{owner: f.owner, ev: ev, failRemote: f.failRemote, rejectSDP: f.rejectSDP}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) Last(t *testing.T) *fakeConn {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns, "no connection created")
	return f.conns[len(f.conns)-1]
}

type fakeStream struct {
	id     string
	closed atomic.Bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeMedia struct {
	err error
	// When set, Acquire signals entered and waits for release.
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	streams []*fakeStream
}

func (m *fakeMedia) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if m.release != nil {
		close(m.entered)
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &fakeStream{id: fmt.Sprintf("local-%d", len(m.streams)+1)}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMedia) Streams() []*fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeStream(nil), m.streams...)
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []models.Envelope
}

func (s *recordingSignaler) Send(env models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

// Sent returns the decoded payloads of sent envelopes of type t.
func (s *recordingSignaler) Sent(t *testing.T, typ models.EventType) []models.SignalPayload {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SignalPayload
	for _, env := range s.sent {
		if env.Type != typ {
			continue
		}
		p, err := env.Signal()
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	phases   []Phase
	failures []error
	media    []string
}

func (o *recordingObserver) PhaseChanged(remote string, p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}

func (o *recordingObserver) RemoteMediaAttached(remote string, s Stream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.media = append(o.media, s.ID())
}

func (o *recordingObserver) Failed(remote string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, err)
}

func (o *recordingObserver) Phases() []Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Phase(nil), o.phases...)
}

func (o *recordingObserver) Failures() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.failures...)
}

type harness struct {
	m        *Machine
	factory  *fakeFactory
	media    *fakeMedia
	signaler *recordingSignaler
	observer *recordingObserver
}

func newHarness(t *testing.T, local string, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		factory:  &fakeFactory{owner: local},
		media:    &fakeMedia{},
		signaler: &recordingSignaler{},
		observer: &recordingObserver{},
	}
	cfg := Config{
		LocalName:   local,
		Connections: h.factory,
		Media:       h.media,
		Signaler:    h.signaler,
		Observer:    h.observer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.m = startMachine(t, cfg)
	return h
}

func startMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m := NewMachine(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

// drain waits until everything queued so far has been applied.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.m.do(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrSessionReset) {
		require.NoError(t, err)
	}
}

// park blocks the worker until the returned func is called, so messages
// delivered meanwhile stay queued.
func (h *harness) park(t *testing.T) func() {
	t.Helper()
	entered := make(chan struct{})
	release := make(chan struct{})
	h.m.queue.push(op{inbound: true, run: func(context.Context) error {
		close(entered)
		<-release
		return nil
	}})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the parking op")
	}
	return func() { close(release) }
}

// queued returns the number of ops waiting for the worker.
func (h *harness) queued() int {
	h.m.queue.mu.Lock()
	defer h.m.queue.mu.Unlock()
	return len(h.m.queue.items)
}

// send queues an inbound signaling message without waiting for it.
func (h *harness) send(t *testing.T, typ models.EventType, from string, data interface{}) {
	t.Helper()
	env, err := models.NewSignal(typ, from, h.m.LocalName(), data)
	require.NoError(t, err)
	h.m.Deliver(env)
}

// deliver applies an inbound signaling message addressed to the local party.
func (h *harness) deliver(t *testing.T, typ models.EventType, from string, data interface{}) {
	t.Helper()
	env, err := models.NewSignal(typ, from, h.m.LocalName(), data)
	require.NoError(t, err)
	h.m.Deliver(env)
	h.drain(t)
}

func (h *harness) selectPeer(t *testing.T, target string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.m.SelectPeer(ctx, target)
}

func offer(sdp string) models.SessionDescription {
	return models.SessionDescription{Type: "offer", SDP: sdp}
}

func answer(sdp string) models.SessionDescription {
	return models.SessionDescription{Type: "answer", SDP: sdp}
}

func candidate(s string) models.Candidate {
	mid := "0"
	return models.Candidate{Candidate: s, SDPMid: &mid}
}
