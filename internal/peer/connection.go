// Package peer adapts pion/webrtc to the negotiation machine's connection
// and media capabilities.
package peer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/peer-signaling/config"
	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/mossy-p/peer-signaling/internal/negotiation"
)

// ErrForeignStream is returned when local media did not come from this
// package's MediaSource.
var ErrForeignStream = errors.New("stream was not produced by the pion media source")

// Factory creates pion peer connections sharing one API instance.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(cfg *config.PeerConfig) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	return &Factory{
		api:    api,
		config: webrtc.Configuration{ICEServers: ICEServers(cfg)},
	}, nil
}

// ICEServers builds the STUN/TURN list from the peer configuration.
func ICEServers(cfg *config.PeerConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}
	if cfg.TURN.URL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{cfg.TURN.URL},
			Username:       cfg.TURN.Username,
			Credential:     cfg.TURN.Credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

// NewConnection implements negotiation.ConnectionFactory. Every callback in
// ev must be set.
func (f *Factory) NewConnection(ev negotiation.ConnectionEvents) (negotiation.Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnNegotiationNeeded(ev.NegotiationNeeded)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering and is not signaled.
		if c == nil {
			return
		}
		ev.CandidateGenerated(fromCandidateInit(c.ToJSON()))
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if st, ok := connectivity(s); ok {
			ev.ConnectivityChanged(st)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logging.Debug("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
		ev.RemoteMediaAttached(newRemoteStream(track))
	})

	return &Connection{pc: pc}, nil
}

// Connection wraps a pion PeerConnection.
type Connection struct {
	pc *webrtc.PeerConnection
}

func (c *Connection) CreateOffer() (models.SessionDescription, error) {
	desc, err := c.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return fromSessionDescription(desc), nil
}

func (c *Connection) CreateAnswer() (models.SessionDescription, error) {
	desc, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return fromSessionDescription(desc), nil
}

func (c *Connection) SetLocalDescription(desc models.SessionDescription) error {
	return c.pc.SetLocalDescription(toSessionDescription(desc))
}

func (c *Connection) SetRemoteDescription(desc models.SessionDescription) error {
	return c.pc.SetRemoteDescription(toSessionDescription(desc))
}

func (c *Connection) Rollback() error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *Connection) AddCandidate(cand models.Candidate) error {
	return c.pc.AddICECandidate(toCandidateInit(cand))
}

func (c *Connection) AttachLocalMedia(s negotiation.Stream) error {
	local, ok := s.(*LocalStream)
	if !ok {
		return ErrForeignStream
	}
	for _, track := range local.tracks {
		if _, err := c.pc.AddTrack(track); err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
	}
	return nil
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

func connectivity(s webrtc.PeerConnectionState) (negotiation.ConnectivityState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return negotiation.ConnectivityNew, true
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.ConnectivityConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return negotiation.ConnectivityConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.ConnectivityDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return negotiation.ConnectivityFailed, true
	case webrtc.PeerConnectionStateClosed:
		return negotiation.ConnectivityClosed, true
	}
	return 0, false
}

func fromSessionDescription(desc webrtc.SessionDescription) models.SessionDescription {
	return models.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func toSessionDescription(desc models.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
}

func fromCandidateInit(c webrtc.ICECandidateInit) models.Candidate {
	return models.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func toCandidateInit(c models.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// RemoteStream is a remote track. It drains incoming RTP until the
// connection closes.
type RemoteStream struct {
	track   *webrtc.TrackRemote
	packets atomic.Uint64
}

func newRemoteStream(track *webrtc.TrackRemote) *RemoteStream {
	s := &RemoteStream{track: track}
	go s.drain()
	return s
}

func (s *RemoteStream) ID() string {
	return s.track.StreamID() + "/" + s.track.ID()
}

// Kind returns "audio" or "video".
func (s *RemoteStream) Kind() string {
	return s.track.Kind().String()
}

// Packets returns the number of RTP packets received so far.
func (s *RemoteStream) Packets() uint64 {
	return s.packets.Load()
}

// Close is a no-op: the track ends with its connection.
func (s *RemoteStream) Close() error {
	return nil
}

func (s *RemoteStream) drain() {
	for {
		if _, _, err := s.track.ReadRTP(); err != nil {
			return
		}
		s.packets.Add(1)
	}
}
