package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/negotiation"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// ErrNoMediaRequested is returned when neither audio nor video is requested.
var ErrNoMediaRequested = errors.New("no media kind requested")

// SyntheticMedia is a MediaSource for headless peers. Audio tracks carry
// Opus silence; video tracks are negotiated but send nothing.
type SyntheticMedia struct{}

func (SyntheticMedia) Acquire(ctx context.Context, c negotiation.Constraints) (negotiation.Stream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNoMediaRequested
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	s := &LocalStream{id: id, done: make(chan struct{})}

	var audio *webrtc.TrackLocalStaticSample
	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		audio = track
		s.tracks = append(s.tracks, track)
	}
	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		s.tracks = append(s.tracks, track)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pump(pumpCtx, audio)

	logging.Debug("acquired synthetic media %s (%d tracks)", id, len(s.tracks))
	return s, nil
}

// LocalStream is a set of local tracks produced by SyntheticMedia.
type LocalStream struct {
	id     string
	tracks []*webrtc.TrackLocalStaticSample

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *LocalStream) ID() string {
	return s.id
}

// Kinds returns the media kinds carried by the stream, in track order.
func (s *LocalStream) Kinds() []string {
	kinds := make([]string, 0, len(s.tracks))
	for _, t := range s.tracks {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

// Close stops the sample pump. It is idempotent.
func (s *LocalStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		logging.Debug("released synthetic media %s", s.id)
	})
	return nil
}

func (s *LocalStream) pump(ctx context.Context, audio *webrtc.TrackLocalStaticSample) {
	defer close(s.done)
	if audio == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := audio.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				logging.Debug("failed to write audio sample: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
