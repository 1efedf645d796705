package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// SyntheticSource produces device-less streams backed by static sample tracks.
// It serves headless machines and tests.
type SyntheticSource struct {
	// Err, when set, is returned by Acquire instead of a stream.
	Err error

	acquired atomic.Int32
}

// Acquire returns a stream with one VP8 video track and, if requested, one Opus track.
func (s *SyntheticSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	id := uuid.NewString()
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+string(c.Facing), id,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	tracks := []webrtc.TrackLocal{video}

	if c.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", id,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		tracks = append(tracks, audio)
	}

	s.acquired.Add(1)
	return &SyntheticStream{id: id, tracks: tracks}, nil
}

// Acquired reports how many streams were handed out.
func (s *SyntheticSource) Acquired() int {
	return int(s.acquired.Load())
}

// SyntheticStream is the Stream returned by SyntheticSource.
type SyntheticStream struct {
	id     string
	tracks []webrtc.TrackLocal

	mu      sync.Mutex
	stopped bool
}

func (s *SyntheticStream) ID() string { return s.id }

func (s *SyntheticStream) Tracks() []webrtc.TrackLocal {
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func (s *SyntheticStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *SyntheticStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}
