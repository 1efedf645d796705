package session

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Camsync/internal/media"
)

// Stats describes the media flowing through a StatsSink.
type Stats struct {
	LocalStream  string
	LocalLive    bool
	RemoteTracks int
	Packets      uint64
	Bytes        uint64
	LastPacket   time.Time
}

// StatsSink counts the remote RTP it receives. It is the sink used by the
// command line, which has no surface to render video on.
type StatsSink struct {
	mu     sync.Mutex
	local  media.Stream
	tracks int
	last   time.Time
	// gen invalidates readers started before the last ClearRemote.
	gen     uint64
	packets uint64
	bytes   uint64
}

func (s *StatsSink) AttachLocal(st media.Stream) {
	s.mu.Lock()
	s.local = st
	s.mu.Unlock()
}

// AttachRemote drains track until it ends. The reader stops on its own when
// the peer connection closes.
func (s *StatsSink) AttachRemote(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	s.tracks++
	gen := s.gen
	s.mu.Unlock()

	go s.drain(track, gen)
}

func (s *StatsSink) drain(track *webrtc.TrackRemote, gen uint64) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil || !s.count(gen, n) {
			return
		}
	}
}

func (s *StatsSink) count(gen uint64, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.last = time.Now()
	s.packets++
	s.bytes += uint64(n)
	return true
}

func (s *StatsSink) ClearRemote() {
	s.mu.Lock()
	s.gen++
	s.tracks = 0
	s.last = time.Time{}
	s.packets, s.bytes = 0, 0
	s.mu.Unlock()
}

func (s *StatsSink) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		RemoteTracks: s.tracks,
		LastPacket:   s.last,
		Packets:      s.packets,
		Bytes:        s.bytes,
	}
	if s.local != nil {
		st.LocalStream = s.local.ID()
		st.LocalLive = s.local.Live()
	}
	s.mu.Unlock()
	return st
}
