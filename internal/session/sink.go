package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Camsync/internal/media"
)

// Sink renders the local preview and the remote feed.
type Sink interface {
	AttachLocal(media.Stream)
	AttachRemote(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	ClearRemote()
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) AttachLocal(media.Stream)                              {}
func (NopSink) AttachRemote(*webrtc.TrackRemote, *webrtc.RTPReceiver) {}
func (NopSink) ClearRemote()                                          {}
