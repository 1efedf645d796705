// Package media defines the capture adapter contract: a Source hands out a
// Stream of local tracks that the negotiation engine borrows and the session
// lifecycle releases.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Camsync/internal/signaling"
)

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// FacingMode selects which camera to open.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Constraints describe what to capture.
type Constraints struct {
	Facing    FacingMode
	Audio     bool
	Width     int
	Height    int
	FrameRate float64
}

// ConstraintsForRole derives the facing mode from the participant role: the
// laptop films its user, the phone films the room.
func ConstraintsForRole(role signaling.Role, audio bool) Constraints {
	facing := FacingUser
	if role == signaling.RoleMobile {
		facing = FacingEnvironment
	}
	return Constraints{
		Facing:    facing,
		Audio:     audio,
		Width:     640,
		Height:    480,
		FrameRate: 30,
	}
}

// Stream is a set of local tracks backed by an OS media handle.
type Stream interface {
	ID() string
	// Tracks returns the tracks to attach to a peer connection. The caller
	// borrows them and must not stop them.
	Tracks() []webrtc.TrackLocal
	// Stop releases the device. Calling it more than once is a no-op.
	Stop() error
	// Live reports whether Stop has not been called yet.
	Live() bool
}

// Source acquires local streams.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}
