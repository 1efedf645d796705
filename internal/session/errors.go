package session

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Camsync/internal/media"
	"github.com/BioHazard786/Camsync/internal/negotiation"
	"github.com/BioHazard786/Camsync/internal/signaling"
)

var (
	ErrRoleConflict     = errors.New("role already taken in this room")
	ErrRoomFull         = errors.New("room is full")
	ErrRelay            = errors.New("relay reported an error")
	ErrJoinTimeout      = errors.New("timed out waiting for the relay to admit us")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrInvalidRoom      = errors.New("room id must not be empty")
	ErrInvalidRole      = errors.New("role must be laptop, mobile or auto")
)

// Error wraps a session failure with the step that produced it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// relayError maps a relay error code onto the session taxonomy.
func relayError(p signaling.ErrorPayload) error {
	switch p.Code {
	case signaling.CodeRoleConflict:
		return WrapError("join room", ErrRoleConflict, p.Error)
	case signaling.CodeRoomFull:
		return WrapError("join room", ErrRoomFull, p.Error)
	case signaling.CodeInvalidRole:
		return WrapError("join room", ErrInvalidRole, p.Error)
	}
	return WrapError("relay", ErrRelay, p.Code+": "+p.Error)
}

// Status renders err as the one-line message shown to the user.
func Status(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, media.ErrPermissionDenied):
		return "Camera access was denied. Allow camera access and reconnect."
	case errors.Is(err, media.ErrDeviceUnavailable):
		return "No usable camera was found."
	case errors.Is(err, signaling.ErrChannelUnavailable):
		return "Could not reach the signaling relay."
	case errors.Is(err, signaling.ErrChannelDisconnected):
		return "Lost the connection to the signaling relay."
	case errors.Is(err, ErrRoleConflict):
		return "Someone already joined this room with that role."
	case errors.Is(err, ErrRoomFull):
		return "This room already has two participants."
	case errors.Is(err, ErrJoinTimeout):
		return "The relay did not answer the join request."
	case errors.Is(err, negotiation.ErrDescriptorRejected):
		return "The video session could not be negotiated."
	case errors.Is(err, negotiation.ErrTransportFailed):
		return "The peer-to-peer connection failed."
	}
	return err.Error()
}
