package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Envelope is the wire format for every message between a client and the relay.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relay protocol events.
const (
	EventJoinRoom     = "joinRoom"
	EventJoined       = "joined"
	EventReady        = "ready"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "iceCandidate"
	EventPeerLeft     = "peerDisconnected"
	EventLeaveRoom    = "leaveRoom"
	EventError        = "error"

	// Aliases some relays use for ready and peerDisconnected.
	EventRoomReady       = "roomReady"
	EventParticipantLeft = "participantLeft"
)

// Local events are dispatched by the Client itself, never sent over the wire.
const (
	EventConnectionLost = "connectionLost"
	EventReconnected    = "reconnected"
	EventDisconnected   = "disconnected"
)

// Role is the user-facing participant role.
type Role string

const (
	RoleLaptop Role = "laptop"
	RoleMobile Role = "mobile"

	// RoleAuto asks the relay to arbitrate: the first joiner becomes laptop.
	RoleAuto Role = "auto"
)

// Valid reports whether r can be sent in a joinRoom request.
func (r Role) Valid() bool {
	return r == RoleLaptop || r == RoleMobile || r == RoleAuto
}

// Peer returns the complementary role.
func (r Role) Peer() Role {
	switch r {
	case RoleLaptop:
		return RoleMobile
	case RoleMobile:
		return RoleLaptop
	}
	return ""
}

// ParseRole accepts the role names used by the browser build as well ("phone", "desktop").
// An empty string is not a role: arbitration must be asked for with "auto".
func ParseRole(s string) (Role, bool) {
	switch s {
	case "laptop", "desktop":
		return RoleLaptop, true
	case "mobile", "phone":
		return RoleMobile, true
	case "auto":
		return RoleAuto, true
	}
	return "", false
}

// JoinRoomPayload is sent by a client to claim a role in a room.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Role   Role   `json:"role"`
}

// JoinedPayload acknowledges a join with the role the relay assigned.
type JoinedPayload struct {
	RoomID string `json:"roomId"`
	Role   Role   `json:"role"`
}

// ReadyPayload is sent to both members once both roles are present.
type ReadyPayload struct {
	RoomID string `json:"roomId"`
}

// OfferPayload carries the initiator's session descriptor.
type OfferPayload struct {
	RoomID string                    `json:"roomId"`
	Offer  webrtc.SessionDescription `json:"offer"`
}

// AnswerPayload carries the responder's session descriptor.
type AnswerPayload struct {
	RoomID string                    `json:"roomId"`
	Answer webrtc.SessionDescription `json:"answer"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	RoomID    string                  `json:"roomId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// PeerLeftPayload tells the remaining member which role left.
type PeerLeftPayload struct {
	Role Role `json:"role"`
}

// LeaveRoomPayload is sent by a client leaving its room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// Error codes carried by ErrorPayload.
const (
	CodeRoleConflict = "role_conflict"
	CodeRoomFull     = "room_full"
	CodeInvalidRole  = "invalid_role"
	CodeNotInRoom    = "not_in_room"
	CodeBadRequest   = "bad_request"
	CodeUnavailable  = "unavailable"
)

// ErrorPayload represents error messages from the relay.
type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// canonical folds aliases onto the primary event names.
func canonical(event string) string {
	switch event {
	case EventRoomReady:
		return EventReady
	case EventParticipantLeft:
		return EventPeerLeft
	}
	return event
}
