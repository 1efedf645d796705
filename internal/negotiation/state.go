package negotiation

// State is the engine's position in the offer/answer exchange.
type State int

const (
	Idle State = iota
	AwaitingLocalMedia
	AwaitingPeer
	Offering
	Answering
	Connected
	Closed
	Failed
)

var stateNames = [...]string{
	Idle:               "idle",
	AwaitingLocalMedia: "awaiting-local-media",
	AwaitingPeer:       "awaiting-peer",
	Offering:           "offering",
	Answering:          "answering",
	Connected:          "connected",
	Closed:             "closed",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// terminal states need Close or Start before the engine does anything again.
func (s State) terminal() bool {
	return s == Closed || s == Failed
}

// Role selects which side of the exchange the engine plays.
type Role int

const (
	Initiator Role = iota + 1
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	}
	return "none"
}
