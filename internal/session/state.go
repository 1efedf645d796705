package session

// State is the coordinator's belief about its room membership.
type State int

const (
	NotJoined State = iota
	Joining
	WaitingForPeer
	Ready
	PeerLeft
	Closed
)

func (s State) String() string {
	switch s {
	case NotJoined:
		return "not-joined"
	case Joining:
		return "joining"
	case WaitingForPeer:
		return "waiting-for-peer"
	case Ready:
		return "ready"
	case PeerLeft:
		return "peer-left"
	case Closed:
		return "closed"
	}
	return "unknown"
}
