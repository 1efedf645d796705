package relay

import "github.com/BioHazard786/Camsync/internal/signaling"

// Room holds at most one member per role.
type Room struct {
	ID      string
	Members map[signaling.Role]*Client
}

func newRoom(id string) *Room {
	return &Room{ID: id, Members: make(map[signaling.Role]*Client, 2)}
}

// Full reports whether both roles are taken.
func (r *Room) Full() bool {
	return r.Members[signaling.RoleLaptop] != nil && r.Members[signaling.RoleMobile] != nil
}

func (r *Room) Empty() bool {
	return len(r.Members) == 0
}

// Other returns the member holding the role complementary to c's, or nil.
func (r *Room) Other(c *Client) *Client {
	return r.Members[c.role.Peer()]
}

// freeRole picks the role an auto joiner gets: laptop first.
func (r *Room) freeRole() signaling.Role {
	if r.Members[signaling.RoleLaptop] == nil {
		return signaling.RoleLaptop
	}
	if r.Members[signaling.RoleMobile] == nil {
		return signaling.RoleMobile
	}
	return ""
}
