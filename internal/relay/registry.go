package relay

import (
	"context"
	"sync"

	"github.com/BioHazard786/Camsync/internal/signaling"
)

// Registry records which member holds which role in a room. The hub consults
// it so that role claims stay unique even when several relays share a store.
type Registry interface {
	// Claim gives role in roomID to memberID. It reports false when another
	// member already holds the role.
	Claim(ctx context.Context, roomID string, role signaling.Role, memberID string) (bool, error)
	// Release frees role if memberID still holds it.
	Release(ctx context.Context, roomID string, role signaling.Role, memberID string) error
}

// MemoryRegistry keeps claims in process.
type MemoryRegistry struct {
	mu    sync.Mutex
	rooms map[string]map[signaling.Role]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rooms: make(map[string]map[signaling.Role]string)}
}

func (m *MemoryRegistry) Claim(_ context.Context, roomID string, role signaling.Role, memberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		room = make(map[signaling.Role]string)
		m.rooms[roomID] = room
	}
	if holder, taken := room[role]; taken && holder != memberID {
		return false, nil
	}
	room[role] = memberID
	return true, nil
}

func (m *MemoryRegistry) Release(_ context.Context, roomID string, role signaling.Role, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok || room[role] != memberID {
		return nil
	}
	delete(room, role)
	if len(room) == 0 {
		delete(m.rooms, roomID)
	}
	return nil
}

// Rooms returns the number of rooms with at least one claim.
func (m *MemoryRegistry) Rooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
