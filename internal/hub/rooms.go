package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Room binds one desktop device and one web device. It references
// devices by id only and survives either peer disconnecting; only a hub
// restart or the idle-room sweep removes it.
type Room struct {
	ID              string
	DesktopDeviceID string
	WebDeviceID     string
	CreatedAt       time.Time

	// idleSince is set by the reaper when both peers are offline and
	// cleared when either reattaches.
	idleSince time.Time
}

// Peer returns the other device of the room, or "" when deviceID is not
// a member.
func (r *Room) Peer(deviceID string) string {
	switch deviceID {
	case r.DesktopDeviceID:
		return r.WebDeviceID
	case r.WebDeviceID:
		return r.DesktopDeviceID
	}
	return ""
}

// Member reports whether deviceID is one of the room's two devices.
func (r *Room) Member(deviceID string) bool {
	return r.Peer(deviceID) != ""
}

// RoomTable maps roomId to its room and indexes membership by device,
// keeping each device in at most one room.
type RoomTable struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	byDevice map[string]string
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		rooms:    make(map[string]*Room),
		byDevice: make(map[string]string),
	}
}

// Create allocates a room for the two devices. Any prior room either
// device was in is removed and returned so the caller can notify the
// displaced peers.
func (t *RoomTable) Create(desktopDeviceID, webDeviceID string) (*Room, []*Room) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var displaced []*Room
	for _, dev := range []string{desktopDeviceID, webDeviceID} {
		if prevID, ok := t.byDevice[dev]; ok {
			if prev, ok := t.rooms[prevID]; ok {
				displaced = append(displaced, prev)
				t.deleteLocked(prev)
			}
		}
	}

	room := &Room{
		ID:              uuid.NewString(),
		DesktopDeviceID: desktopDeviceID,
		WebDeviceID:     webDeviceID,
		CreatedAt:       time.Now(),
	}
	t.rooms[room.ID] = room
	t.byDevice[desktopDeviceID] = room.ID
	t.byDevice[webDeviceID] = room.ID
	return room, displaced
}

// Get returns the room by id, or nil.
func (t *RoomTable) Get(roomID string) *Room {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rooms[roomID]
}

// RoomFor returns the id of the room a device belongs to.
func (t *RoomTable) RoomFor(deviceID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byDevice[deviceID]
	return id, ok
}

// Delete removes a room and its device index entries.
func (t *RoomTable) Delete(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room, ok := t.rooms[roomID]; ok {
		t.deleteLocked(room)
	}
}

func (t *RoomTable) deleteLocked(room *Room) {
	delete(t.rooms, room.ID)
	if t.byDevice[room.DesktopDeviceID] == room.ID {
		delete(t.byDevice, room.DesktopDeviceID)
	}
	if t.byDevice[room.WebDeviceID] == room.ID {
		delete(t.byDevice, room.WebDeviceID)
	}
}

// Snapshot returns the current rooms for iteration outside the lock.
func (t *RoomTable) Snapshot() []*Room {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Room, 0, len(t.rooms))
	for _, room := range t.rooms {
		out = append(out, room)
	}
	return out
}

func (t *RoomTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

// MarkIdle records when both peers of a room went offline; the first
// call wins until ClearIdle.
func (t *RoomTable) MarkIdle(roomID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room, ok := t.rooms[roomID]; ok && room.idleSince.IsZero() {
		room.idleSince = now
	}
}

// ClearIdle resets the idle marker when a peer reattaches.
func (t *RoomTable) ClearIdle(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room, ok := t.rooms[roomID]; ok {
		room.idleSince = time.Time{}
	}
}

// IdleSince returns the idle marker for a room.
func (t *RoomTable) IdleSince(roomID string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if room, ok := t.rooms[roomID]; ok {
		return room.idleSince
	}
	return time.Time{}
}
