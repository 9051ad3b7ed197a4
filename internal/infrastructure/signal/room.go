package signal

import (
	"sort"
	"sync"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

// Room holds the connections of one stream: at most one broadcaster and a
// set of viewers keyed by connection ID.
type Room struct {
	streamID    domain.StreamID
	broadcaster *Client
	viewers     map[string]*Client
}

func (r *Room) empty() bool {
	return r.broadcaster == nil && len(r.viewers) == 0
}

func (r *Room) members() []*Client {
	out := make([]*Client, 0, len(r.viewers)+1)
	if r.broadcaster != nil {
		out = append(out, r.broadcaster)
	}
	for _, v := range r.viewers {
		out = append(out, v)
	}
	return out
}

// roomRegistry is owned by the gateway. Rooms exist only while they have a
// member.
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.StreamID]*Room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[domain.StreamID]*Room)}
}

// join adds c to the stream's room. A broadcaster join replaces the previous
// broadcaster, which is returned.
func (r *roomRegistry) join(streamID domain.StreamID, c *Client, role domain.ClientRole) (replaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[streamID]
	if !ok {
		room = &Room{streamID: streamID, viewers: make(map[string]*Client)}
		r.rooms[streamID] = room
	}

	if role == domain.RoleBroadcaster {
		if room.broadcaster != nil && room.broadcaster != c {
			replaced = room.broadcaster
		}
		room.broadcaster = c
		delete(room.viewers, c.id)
		return replaced
	}

	if room.broadcaster == c {
		room.broadcaster = nil
	}
	room.viewers[c.id] = c
	return nil
}

// leave removes c from the stream's room and reports the role it held.
// The room is dropped once empty.
func (r *roomRegistry) leave(streamID domain.StreamID, c *Client) (role domain.ClientRole, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[streamID]
	if !exists {
		return "", false
	}

	switch {
	case room.broadcaster == c:
		room.broadcaster = nil
		role, ok = domain.RoleBroadcaster, true
	case room.viewers[c.id] == c:
		delete(room.viewers, c.id)
		role, ok = domain.RoleViewer, true
	}

	if room.empty() {
		delete(r.rooms, streamID)
	}
	return role, ok
}

// members returns the room's clients excluding every connection of
// excludeUserID.
func (r *roomRegistry) members(streamID domain.StreamID, excludeUserID domain.UserID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[streamID]
	if !ok {
		return nil
	}
	all := room.members()
	out := all[:0]
	for _, c := range all {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *roomRegistry) broadcaster(streamID domain.StreamID) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room, ok := r.rooms[streamID]; ok {
		return room.broadcaster
	}
	return nil
}

// findUser returns a connection of userID in the room, preferring the
// broadcaster.
func (r *roomRegistry) findUser(streamID domain.StreamID, userID domain.UserID) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[streamID]
	if !ok {
		return nil
	}
	if room.broadcaster != nil && room.broadcaster.userID == userID {
		return room.broadcaster
	}
	for _, v := range room.viewers {
		if v.userID == userID {
			return v
		}
	}
	return nil
}

func (r *roomRegistry) viewerCount(streamID domain.StreamID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room, ok := r.rooms[streamID]; ok {
		return len(room.viewers)
	}
	return 0
}

func (r *roomRegistry) exists(streamID domain.StreamID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[streamID]
	return ok
}

func (r *roomRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *roomRegistry) streamIDs() []domain.StreamID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.StreamID, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
