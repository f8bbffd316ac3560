package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Rooms maps a user id to the set of live connections joined to that user's
// room. It is owned by the Hub it is given to; reads are safe from any
// goroutine.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Client]struct{}
	count int
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[uuid.UUID]map[*Client]struct{})}
}

// Join adds c to its user's room and returns the room size.
func (r *Rooms) Join(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[c.userID]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[c.userID] = room
	}
	if _, exists := room[c]; !exists {
		room[c] = struct{}{}
		r.count++
	}
	return len(room)
}

// Leave removes c and reports whether it was joined.
func (r *Rooms) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[c.userID]
	if !ok {
		return false
	}
	if _, exists := room[c]; !exists {
		return false
	}
	delete(room, c)
	r.count--
	if len(room) == 0 {
		delete(r.rooms, c.userID)
	}
	return true
}

// Members returns a snapshot of the connections in userID's room.
func (r *Rooms) Members(userID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[userID]
	out := make([]*Client, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}

func (r *Rooms) Online(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[userID]) > 0
}

// Len is the number of joined connections across all rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Rooms) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, r.count)
	for _, room := range r.rooms {
		for c := range room {
			out = append(out, c)
		}
	}
	return out
}
