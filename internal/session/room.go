package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capacity is the number of active slots in a room.
const Capacity = 2

// State is the occupancy state of a room.
type State int

const (
	StateEmpty State = iota
	StateWaiting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return "empty"
	}
}

// Member is a connection occupying an active slot.
type Member struct {
	Identity string `json:"identity"`
	Conn     ConnID `json:"connection"`
}

// QueueEntry is a participant waiting for a free slot.
type QueueEntry struct {
	Identity string    `json:"identity"`
	Conn     ConnID    `json:"connection"`
	Room     string    `json:"room"`
	QueuedAt time.Time `json:"queuedAt"`
}

// RoomView is a point-in-time copy of a room.
type RoomView struct {
	Name   string       `json:"name"`
	State  string       `json:"state"`
	Active []Member     `json:"active"`
	Queue  []QueueEntry `json:"queue"`
}

// call tracks the session between the two members of a paired room.
type call struct {
	startedAt time.Time
	accepted  bool
}

// room represents a single room where two peers can connect, plus the line of
// participants waiting for one of them to leave. All fields are guarded by mu.
type room struct {
	mu   sync.Mutex
	name string
	// lifetime tells apart successive rooms created under the same name.
	lifetime string

	// active holds at most Capacity members in arrival order;
	// active[0] is the member that was there first.
	active []Member
	queue  []QueueEntry
	call   *call

	// removed is set once the room has been dropped from the table; a caller
	// that locked a removed room must look it up again.
	removed bool
}

func (r *room) state() State {
	switch len(r.active) {
	case 0:
		return StateEmpty
	case 1:
		return StateWaiting
	default:
		return StateActive
	}
}

func (r *room) activeIndex(conn ConnID) int {
	for i, m := range r.active {
		if m.Conn == conn {
			return i
		}
	}
	return -1
}

func (r *room) queueIndex(conn ConnID) int {
	for i, e := range r.queue {
		if e.Conn == conn {
			return i
		}
	}
	return -1
}

func (r *room) isEmpty() bool { return len(r.active) == 0 && len(r.queue) == 0 }

func (r *room) view() RoomView {
	v := RoomView{
		Name:   r.name,
		State:  r.state().String(),
		Active: make([]Member, len(r.active)),
		Queue:  make([]QueueEntry, len(r.queue)),
	}
	copy(v.Active, r.active)
	copy(v.Queue, r.queue)
	return v
}

// RoomTable owns every room plus the connection -> room index. The table lock
// only guards the two maps; room state is guarded by each room's own lock, so
// work on different rooms never contends. Lock order is room, then table.
type RoomTable struct {
	mu    sync.Mutex
	rooms map[string]*room
	index map[ConnID]string
}

// NewRoomTable creates an empty table.
func NewRoomTable() *RoomTable {
	return &RoomTable{
		rooms: make(map[string]*room),
		index: make(map[ConnID]string),
	}
}

// acquire returns the named room locked, creating it when absent.
func (t *RoomTable) acquire(name string) (r *room, created bool) {
	for {
		t.mu.Lock()
		r = t.rooms[name]
		fresh := r == nil
		if fresh {
			r = &room{name: name, lifetime: uuid.NewString()}
			t.rooms[name] = r
		}
		t.mu.Unlock()

		r.mu.Lock()
		if !r.removed {
			return r, fresh
		}
		r.mu.Unlock()
	}
}

// lookup returns the named room locked, or nil.
func (t *RoomTable) lookup(name string) *room {
	for {
		t.mu.Lock()
		r := t.rooms[name]
		t.mu.Unlock()
		if r == nil {
			return nil
		}

		r.mu.Lock()
		if !r.removed {
			return r
		}
		r.mu.Unlock()
	}
}

// drop removes a locked room from the table.
func (t *RoomTable) drop(r *room) {
	t.mu.Lock()
	if t.rooms[r.name] == r {
		delete(t.rooms, r.name)
	}
	t.mu.Unlock()
	r.removed = true
}

func (t *RoomTable) place(conn ConnID, name string) {
	t.mu.Lock()
	t.index[conn] = name
	t.mu.Unlock()
}

// unplace clears the index entry for conn if it still points at name.
func (t *RoomTable) unplace(conn ConnID, name string) {
	t.mu.Lock()
	if t.index[conn] == name {
		delete(t.index, conn)
	}
	t.mu.Unlock()
}

// roomOf returns the room conn is active or queued in.
func (t *RoomTable) roomOf(conn ConnID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.index[conn]
	return name, ok
}

// Len returns the number of rooms in the table.
func (t *RoomTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

func (t *RoomTable) names() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.rooms))
	for name := range t.rooms {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return names
}
