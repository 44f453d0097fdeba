package session

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/protocol"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

// Coordinator is the central brain of the signaling server.
// It owns the identity registry and the room table and runs every
// join, leave and promotion transition against them.
//
// Transitions on one room are serialized by that room's lock. Outbound
// messages are handed to the Notifier while the lock is held, so members of a
// room observe events in transition order. Stats events are published only
// after the lock has been released.
type Coordinator struct {
	registry *Registry
	rooms    *RoomTable
	notifier Notifier
	stats    stats.Publisher
	logger   *zap.Logger
	now      func() time.Time

	liveMu sync.RWMutex
	live   map[ConnID]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStats sets the publisher lifecycle events are sent to.
func WithStats(p stats.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.stats = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a Coordinator that delivers messages through n.
func NewCoordinator(n Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: NewRegistry(),
		rooms:    NewRoomTable(),
		notifier: n,
		stats:    stats.Discard,
		logger:   zap.NewNop(),
		now:      time.Now,
		live:     make(map[ConnID]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the identity registry for read-only lookups.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Connect marks conn as live. Join does this implicitly.
func (c *Coordinator) Connect(conn ConnID) { c.attach(conn) }

// Join places conn in the named room under identity. The joiner is either
// admitted to a free active slot or appended to the room's queue.
//
// A connection already in another room leaves it first. If identity is still
// bound to a different connection, that connection loses its membership: an
// identity has at most one live session.
func (c *Coordinator) Join(roomName, identity string, conn ConnID) {
	c.attach(conn)
	if c.repeatJoin(roomName, identity, conn) {
		return
	}

	var evs []stats.Event
	if _, ok := c.rooms.roomOf(conn); ok {
		evs = append(evs, c.leave(conn)...)
	}
	// The registry swap decides reassignment: whoever registers last owns the
	// identity and evicts the connection it replaced.
	if prev, reassigned := c.registry.Register(identity, conn); reassigned {
		c.logger.Info("identity reassigned",
			zap.String("identity", identity),
			zap.String("previous", string(prev)),
			zap.String("connection", string(conn)))
		evs = append(evs, c.evict(prev)...)
	}

	r, created := c.rooms.acquire(roomName)
	if created {
		c.logger.Info("room created", zap.String("room", roomName))
		evs = append(evs, c.event(stats.RoomCreated, r, Member{}))
	}
	evs = append(evs, c.admit(r, identity, conn)...)
	r.mu.Unlock()

	// A concurrent join may have taken the identity over before conn was
	// placed, in which case its eviction found nothing to remove.
	if !c.registry.Owns(identity, conn) {
		evs = append(evs, c.leave(conn)...)
	}

	c.publish(evs)
}

// evict drops the membership of a connection that lost its identity, unless it
// has since been bound to another identity.
func (c *Coordinator) evict(prev ConnID) []stats.Event {
	if _, bound := c.registry.LookupIdentity(prev); bound {
		return nil
	}
	return c.leave(prev)
}

// Leave runs the disconnect transition for conn: it vacates the active slot or
// queue entry conn holds, notifies the remaining member, promotes waiting
// entries into freed slots and finally drops the registry binding. Unknown
// connections only get the registry cleanup.
func (c *Coordinator) Leave(conn ConnID) {
	c.detach(conn)
	evs := c.leave(conn)
	c.registry.Remove(conn)
	c.publish(evs)
}

// Room returns a copy of the named room.
func (c *Coordinator) Room(name string) (RoomView, bool) {
	r := c.rooms.lookup(name)
	if r == nil {
		return RoomView{}, false
	}
	defer r.mu.Unlock()
	return r.view(), true
}

// Rooms returns a copy of every room ordered by name.
func (c *Coordinator) Rooms() []RoomView {
	names := c.rooms.names()
	views := make([]RoomView, 0, len(names))
	for _, name := range names {
		if v, ok := c.Room(name); ok {
			views = append(views, v)
		}
	}
	return views
}

// repeatJoin handles a join the connection already satisfies by replaying the
// acknowledgement it got the first time.
func (c *Coordinator) repeatJoin(name, identity string, conn ConnID) bool {
	current, ok := c.rooms.roomOf(conn)
	if !ok || current != name || !c.registry.Owns(identity, conn) {
		return false
	}
	r := c.rooms.lookup(name)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()

	if r.activeIndex(conn) >= 0 {
		c.notify(conn, protocol.TypeRoomJoinAck, protocol.JoinAck{Identity: identity, Room: name})
		return true
	}
	if i := r.queueIndex(conn); i >= 0 {
		c.notify(conn, protocol.TypeRoomQueued, protocol.Queued{Room: name, Position: i + 1})
		return true
	}
	return false
}

// admit places conn in r, which must be locked. identity must already be
// registered to conn.
func (c *Coordinator) admit(r *room, identity string, conn ConnID) []stats.Event {
	c.rooms.place(conn, r.name)

	if len(r.active) < Capacity {
		return c.activate(r, Member{Identity: identity, Conn: conn})
	}

	r.queue = append(r.queue, QueueEntry{
		Identity: identity,
		Conn:     conn,
		Room:     r.name,
		QueuedAt: c.now(),
	})
	c.logger.Info("room full, queued",
		zap.String("room", r.name),
		zap.String("identity", identity),
		zap.Int("position", len(r.queue)))
	c.notify(conn, protocol.TypeRoomQueued, protocol.Queued{Room: r.name, Position: len(r.queue)})
	return nil
}

// activate moves m into a free active slot of r and pairs the room once it is full.
func (c *Coordinator) activate(r *room, m Member) []stats.Event {
	joined := protocol.Member{Identity: m.Identity, Connection: string(m.Conn), Room: r.name}
	for _, other := range r.active {
		c.notify(other.Conn, protocol.TypeUserJoined, joined)
	}
	r.active = append(r.active, m)
	c.notify(m.Conn, protocol.TypeRoomJoinAck, protocol.JoinAck{Identity: m.Identity, Room: r.name})

	c.logger.Info("user joined",
		zap.String("room", r.name),
		zap.String("identity", m.Identity),
		zap.String("state", r.state().String()))

	if len(r.active) == Capacity {
		c.pair(r)
	}
	return []stats.Event{c.event(stats.UserJoined, r, m)}
}

// pair starts a new call between the two active members. The member that was
// in the room first is the initiator.
func (c *Coordinator) pair(r *room) {
	first, second := r.active[0], r.active[1]
	r.call = &call{startedAt: c.now()}

	c.notify(first.Conn, protocol.TypePairingStart, protocol.Pairing{
		Room:           r.name,
		PeerConnection: string(second.Conn),
		PeerIdentity:   second.Identity,
		Initiator:      true,
	})
	c.notify(second.Conn, protocol.TypePairingStart, protocol.Pairing{
		Room:           r.name,
		PeerConnection: string(first.Conn),
		PeerIdentity:   first.Identity,
		Initiator:      false,
	})
	c.logger.Info("room paired",
		zap.String("room", r.name),
		zap.String("initiator", first.Identity),
		zap.String("peer", second.Identity))
}

// leave removes conn from whatever room it is in.
func (c *Coordinator) leave(conn ConnID) []stats.Event {
	for {
		name, ok := c.rooms.roomOf(conn)
		if !ok {
			return nil
		}
		r := c.rooms.lookup(name)
		if r == nil {
			c.rooms.unplace(conn, name)
			return nil
		}
		// conn may have moved while the room lock was being taken.
		if current, _ := c.rooms.roomOf(conn); current != name {
			r.mu.Unlock()
			continue
		}

		evs := c.vacate(r, conn)
		r.mu.Unlock()
		return evs
	}
}

// vacate removes conn from r, which must be locked.
func (c *Coordinator) vacate(r *room, conn ConnID) []stats.Event {
	c.rooms.unplace(conn, r.name)

	var evs []stats.Event
	if i := r.activeIndex(conn); i >= 0 {
		gone := r.active[i]
		wasPaired := len(r.active) == Capacity
		r.active = slices.Delete(r.active, i, i+1)

		left := protocol.Member{Identity: gone.Identity, Connection: string(gone.Conn), Room: r.name}
		for _, m := range r.active {
			c.notify(m.Conn, protocol.TypeUserLeft, left)
		}
		c.logger.Info("user left", zap.String("room", r.name), zap.String("identity", gone.Identity))
		evs = append(evs, c.event(stats.UserLeft, r, gone))

		if wasPaired && r.call != nil {
			ended := c.event(stats.CallEnded, r, gone)
			ended.Succeeded = r.call.accepted
			evs = append(evs, ended)
			r.call = nil
		}
		evs = append(evs, c.promote(r)...)
	} else if i := r.queueIndex(conn); i >= 0 {
		r.queue = slices.Delete(r.queue, i, i+1)
		c.logger.Debug("queued user left", zap.String("room", r.name), zap.String("connection", string(conn)))
		c.announcePositions(r, i)
	}

	if r.isEmpty() {
		c.rooms.drop(r)
		c.logger.Info("room closed", zap.String("room", r.name))
		evs = append(evs, c.event(stats.RoomClosed, r, Member{}))
	}
	return evs
}

// promote fills free active slots of r from the head of its queue. Entries
// whose connection is gone, or whose identity has since moved to another
// connection, are discarded.
func (c *Coordinator) promote(r *room) []stats.Event {
	var evs []stats.Event
	promoted := false
	for len(r.active) < Capacity && len(r.queue) > 0 {
		head := r.queue[0]
		r.queue = slices.Delete(r.queue, 0, 1)

		if !c.alive(head.Conn) || !c.registry.Owns(head.Identity, head.Conn) {
			c.rooms.unplace(head.Conn, r.name)
			c.logger.Debug("skipping stale queue entry",
				zap.String("room", r.name),
				zap.String("identity", head.Identity))
			continue
		}
		promoted = true
		evs = append(evs, c.activate(r, Member{Identity: head.Identity, Conn: head.Conn})...)
	}
	if promoted {
		c.announcePositions(r, 0)
	}
	return evs
}

// announcePositions resends room-queued to every entry from index from onward.
func (c *Coordinator) announcePositions(r *room, from int) {
	for i := from; i < len(r.queue); i++ {
		c.notify(r.queue[i].Conn, protocol.TypeRoomQueued, protocol.Queued{Room: r.name, Position: i + 1})
	}
}

func (c *Coordinator) notify(conn ConnID, typ string, payload any) {
	if c.notifier != nil {
		c.notifier.Notify(conn, typ, payload)
	}
}

func (c *Coordinator) event(kind stats.EventKind, r *room, m Member) stats.Event {
	return stats.Event{
		Kind:       kind,
		Room:       r.name,
		Lifetime:   r.lifetime,
		Identity:   m.Identity,
		Connection: string(m.Conn),
		At:         c.now(),
	}
}

func (c *Coordinator) publish(evs []stats.Event) {
	for _, ev := range evs {
		c.stats.Publish(ev)
	}
}

func (c *Coordinator) attach(conn ConnID) {
	c.liveMu.Lock()
	c.live[conn] = struct{}{}
	c.liveMu.Unlock()
}

func (c *Coordinator) detach(conn ConnID) {
	c.liveMu.Lock()
	delete(c.live, conn)
	c.liveMu.Unlock()
}

func (c *Coordinator) alive(conn ConnID) bool {
	c.liveMu.RLock()
	defer c.liveMu.RUnlock()
	_, ok := c.live[conn]
	return ok
}
