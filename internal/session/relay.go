package session

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/protocol"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

// Relay errors. They are reported to the caller for logging; the sender is
// never told, the user-left notification is what informs it.
var (
	ErrUnknownTarget   = errors.New("relay target is not connected")
	ErrNotPaired       = errors.New("sender and target are not paired")
	ErrUnsupportedKind = errors.New("message kind is not relayable")
)

// Relay forwards payload from one connection to another without looking at it.
//
// call-offer only needs a live target. Every other kind requires both
// connections to be the active members of the same room. An inbound
// call-accepted is delivered as call-accept and marks the room's current call
// successful.
func (c *Coordinator) Relay(kind string, from, to ConnID, payload json.RawMessage) error {
	if !protocol.IsRelay(kind) {
		return ErrUnsupportedKind
	}
	if !c.alive(to) {
		c.logger.Debug("relay target gone, dropping",
			zap.String("type", kind),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return ErrUnknownTarget
	}

	fromIdentity, _ := c.registry.LookupIdentity(from)
	out := protocol.Relayed{From: string(from), FromIdentity: fromIdentity, Payload: payload}

	if kind == protocol.TypeCallOffer {
		c.notify(to, kind, out)
		return nil
	}

	name, ok := c.rooms.roomOf(from)
	if !ok {
		return ErrNotPaired
	}
	r := c.rooms.lookup(name)
	if r == nil {
		return ErrNotPaired
	}
	if r.activeIndex(from) < 0 || r.activeIndex(to) < 0 {
		r.mu.Unlock()
		return ErrNotPaired
	}

	var evs []stats.Event
	if kind == protocol.TypeCallAccepted || kind == protocol.TypeCallAccept {
		kind = protocol.TypeCallAccept
		if r.call != nil && !r.call.accepted {
			r.call.accepted = true
			c.logger.Info("call accepted", zap.String("room", name))
			evs = append(evs, c.event(stats.CallSucceeded, r, Member{Identity: fromIdentity, Conn: from}))
		}
	}
	c.notify(to, kind, out)
	r.mu.Unlock()

	c.publish(evs)
	return nil
}
