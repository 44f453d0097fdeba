package client

import (
	"github.com/VishalHarindrakumar/rtc-p2p/internal/protocol"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

// Signal is a relayed negotiation message from the paired peer.
type Signal struct {
	Type string
	protocol.Relayed
}

// Handler routes incoming signaling messages to appropriate channels.
type Handler struct {
	client *Client

	JoinAck    chan protocol.JoinAck
	Queued     chan protocol.Queued
	PeerJoined chan protocol.Member
	PeerLeft   chan protocol.Member
	Pairing    chan protocol.Pairing
	Signal     chan Signal
	Stats      chan stats.Snapshot
	Error      chan string

	// Done is closed once the connection to the server is gone.
	Done chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:     client,
		JoinAck:    make(chan protocol.JoinAck, 4),
		Queued:     make(chan protocol.Queued, 8),
		PeerJoined: make(chan protocol.Member, 4),
		PeerLeft:   make(chan protocol.Member, 4),
		Pairing:    make(chan protocol.Pairing, 4),
		Signal:     make(chan Signal, 32),
		Stats:      make(chan stats.Snapshot, 1),
		Error:      make(chan string, 4),
		Done:       make(chan struct{}),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the connection closes.
func (h *Handler) Start() {
	defer close(h.Done)

	for msg := range h.client.Incoming() {
		switch msg.Type {
		case protocol.TypeRoomJoinAck:
			route(h, msg, h.JoinAck)

		case protocol.TypeRoomQueued:
			route(h, msg, h.Queued)

		case protocol.TypeUserJoined:
			route(h, msg, h.PeerJoined)

		case protocol.TypeUserLeft:
			route(h, msg, h.PeerLeft)

		case protocol.TypePairingStart:
			route(h, msg, h.Pairing)

		case protocol.TypeStatsUpdate:
			route(h, msg, h.Stats)

		case protocol.TypeNegotiationOffer, protocol.TypeNegotiationAnswer,
			protocol.TypeNegotiationCandidate, protocol.TypeCallOffer, protocol.TypeCallAccept:
			var relayed protocol.Relayed
			if err := msg.Decode(&relayed); err != nil {
				h.Error <- "Failed to parse " + msg.Type + " payload"
				continue
			}
			h.Signal <- Signal{Type: msg.Type, Relayed: relayed}

		case protocol.TypeError:
			var errPayload protocol.ErrorPayload
			if err := msg.Decode(&errPayload); err != nil || errPayload.Error == "" {
				h.Error <- "Unknown error from server"
				continue
			}
			h.Error <- errPayload.Error
		}
	}
}

func route[T any](h *Handler, msg *protocol.Message, ch chan T) {
	var v T
	if err := msg.Decode(&v); err != nil {
		h.Error <- "Failed to parse " + msg.Type + " payload"
		return
	}
	ch <- v
}
