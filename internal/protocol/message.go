package protocol

import "encoding/json"

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound message types (client -> server).
const (
	TypeRoomJoin             = "room-join"
	TypeNegotiationOffer     = "negotiation-offer"
	TypeNegotiationAnswer    = "negotiation-answer"
	TypeNegotiationCandidate = "negotiation-candidate"
	TypeCallOffer            = "call-offer"
	TypeCallAccepted         = "call-accepted"
	TypeStatsFetch           = "stats-fetch"
)

// Outbound message types (server -> client). Relayed negotiation messages keep
// their inbound type, except call-accepted which is delivered as call-accept.
const (
	TypeRoomJoinAck  = "room-join-ack"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"
	TypeRoomQueued   = "room-queued"
	TypePairingStart = "pairing-start"
	TypeCallAccept   = "call-accept"
	TypeStatsUpdate  = "stats-update"
	TypeError        = "error"
)

// JoinRequest is the payload of room-join.
type JoinRequest struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
}

// RelayRequest is the payload of every negotiation message and call-accepted.
// Payload is opaque and forwarded byte for byte.
type RelayRequest struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinAck acknowledges an accepted join to the joiner.
type JoinAck struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
}

// Member describes a participant for user-joined and user-left.
type Member struct {
	Identity   string `json:"identity"`
	Connection string `json:"connection"`
	Room       string `json:"room,omitempty"`
}

// Queued tells a joiner that the room is full and where it sits in line.
type Queued struct {
	Room     string `json:"room"`
	Position int    `json:"position"`
}

// Pairing is sent to both members once a room holds two active connections.
type Pairing struct {
	Room           string `json:"room"`
	PeerConnection string `json:"peerConnection"`
	PeerIdentity   string `json:"peerIdentity"`
	Initiator      bool   `json:"initiator"`
}

// Relayed wraps a forwarded payload with the sender so the receiver can reply.
type Relayed struct {
	From         string          `json:"from"`
	FromIdentity string          `json:"fromIdentity,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds a Message with payload encoded as JSON.
func New(typ string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: typ}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: typ, Payload: b}, nil
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}

// IsRelay reports whether typ is forwarded between paired peers.
func IsRelay(typ string) bool {
	switch typ {
	case TypeNegotiationOffer, TypeNegotiationAnswer, TypeNegotiationCandidate,
		TypeCallOffer, TypeCallAccepted, TypeCallAccept:
		return true
	}
	return false
}
