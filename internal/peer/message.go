package peer

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Data channel message types.
const (
	TypeGreeting = "greeting"
	TypeBye      = "bye"
)

// Message represents all data channel messages
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Greeting is the first message each side sends once the channel opens.
type Greeting struct {
	Identity string    `msgpack:"identity"`
	SentAt   time.Time `msgpack:"sentAt"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// Encode serializes m for the wire.
func (m Message) Encode() ([]byte, error) {
	return msgpack.Marshal(m)
}

// DecodeMessage parses a data channel frame.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	err := msgpack.Unmarshal(data, &m)
	return m, err
}
