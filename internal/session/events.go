package session

// Notifier delivers an outbound message to one connection. The coordinator
// calls it while holding a room lock, so implementations must only enqueue.
type Notifier interface {
	Notify(conn ConnID, typ string, payload any)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(conn ConnID, typ string, payload any)

func (f NotifierFunc) Notify(conn ConnID, typ string, payload any) { f(conn, typ, payload) }
