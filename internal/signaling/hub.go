package signaling

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/protocol"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/session"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

// statsFetchTimeout bounds a stats-fetch answer.
const statsFetchTimeout = 2 * time.Second

// HubConfig configures a Hub.
type HubConfig struct {
	Logger *zap.Logger

	// Stats receives lifecycle events. Nil discards them.
	Stats stats.Publisher

	// Reader answers stats-fetch. Nil answers with zeros.
	Reader stats.Reader

	// SendBuffer is the outbound queue length per client.
	SendBuffer int
}

// Hub turns websocket traffic into coordinator calls and delivers the
// coordinator's notifications back to the right socket.
type Hub struct {
	coordinator *session.Coordinator
	reader      stats.Reader
	logger      *zap.Logger
	sendBuffer  int

	mu      sync.RWMutex
	clients map[session.ConnID]*Client
}

// NewHub creates a new Hub instance.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		reader:     cfg.Reader,
		logger:     logger,
		sendBuffer: cfg.SendBuffer,
		clients:    make(map[session.ConnID]*Client),
	}
	h.coordinator = session.NewCoordinator(h,
		session.WithStats(cfg.Stats),
		session.WithLogger(logger.Named("session")),
	)
	return h
}

// Coordinator returns the session coordinator driven by this hub.
func (h *Hub) Coordinator() *session.Coordinator { return h.coordinator }

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a freshly upgraded client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.coordinator.Connect(c.ID)
	h.logger.Info("client registered",
		zap.String("connection", string(c.ID)),
		zap.String("remote", c.Conn.RemoteAddr().String()))
}

// Unregister is the disconnect notification for c.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.ID] == c {
		delete(h.clients, c.ID)
	}
	h.mu.Unlock()

	h.coordinator.Leave(c.ID)
	c.close()
	h.logger.Info("client unregistered", zap.String("connection", string(c.ID)))
}

// Notify implements session.Notifier.
func (h *Hub) Notify(conn session.ConnID, typ string, payload any) {
	h.mu.RLock()
	c, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := protocol.New(typ, payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("type", typ), zap.Error(err))
		return
	}
	if !c.Enqueue(msg) {
		// A client that cannot keep up is cut off; its read pump then
		// reports the disconnect.
		h.logger.Warn("client send queue full, closing",
			zap.String("connection", string(conn)),
			zap.String("type", typ))
		c.Conn.Close()
	}
}

// Dispatch handles one inbound message from c.
func (h *Hub) Dispatch(c *Client, msg *protocol.Message) {
	h.logger.Debug("message received", zap.String("type", msg.Type), zap.String("connection", string(c.ID)))

	switch {
	case msg.Type == protocol.TypeRoomJoin:
		var req protocol.JoinRequest
		if err := msg.Decode(&req); err != nil || req.Identity == "" || req.Room == "" {
			h.sendError(c, "room-join needs identity and room")
			return
		}
		h.coordinator.Join(req.Room, req.Identity, c.ID)

	case protocol.IsRelay(msg.Type):
		var req protocol.RelayRequest
		if err := msg.Decode(&req); err != nil || req.To == "" {
			h.sendError(c, msg.Type+" needs a target")
			return
		}
		if err := h.coordinator.Relay(msg.Type, c.ID, session.ConnID(req.To), req.Payload); err != nil {
			h.logger.Debug("relay dropped",
				zap.String("type", msg.Type),
				zap.String("from", string(c.ID)),
				zap.String("to", req.To),
				zap.Error(err))
		}

	case msg.Type == protocol.TypeStatsFetch:
		ctx, cancel := context.WithTimeout(context.Background(), statsFetchTimeout)
		defer cancel()
		reply, err := protocol.New(protocol.TypeStatsUpdate, stats.SnapshotOf(ctx, h.reader))
		if err == nil {
			c.Enqueue(reply)
		}

	default:
		h.logger.Warn("unknown message type", zap.String("type", msg.Type))
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

// Shutdown closes every client. Their read pumps unregister them.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) sendError(c *Client, text string) {
	msg, err := protocol.New(protocol.TypeError, protocol.ErrorPayload{Error: text})
	if err != nil {
		return
	}
	c.Enqueue(msg)
}
