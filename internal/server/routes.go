package server

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/signaling"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

// Options wires the HTTP surface to the rest of the server.
type Options struct {
	Hub    *signaling.Hub
	Reader stats.Reader
	Logger *zap.Logger

	// AllowedOrigins lists the browser origins allowed to open a socket.
	// Empty or "*" allows any origin.
	AllowedOrigins []string

	// Gatherer is served on /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// SendBuffer is the outbound queue length per socket.
	SendBuffer int

	// History serves /rooms/history. Nil disables the endpoint.
	History History
}

// History lists persisted rooms, newest first.
type History interface {
	Rooms(ctx context.Context, limit int) ([]stats.RoomRecord, error)
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.GET("/health", healthCheckHandler)
	r.GET("/ws", gin.WrapF(ServeWs(opts)))
	r.GET("/stats", statsHandler(opts.Reader))
	r.GET("/rooms", roomsHandler(opts.Hub))
	if opts.History != nil {
		r.GET("/rooms/history", historyHandler(opts.History, opts.Logger))
	}
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Health Check endpoint
func healthCheckHandler(c *gin.Context) {
	c.String(http.StatusOK, "Signaling server is healthy.")
}

func statsHandler(reader stats.Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		c.JSON(http.StatusOK, stats.SnapshotOf(ctx, reader))
	}
}

func roomsHandler(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connections": hub.Len(),
			"rooms":       hub.Coordinator().Rooms(),
		})
	}
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func historyHandler(h History, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultHistoryLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		recs, err := h.Rooms(c.Request.Context(), limit)
		if err != nil {
			logger.Error("load room history", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room history unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": recs})
	}
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
func ServeWs(opts Options) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			opts.Logger.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := signaling.NewClient(opts.Hub, conn, opts.SendBuffer)
		opts.Hub.Register(client)

		// These methods will handle the client's lifecycle
		go client.WritePump()
		go client.ReadPump()
	}
}

// originChecker matches the Origin header's scheme and host against allowed.
// Requests without an Origin header come from non-browser clients and pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	normalized := make([]string, 0, len(allowed))
	for _, o := range allowed {
		normalized = append(normalized, strings.TrimRight(strings.ToLower(o), "/"))
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(normalized, strings.ToLower(u.Scheme+"://"+u.Host))
	}
}
