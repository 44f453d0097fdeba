package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default configuration values
const (
	DefaultAddr            = ":8080"
	DefaultMode            = "production"
	DefaultSendBuffer      = 256
	DefaultStatsBuffer     = 1024
	DefaultStatsCheckpoint = "@every 30s"
	DefaultServerURL       = "ws://localhost:8080/ws"
	DefaultSTUN            = "stun:stun.l.google.com:19302"
)

// LoadEnvFile loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Server holds the signaling server configuration
type Server struct {
	Addr           string
	Mode           string
	AllowedOrigins []string

	// SendBuffer is the outbound queue length per socket.
	SendBuffer int

	// StatsBuffer is the stats dispatcher queue length.
	StatsBuffer int

	// StatsDSN is the sqlite database stats are persisted to. Empty keeps
	// stats in memory only.
	StatsDSN string

	// StatsCheckpoint is the cron spec the counters are saved on.
	StatsCheckpoint string

	MetricsEnabled bool

	LogLevel string
	LogFile  string
}

// Development reports whether the server runs in development mode.
func (s *Server) Development() bool {
	return s.Mode == "dev" || s.Mode == "development"
}

// ServerOptions are the CLI flag overrides for Server. Zero values mean unset.
type ServerOptions struct {
	Addr            string
	Mode            string
	AllowedOrigins  string
	SendBuffer      int
	StatsBuffer     int
	StatsDSN        string
	StatsCheckpoint string
	MetricsEnabled  *bool
	LogLevel        string
	LogFile         string
}

// LoadServer reads configuration with the following priority:
// 1. CLI flags (passed via ServerOptions) - highest priority
// 2. Environment variables (including those from a loaded .env file)
// 3. Hardcoded defaults - lowest priority
func LoadServer(opts ServerOptions) (*Server, error) {
	sendBuffer, err := intValue(opts.SendBuffer, "SEND_BUFFER", DefaultSendBuffer)
	if err != nil {
		return nil, err
	}
	statsBuffer, err := intValue(opts.StatsBuffer, "STATS_BUFFER", DefaultStatsBuffer)
	if err != nil {
		return nil, err
	}

	metrics := true
	if opts.MetricsEnabled != nil {
		metrics = *opts.MetricsEnabled
	} else if v, ok := os.LookupEnv("METRICS_ENABLED"); ok && v != "" {
		metrics, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("METRICS_ENABLED: %w", err)
		}
	}

	return &Server{
		Addr:            stringValue(opts.Addr, "ADDR", DefaultAddr),
		Mode:            stringValue(opts.Mode, "MODE", DefaultMode),
		AllowedOrigins:  splitList(stringValue(opts.AllowedOrigins, "ALLOWED_ORIGINS", "*")),
		SendBuffer:      sendBuffer,
		StatsBuffer:     statsBuffer,
		StatsDSN:        stringValue(opts.StatsDSN, "STATS_DSN", ""),
		StatsCheckpoint: stringValue(opts.StatsCheckpoint, "STATS_CHECKPOINT", DefaultStatsCheckpoint),
		MetricsEnabled:  metrics,
		LogLevel:        stringValue(opts.LogLevel, "LOG_LEVEL", ""),
		LogFile:         stringValue(opts.LogFile, "LOG_FILE", ""),
	}, nil
}

// Client holds the configuration of the join and stats commands
type Client struct {
	// ServerURL is the websocket endpoint of the signaling server.
	ServerURL string

	// STUNServer is used for ICE when negotiating a peer connection.
	STUNServer string

	// TURN relay, optional. Without it only direct and STUN candidates are used.
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN relay candidates.
	ForceRelay bool
}

// ClientOptions for loading client config with CLI flag overrides
type ClientOptions struct {
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// LoadClient reads client configuration: CLI flag > env > default.
func LoadClient(opts ClientOptions) (*Client, error) {
	serverURL := stringValue(opts.ServerURL, "SERVER_URL", DefaultServerURL)
	if !strings.HasPrefix(serverURL, "ws://") && !strings.HasPrefix(serverURL, "wss://") {
		return nil, fmt.Errorf("server url %q must start with ws:// or wss://", serverURL)
	}

	cfg := &Client{
		ServerURL:  serverURL,
		STUNServer: stringValue(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: stringValue(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   stringValue(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   stringValue(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay,
	}
	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// HTTPBase returns the http(s) base URL of the server the websocket lives on.
func (c *Client) HTTPBase() string {
	base := strings.TrimSuffix(c.ServerURL, "/ws")
	switch {
	case strings.HasPrefix(base, "wss://"):
		return "https://" + strings.TrimPrefix(base, "wss://")
	default:
		return "http://" + strings.TrimPrefix(base, "ws://")
	}
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Client) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns the UDP and TCP URLs of the TURN server, or nil.
func (c *Client) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		c.TURNServer + ":3478?transport=udp",
		c.TURNServer + ":3478?transport=tcp",
	}
}

func stringValue(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func intValue(flag int, env string, def int) (int, error) {
	if flag > 0 {
		return flag, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", env, v)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
