package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/config"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/logging"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/server"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/signaling"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/stats"
)

const shutdownTimeout = 10 * time.Second

var (
	flagServeAddr       string
	flagServeMode       string
	flagServeOrigins    string
	flagServeSendBuffer int
	flagServeStatsBuf   int
	flagServeStatsDSN   string
	flagServeCheckpoint string
	flagServeNoMetrics  bool
	flagServeLogLevel   string
	flagServeLogFile    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the signaling server.

Examples:
  rtcp2p serve
  rtcp2p serve --addr :9000 --stats-dsn stats.db
  ADDR=:9000 MODE=development rtcp2p serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := config.ServerOptions{
			Addr:            flagServeAddr,
			Mode:            flagServeMode,
			AllowedOrigins:  flagServeOrigins,
			SendBuffer:      flagServeSendBuffer,
			StatsBuffer:     flagServeStatsBuf,
			StatsDSN:        flagServeStatsDSN,
			StatsCheckpoint: flagServeCheckpoint,
			LogLevel:        flagServeLogLevel,
			LogFile:         flagServeLogFile,
		}
		if cmd.Flags().Changed("no-metrics") {
			enabled := !flagServeNoMetrics
			opts.MetricsEnabled = &enabled
		}
		cfg, err := config.LoadServer(opts)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&flagServeAddr, "addr", "", "listen address (env ADDR)")
	f.StringVar(&flagServeMode, "mode", "", "production or development (env MODE)")
	f.StringVar(&flagServeOrigins, "allowed-origins", "", "comma separated websocket origins, * for any (env ALLOWED_ORIGINS)")
	f.IntVar(&flagServeSendBuffer, "send-buffer", 0, "outbound messages queued per socket (env SEND_BUFFER)")
	f.IntVar(&flagServeStatsBuf, "stats-buffer", 0, "stats events queued before dropping (env STATS_BUFFER)")
	f.StringVar(&flagServeStatsDSN, "stats-dsn", "", "sqlite file stats are persisted to (env STATS_DSN)")
	f.StringVar(&flagServeCheckpoint, "stats-checkpoint", "", "cron spec for saving stats (env STATS_CHECKPOINT)")
	f.BoolVar(&flagServeNoMetrics, "no-metrics", false, "disable the /metrics endpoint (env METRICS_ENABLED)")
	f.StringVar(&flagServeLogLevel, "log-level", "", "dev, debug, info, warn or error (env LOG_LEVEL)")
	f.StringVar(&flagServeLogFile, "log-file", "", "also log to this rotated file (env LOG_FILE)")
}

// serverStack is everything serve starts, in the order it has to be torn down.
type serverStack struct {
	cfg        *config.Server
	logger     *zap.Logger
	aggregator *stats.Aggregator
	store      *stats.Store
	checkpoint *stats.Checkpointer
	dispatcher *stats.Dispatcher
	hub        *signaling.Hub
	http       *http.Server
}

func newServerStack(cfg *config.Server, logger *zap.Logger) (*serverStack, error) {
	s := &serverStack{
		cfg:        cfg,
		logger:     logger,
		aggregator: stats.NewAggregator(),
	}
	sinks := []stats.Sink{s.aggregator}

	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := stats.NewMetricsSink(reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		sinks = append(sinks, metrics)
		gatherer = reg
	}

	if cfg.StatsDSN != "" {
		store, err := stats.OpenStore(cfg.StatsDSN)
		if err != nil {
			return nil, err
		}
		s.store = store

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		snap, joins, err := store.Load(ctx)
		cancel()
		if err != nil {
			store.Close()
			return nil, err
		}
		s.aggregator.Restore(snap, joins)
		logger.Info("stats restored",
			zap.Int64("totalRooms", snap.TotalRooms),
			zap.Int64("totalUsers", snap.TotalUsers))

		s.checkpoint, err = stats.NewCheckpointer(cfg.StatsCheckpoint, s.aggregator, store, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		sinks = append(sinks, store)
	}

	s.dispatcher = stats.NewDispatcher(logger, cfg.StatsBuffer, sinks...)
	s.hub = signaling.NewHub(signaling.HubConfig{
		Logger:     logger,
		Stats:      s.dispatcher,
		Reader:     s.aggregator,
		SendBuffer: cfg.SendBuffer,
	})

	if cfg.Development() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	var history server.History
	if s.store != nil {
		history = s.store
	}
	router := server.NewRouter(server.Options{
		Hub:            s.hub,
		Reader:         s.aggregator,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       gatherer,
		History:        history,
		SendBuffer:     cfg.SendBuffer,
	})
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// serve accepts connections on ln until shutdown is called.
func (s *serverStack) serve(ln net.Listener) error {
	if s.checkpoint != nil {
		s.checkpoint.Start()
	}
	s.logger.Info("signaling server listening", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdown stops accepting sockets, disconnects the live ones, drains the
// stats pipeline and saves a final checkpoint.
func (s *serverStack) shutdown(ctx context.Context) error {
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.hub.Shutdown()
	s.waitDisconnected(ctx)
	if err := s.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain stats: %w", err))
	}
	if s.checkpoint != nil {
		if err := s.checkpoint.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final checkpoint: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// waitDisconnected lets the read pumps unregister their sockets so the
// resulting leave events reach the dispatcher before it is closed.
func (s *serverStack) waitDisconnected(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.hub.Len() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServer(ctx context.Context, cfg *config.Server) error {
	log := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Default:     zapcore.InfoLevel,
		Development: cfg.Development(),
		File:        cfg.LogFile,
	})
	defer log.Sync()

	stack, err := newServerStack(cfg, log)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		stack.shutdown(context.Background())
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	served := make(chan error, 1)
	go func() { served <- stack.serve(ln) }()

	select {
	case err := <-served:
		if err != nil {
			stack.shutdown(context.Background())
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return stack.shutdown(shutdownCtx)
}
