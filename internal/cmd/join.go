package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/client"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/config"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/names"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/peer"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/protocol"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/ui"
)

var (
	flagJoinRoom      string
	flagJoinIdentity  string
	flagJoinServer    string
	flagJoinSTUN      string
	flagJoinTURN      string
	flagJoinTURNUser  string
	flagJoinTURNPass  string
	flagJoinRelay     bool
	flagJoinNegotiate bool
	flagJoinPlain     bool
	flagJoinTimeout   time.Duration
)

var joinCmd = &cobra.Command{
	Use:     "join",
	Aliases: []string{"j"},
	Short:   "Join a room and follow its lifecycle",
	Long: `Join a room on the signaling server and show who joins, leaves and pairs.
With --negotiate a real WebRTC peer connection is set up with the paired peer.

Examples:
  rtcp2p join --room lobby --identity alice
  rtcp2p join --room lobby --negotiate
  rtcp2p join --room lobby --negotiate --turn turn:relay.example.com --relay
  rtcp2p join --plain --timeout 1m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{
			ServerURL:  flagJoinServer,
			STUNServer: flagJoinSTUN,
			TURNServer: flagJoinTURN,
			TURNUser:   flagJoinTURNUser,
			TURNPass:   flagJoinTURNPass,
			ForceRelay: flagJoinRelay,
		})
		if err != nil {
			return client.WrapError("load config", err, "")
		}

		opts := joinOptions{
			Room:      flagJoinRoom,
			Identity:  flagJoinIdentity,
			Negotiate: flagJoinNegotiate,
			Timeout:   flagJoinTimeout,
		}
		if opts.Room == "" {
			opts.Room = names.Room(nil)
		}
		if opts.Identity == "" {
			opts.Identity = names.Identity()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runJoin(ctx, cfg, opts, flagJoinPlain)
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVarP(&flagJoinRoom, "room", "r", "", "room to join (random when empty)")
	f.StringVarP(&flagJoinIdentity, "identity", "i", "", "name shown to the other participant (random when empty)")
	f.StringVarP(&flagJoinServer, "server", "s", "", "signaling server websocket URL (env SERVER_URL)")
	f.StringVar(&flagJoinSTUN, "stun", "", "STUN server URL (env STUN_SERVER)")
	f.StringVar(&flagJoinTURN, "turn", "", "TURN server, e.g. turn:relay.example.com (env TURN_SERVER)")
	f.StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	f.StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	f.BoolVar(&flagJoinRelay, "relay", false, "only use TURN relay candidates")
	f.BoolVarP(&flagJoinNegotiate, "negotiate", "n", false, "set up a WebRTC connection with the paired peer")
	f.BoolVar(&flagJoinPlain, "plain", false, "print events as lines instead of the interactive view")
	f.DurationVar(&flagJoinTimeout, "timeout", 0, "give up if not paired within this duration (0 waits forever)")
}

func runJoin(ctx context.Context, cfg *config.Client, opts joinOptions, plain bool) error {
	stopSpinner := func() {}
	if !plain {
		stopSpinner = ui.RunConnectionSpinner("Connecting to server...")
	}
	c := client.NewClient(cfg.ServerURL, nil)
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := c.Connect(connectCtx)
	cancel()
	stopSpinner()
	if err != nil {
		return err
	}
	defer c.Close()

	h := client.NewHandler(c)
	go h.Start()

	s := &joinSession{
		cfg:     cfg,
		opts:    opts,
		client:  c,
		handler: h,
		logger:  logger,
	}

	if plain {
		s.report = printUpdate
		return s.run(ctx)
	}

	view := ui.NewJoinUI(opts.Identity)
	s.report = view.Send
	view.Start()
	defer view.Stop()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-view.Exited():
			cancelRun()
		case <-runCtx.Done():
		}
	}()
	return s.run(runCtx)
}

func printUpdate(u ui.JoinUpdate) {
	switch u.State {
	case ui.JoinWaiting:
		ui.PrintInfof("Joined %s, waiting for a peer", u.Room)
	case ui.JoinQueued:
		ui.PrintInfof("Room %s is full, position %d in queue", u.Room, u.Position)
	case ui.JoinPaired:
		ui.PrintInfof("Paired with %s in %s (initiator: %t)", u.Peer, u.Room, u.Initiator)
	case ui.JoinConnected:
		ui.PrintSuccess("Peer connection established with " + u.Peer)
	case ui.JoinPeerLeft:
		ui.PrintWarning(u.Peer + " left the room")
	case ui.JoinError:
		ui.PrintError(u.Message)
	}
}

type joinOptions struct {
	Room      string
	Identity  string
	Negotiate bool
	// Timeout bounds the wait for a pairing. Zero waits until cancelled.
	Timeout time.Duration
}

// joinSession follows one room membership from join until the context ends
// or the server goes away.
type joinSession struct {
	cfg     *config.Client
	opts    joinOptions
	client  *client.Client
	handler *client.Handler
	report  func(ui.JoinUpdate)
	logger  *zap.Logger

	peer   *peer.Peer
	paired bool
	// early holds signals that arrived before the pairing was processed.
	early []client.Signal
}

func (s *joinSession) run(ctx context.Context) error {
	defer s.closePeer()

	if err := s.client.Send(protocol.TypeRoomJoin, protocol.JoinRequest{
		Identity: s.opts.Identity,
		Room:     s.opts.Room,
	}); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if s.opts.Timeout > 0 {
		timer := time.NewTimer(s.opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-deadline:
			if !s.paired {
				return client.WrapError("join "+s.opts.Room, client.ErrTimeout, "no peer paired")
			}

		case <-s.handler.Done:
			return client.WrapError("join "+s.opts.Room, client.ErrClosed, "server closed the connection")

		case ack := <-s.handler.JoinAck:
			s.report(ui.JoinUpdate{State: ui.JoinWaiting, Room: ack.Room})

		case q := <-s.handler.Queued:
			s.report(ui.JoinUpdate{State: ui.JoinQueued, Room: q.Room, Position: q.Position})

		case m := <-s.handler.PeerJoined:
			s.logger.Debug("peer joined", zap.String("identity", m.Identity))

		case p := <-s.handler.Pairing:
			s.paired = true
			s.report(ui.JoinUpdate{State: ui.JoinPaired, Room: p.Room, Peer: p.PeerIdentity, Initiator: p.Initiator})
			if s.opts.Negotiate {
				if err := s.startPeer(p); err != nil {
					s.report(ui.JoinUpdate{State: ui.JoinError, Message: err.Error()})
					return err
				}
			}

		case sig := <-s.handler.Signal:
			if s.peer == nil {
				if s.opts.Negotiate {
					s.early = append(s.early, sig)
				}
				continue
			}
			s.apply(sig)

		case g := <-s.greetings():
			s.logger.Debug("greeting", zap.String("identity", g.Identity), zap.Time("sentAt", g.SentAt))
			s.report(ui.JoinUpdate{State: ui.JoinConnected, Peer: g.Identity})

		case err := <-s.failures():
			s.logger.Warn("peer connection", zap.Error(err))
			s.closePeer()

		case m := <-s.handler.PeerLeft:
			s.closePeer()
			s.report(ui.JoinUpdate{State: ui.JoinPeerLeft, Room: m.Room, Peer: m.Identity})

		case msg := <-s.handler.Error:
			err := client.WrapError("join "+s.opts.Room, client.ErrServerError, msg)
			s.report(ui.JoinUpdate{State: ui.JoinError, Message: err.Error()})
			return err
		}
	}
}

func (s *joinSession) startPeer(p protocol.Pairing) error {
	s.closePeer()
	pc, err := peer.New(s.cfg, s.client, p, s.opts.Identity, s.logger)
	if err != nil {
		return err
	}
	if err := pc.Start(); err != nil {
		pc.Close()
		return fmt.Errorf("start negotiation: %w", err)
	}
	s.peer = pc

	early := s.early
	s.early = nil
	for _, sig := range early {
		s.apply(sig)
	}
	return nil
}

func (s *joinSession) apply(sig client.Signal) {
	if err := s.peer.HandleSignal(sig.Type, sig.From, sig.Payload); err != nil {
		s.logger.Warn("apply signal", zap.String("type", sig.Type), zap.Error(err))
	}
}

func (s *joinSession) closePeer() {
	if s.peer == nil {
		return
	}
	if err := s.peer.Close(); err != nil {
		s.logger.Debug("close peer", zap.Error(err))
	}
	s.peer = nil
}

// greetings and failures return nil channels, which block forever, while
// no peer connection exists.
func (s *joinSession) greetings() <-chan peer.Greeting {
	if s.peer == nil {
		return nil
	}
	return s.peer.Greetings()
}

func (s *joinSession) failures() <-chan error {
	if s.peer == nil {
		return nil
	}
	return s.peer.Failed()
}
