package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/config"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/protocol"
)

const channelLabel = "rtcp2p"

var (
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrConnectionFailed = errors.New("peer connection failed")
)

// Sender delivers a message to the signaling server.
type Sender interface {
	Send(typ string, payload any) error
}

// Peer drives one side of a WebRTC negotiation over the signaling relay.
// The initiator opens the data channel and sends the offer; the other side
// answers and reports call-accepted once the channel is open.
type Peer struct {
	pc        *webrtc.PeerConnection
	signals   Sender
	remote    string
	identity  string
	initiator bool
	logger    *zap.Logger

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	greetings chan Greeting
	failed    chan error
	closeOnce sync.Once
}

// NewPeerConnection creates a pion peer connection using the configured ICE
// servers. Relay-only transport is used when forced, or when a TURN server is
// available and the host looks like it is behind a VPN or CGNAT.
func NewPeerConnection(cfg *config.Client) (*webrtc.PeerConnection, error) {
	var iceServers []webrtc.ICEServer
	if urls := cfg.GetSTUNServers(); len(urls) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: urls})
	}

	policy := webrtc.ICETransportPolicyAll
	if turn := cfg.GetTURNServers(); turn != nil {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turn,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
		if cfg.ForceRelay || ShouldForceRelay() {
			policy = webrtc.ICETransportPolicyRelay
		}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// New prepares a peer for the pairing p. Call Start to begin negotiating.
func New(cfg *config.Client, signals Sender, p protocol.Pairing, identity string, logger *zap.Logger) (*Peer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc, err := NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Peer{
		pc:        pc,
		signals:   signals,
		remote:    p.PeerConnection,
		identity:  identity,
		initiator: p.Initiator,
		logger:    logger.With(zap.String("peer", p.PeerIdentity)),
		greetings: make(chan Greeting, 1),
		failed:    make(chan error, 1),
	}, nil
}

// Greetings delivers the remote side's greeting once the data channel is up.
func (p *Peer) Greetings() <-chan Greeting { return p.greetings }

// Failed reports a connection failure.
func (p *Peer) Failed() <-chan error { return p.failed }

// Start installs the handlers and, on the initiating side, sends the offer.
func (p *Peer) Start() error {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := p.relay(protocol.TypeNegotiationCandidate, c.ToJSON()); err != nil {
			p.logger.Debug("send candidate", zap.Error(err))
		}
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			select {
			case p.failed <- ErrConnectionFailed:
			default:
			}
		}
	})

	if !p.initiator {
		p.pc.OnDataChannel(p.attach)
		return nil
	}

	ordered := true
	dc, err := p.pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.relay(protocol.TypeNegotiationOffer, p.pc.LocalDescription())
}

// HandleSignal applies a relayed negotiation message from the remote side.
func (p *Peer) HandleSignal(typ, from string, payload json.RawMessage) error {
	if from != p.remote {
		return fmt.Errorf("%w: %s from %s", ErrUnexpectedSignal, typ, from)
	}

	switch typ {
	case protocol.TypeNegotiationOffer:
		if p.initiator {
			return fmt.Errorf("%w: offer sent to initiator", ErrUnexpectedSignal)
		}
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(payload, &offer); err != nil {
			return fmt.Errorf("parse offer: %w", err)
		}
		if err := p.setRemote(offer); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		return p.relay(protocol.TypeNegotiationAnswer, p.pc.LocalDescription())

	case protocol.TypeNegotiationAnswer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(payload, &answer); err != nil {
			return fmt.Errorf("parse answer: %w", err)
		}
		return p.setRemote(answer)

	case protocol.TypeNegotiationCandidate:
		var ice webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &ice); err != nil {
			return fmt.Errorf("parse ICE candidate: %w", err)
		}
		p.mu.Lock()
		if !p.remoteSet {
			p.pending = append(p.pending, ice)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		return p.pc.AddICECandidate(ice)

	case protocol.TypeCallAccept:
		p.logger.Info("call accepted by peer")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedSignal, typ)
}

// setRemote applies desc and flushes candidates that arrived before it.
func (p *Peer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, ice := range pending {
		if err := p.pc.AddICECandidate(ice); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
	}
	return nil
}

func (p *Peer) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.logger.Debug("data channel open", zap.String("label", dc.Label()))
		if err := p.send(dc, TypeGreeting, Greeting{Identity: p.identity, SentAt: time.Now()}); err != nil {
			p.logger.Warn("send greeting", zap.Error(err))
		}
		if !p.initiator {
			if err := p.relay(protocol.TypeCallAccepted, nil); err != nil {
				p.logger.Warn("send call-accepted", zap.Error(err))
			}
		}
	})

	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		msg, err := DecodeMessage(raw.Data)
		if err != nil {
			p.logger.Debug("bad data channel frame", zap.Error(err))
			return
		}
		if msg.Type != TypeGreeting {
			return
		}
		var g Greeting
		if err := msg.DecodePayload(&g); err != nil {
			return
		}
		select {
		case p.greetings <- g:
		default:
		}
	})
}

func (p *Peer) send(dc *webrtc.DataChannel, typ string, payload any) error {
	msg, err := NewMessage(typ, payload)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

func (p *Peer) relay(typ string, v any) error {
	var payload json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = b
	}
	return p.signals.Send(typ, protocol.RelayRequest{To: p.remote, Payload: payload})
}

// Close says goodbye on the data channel, if any, and closes the connection.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		dc := p.dc
		p.mu.Unlock()
		if dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
			_ = p.send(dc, TypeBye, struct{}{})
		}
		err = p.pc.Close()
	})
	return err
}
