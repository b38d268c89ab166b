package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection is one negotiated audio link to a remote participant.
// Trickle is off: a single payload carrying every local candidate is
// emitted once gathering completes.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
	peer   domain.ParticipantID
	role   core.Role
	cb     core.PeerCallbacks
	logger zerolog.Logger

	mu            sync.Mutex
	state         core.ConnState
	track         core.LocalTrack
	localSent     bool
	remoteApplied bool

	transportUp atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	timer       *time.Timer
	failOnce    sync.Once
	closeOnce   sync.Once
}

func newWebRTCConnection(ctx context.Context, api *webrtc.API, cfg webrtc.Configuration, peer domain.ParticipantID, role core.Role, track core.LocalTrack, cb core.PeerCallbacks) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	trInit := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}
	var tr *webrtc.RTPTransceiver
	if track != nil {
		tr, err = pc.AddTransceiverFromTrack(track, trInit)
	} else {
		tr, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, trInit)
	}
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	c := &WebRTCConnection{
		pc:     pc,
		sender: tr.Sender(),
		peer:   peer,
		role:   role,
		cb:     cb,
		track:  track,
		logger: log.With().Str("module", "rtc").Str("pid", string(peer)).Str("role", role.String()).Logger(),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.bind()
	go c.readRTCP()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.transportUp.Store(true)
		case webrtc.PeerConnectionStateFailed:
			c.fail(fmt.Errorf("%w: transport failed", core.ErrNegotiationFailure))
		case webrtc.PeerConnectionStateClosed:
			if c.State() != core.StateClosed {
				c.fail(fmt.Errorf("%w: transport closed", core.ErrNegotiationFailure))
			}
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.cb.OnTrack != nil {
			c.cb.OnTrack(track)
			return
		}
		go drain(track)
	})
}

// expireAfter fails the connection if the transport is not up in time.
func (c *WebRTCConnection) expireAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	c.timer = time.AfterFunc(d, func() {
		if c.transportUp.Load() || c.State() == core.StateClosed {
			return
		}
		c.fail(fmt.Errorf("%w: not connected after %s", core.ErrNegotiationFailure, d))
	})
}

func (c *WebRTCConnection) offer() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	go c.emitWhenGathered(gatherComplete)
	return nil
}

func (c *WebRTCConnection) answer(offer domain.Signal) error {
	desc, err := decodeSignal(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteApplied = true
	c.mu.Unlock()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	go c.emitWhenGathered(gatherComplete)
	return nil
}

func (c *WebRTCConnection) emitWhenGathered(gatherComplete <-chan struct{}) {
	select {
	case <-c.ctx.Done():
		return
	case <-gatherComplete:
	}

	payload, err := json.Marshal(c.pc.LocalDescription())
	if err != nil {
		c.fail(fmt.Errorf("%w: encode local description: %v", core.ErrNegotiationFailure, err))
		return
	}

	c.mu.Lock()
	if c.state == core.StateClosed {
		c.mu.Unlock()
		return
	}
	c.localSent = true
	c.advance()
	c.mu.Unlock()

	c.logger.Debug().Int("bytes", len(payload)).Msg("local description ready")
	if c.cb.OnSignal != nil {
		c.cb.OnSignal(payload)
	}
}

// advance moves to Connected once both descriptions are exchanged.
// Caller holds c.mu.
func (c *WebRTCConnection) advance() {
	if c.state == core.StateNegotiating && c.localSent && c.remoteApplied {
		c.state = core.StateConnected
	}
}

func (c *WebRTCConnection) ApplyRemoteSignal(sig domain.Signal) error {
	c.mu.Lock()
	if c.state == core.StateClosed {
		c.mu.Unlock()
		return core.ErrClosed
	}
	if c.role != core.RoleInitiator || c.remoteApplied {
		c.mu.Unlock()
		return fmt.Errorf("%w: remote description already applied", core.ErrProtocolViolation)
	}
	desc, err := decodeSignal(sig, webrtc.SDPTypeAnswer)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.remoteApplied = true
	c.mu.Unlock()

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		c.mu.Lock()
		c.remoteApplied = false
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", core.ErrNegotiationFailure, err)
	}

	c.mu.Lock()
	c.advance()
	c.mu.Unlock()
	return nil
}

func (c *WebRTCConnection) ReplaceLocalTrack(old, new core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == core.StateClosed || c.track != old {
		return nil
	}
	if err := c.sender.ReplaceTrack(new); err != nil {
		return err
	}
	c.track = new
	return nil
}

func (c *WebRTCConnection) CurrentTrack() core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

func (c *WebRTCConnection) State() core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WebRTCConnection) Peer() domain.ParticipantID { return c.peer }
func (c *WebRTCConnection) Role() core.Role            { return c.role }

func (c *WebRTCConnection) fail(err error) {
	if c.State() == core.StateClosed {
		return
	}
	c.failOnce.Do(func() {
		c.logger.Warn().Err(err).Msg("connection failed")
		if c.cb.OnFailure != nil {
			c.cb.OnFailure(err)
		}
	})
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = core.StateClosed
		c.mu.Unlock()

		c.cancel()
		if c.timer != nil {
			c.timer.Stop()
		}
		if err = c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	return err
}

// readRTCP keeps the sender's interceptors fed until the connection closes.
func (c *WebRTCConnection) readRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}

func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func decodeSignal(sig domain.Signal, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sig, &desc); err != nil {
		return desc, fmt.Errorf("%w: bad signal: %v", core.ErrProtocolViolation, err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: expected %s, got %s", core.ErrProtocolViolation, want, desc.Type)
	}
	return desc, nil
}
