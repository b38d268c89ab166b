// Package orch turns inbound relay messages into peer set mutations and
// outbound relay messages. Every method runs on the session loop.
package orch

import (
	"context"

	"github.com/dkeye/walkie/internal/app"
	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/media"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// State is the session state owned by the Router.
type State struct {
	SelfID      domain.ParticipantID
	Credentials *domain.Credentials
	Joined      bool
	MicDisabled bool
	// Connected is set once any link in the room finished its handshake.
	Connected bool
}

// Audio is the part of the local track controller the Router drives.
type Audio interface {
	Local() core.LocalTrack
	Install(media.Capture) (*media.Track, error)
}

type Router struct {
	Peers   *app.PeerSet
	Dialer  core.PeerDialer
	Signal  core.SignalConnection
	Audio   Audio
	Resolve func(*domain.Credentials) webrtc.Configuration

	// Post schedules fn on the session loop. Handle callbacks use it to get
	// back onto the loop before touching the peer set.
	Post func(fn func())
	// OnChange fires after every handled event that may have changed State
	// or the peer count.
	OnChange func(State)
	// OnRemoteTrack receives incoming audio. Tracks are drained when unset.
	OnRemoteTrack func(domain.ParticipantID, *webrtc.TrackRemote)

	ctx   context.Context
	state State
}

func NewRouter(ctx context.Context, peers *app.PeerSet, dialer core.PeerDialer, signal core.SignalConnection, audio Audio, resolve func(*domain.Credentials) webrtc.Configuration) *Router {
	return &Router{
		Peers:   peers,
		Dialer:  dialer,
		Signal:  signal,
		Audio:   audio,
		Resolve: resolve,
		Post:    func(fn func()) { fn() },
		ctx:     ctx,
	}
}

func (r *Router) State() State { return r.state }

// Handle applies one inbound relay message.
func (r *Router) Handle(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeInitInfo:
		r.onInitInfo(msg)
	case protocol.TypeUserJoined:
		r.onUserJoined(msg.SocketID)
	case protocol.TypeUserDisconnected:
		r.onUserDisconnected(msg.SocketID)
	case protocol.TypeWelcomeUser:
		r.onWelcome(msg.SocketID)
	case protocol.TypeIncomingCall:
		r.onIncomingCall(msg.From, msg.Signal)
	case protocol.TypeCallAccepted:
		r.onCallAccepted(msg.From, msg.Signal)
	case protocol.TypeDisableMic:
		r.setMicDisabled(true)
	case protocol.TypeEnableMic:
		r.setMicDisabled(false)
	default:
		log.Warn().Str("module", "orch").Str("type", string(msg.Type)).Msg("unknown message")
		return
	}
	r.changed()
}

// Join marks the session joined and announces it. A session joins once.
func (r *Router) Join() bool {
	if r.state.Joined {
		return false
	}
	r.state.Joined = true
	r.send(protocol.JoinRoom())
	log.Info().Str("module", "orch").Str("self", string(r.state.SelfID)).Msg("joined")
	r.changed()
	return true
}

// Speaking announces the local push-to-talk state to the relay.
func (r *Router) Speaking(on bool) {
	if on {
		r.send(protocol.StartSpeaking())
	} else {
		r.send(protocol.StopSpeaking())
	}
}

// Close tears down every peer link.
func (r *Router) Close() {
	r.Peers.CloseAll()
}

func (r *Router) send(msg protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return
	}
	if err := r.Signal.TrySend(data); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(msg.Type)).Msg("send to relay")
	}
}

func (r *Router) changed() {
	if r.OnChange != nil {
		r.OnChange(r.state)
	}
}

func (r *Router) isSelf(id domain.ParticipantID) bool {
	return id == "" || (r.state.SelfID != "" && id == r.state.SelfID)
}
