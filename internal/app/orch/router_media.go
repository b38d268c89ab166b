package orch

import (
	"errors"

	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/media"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// onWelcome starts an Initiator toward id. Missing TURN credentials only
// narrow the configuration.
func (r *Router) onWelcome(id domain.ParticipantID) {
	if !r.admit(protocol.TypeWelcomeUser, id) {
		return
	}
	if r.state.Credentials == nil {
		log.Info().Str("module", "orch").Str("pid", string(id)).Msg("no relay credentials, discovery only")
	}

	var conn core.PeerConnection
	cb := r.callbacks(id, &conn, func(sig domain.Signal) {
		r.send(protocol.CallUser(id, r.state.SelfID, sig))
	})
	c, err := r.Dialer.Call(r.ctx, id, r.Resolve(r.state.Credentials), r.Audio.Local(), cb)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("pid", string(id)).Msg("call failed")
		r.Peers.Remove(id)
		return
	}
	conn = c
	r.Peers.Upsert(id, conn)
}

// onIncomingCall answers from's offer with a fresh Responder.
func (r *Router) onIncomingCall(from domain.ParticipantID, offer domain.Signal) {
	if !r.admit(protocol.TypeIncomingCall, from) {
		return
	}

	var conn core.PeerConnection
	cb := r.callbacks(from, &conn, func(sig domain.Signal) {
		r.send(protocol.AnswerCall(r.state.SelfID, from, sig))
		r.markConnected()
	})
	c, err := r.Dialer.Answer(r.ctx, from, r.Resolve(r.state.Credentials), r.Audio.Local(), offer, cb)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("pid", string(from)).Msg("answer failed")
		r.Peers.Remove(from)
		return
	}
	conn = c
	r.Peers.Upsert(from, conn)
}

// onCallAccepted completes the Initiator's handshake with from's answer.
// An answer with no live handle to apply it to leaves Connected untouched.
func (r *Router) onCallAccepted(from domain.ParticipantID, answer domain.Signal) {
	logger := log.With().Str("module", "orch").Str("pid", string(from)).Logger()
	if r.isSelf(from) {
		return
	}
	entry, ok := r.Peers.Find(from)
	if !ok || entry.Pending() {
		logger.Warn().Msg("callAccepted without a handle, ignored")
		return
	}
	if err := entry.Conn.ApplyRemoteSignal(answer); err != nil {
		if errors.Is(err, core.ErrProtocolViolation) {
			logger.Error().Err(err).Msg("protocol violation, dropping peer")
		} else {
			logger.Error().Err(err).Msg("apply answer, dropping peer")
		}
		r.Peers.Remove(from)
		return
	}
	r.markConnected()
}

// callbacks wires a handle's transport callbacks back onto the loop. conn is
// read on the loop only, after the dialer returned it; payloads from a handle
// that has since been replaced are dropped.
func (r *Router) callbacks(id domain.ParticipantID, conn *core.PeerConnection, emit func(domain.Signal)) core.PeerCallbacks {
	cb := core.PeerCallbacks{
		OnSignal: func(sig domain.Signal) {
			r.Post(func() {
				if !r.Peers.Current(id, *conn) {
					log.Debug().Str("module", "orch").Str("pid", string(id)).Msg("payload from stale handle dropped")
					return
				}
				emit(sig)
				r.changed()
			})
		},
		OnFailure: func(err error) {
			r.Post(func() {
				if !r.Peers.Current(id, *conn) {
					return
				}
				log.Warn().Err(err).Str("module", "orch").Str("pid", string(id)).Msg("peer failed")
				r.Peers.Remove(id)
				r.changed()
			})
		},
	}
	if r.OnRemoteTrack != nil {
		cb.OnTrack = func(track *webrtc.TrackRemote) { r.OnRemoteTrack(id, track) }
	}
	return cb
}

func (r *Router) markConnected() {
	if !r.state.Connected {
		r.state.Connected = true
		log.Info().Str("module", "orch").Msg("room connected")
	}
}

// SwapTrack installs a freshly opened capture. The fan-out to every peer
// happens here on the loop, so no Upsert can interleave with it.
func (r *Router) SwapTrack(capture media.Capture) (*media.Track, error) {
	t, err := r.Audio.Install(capture)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("install track")
		return nil, err
	}
	log.Info().Str("module", "orch").Int("peers", r.Peers.Count()).Str("track_id", t.ID()).Msg("track swapped on peers")
	return t, nil
}
