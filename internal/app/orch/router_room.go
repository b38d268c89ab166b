package orch

import (
	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (r *Router) onInitInfo(msg protocol.Message) {
	if r.state.SelfID != "" {
		log.Warn().Str("module", "orch").Str("self", string(r.state.SelfID)).Msg("initInfo repeated, ignored")
		return
	}
	r.state.SelfID = msg.MySocketID
	creds := &domain.Credentials{ID: msg.TurnID, Password: msg.TurnPwd}
	if !creds.Empty() {
		r.state.Credentials = creds
	}
	log.Info().Str("module", "orch").Str("self", string(msg.MySocketID)).Bool("turn", r.state.Credentials != nil).Msg("init info")
}

func (r *Router) onUserJoined(id domain.ParticipantID) {
	if !r.admit(protocol.TypeUserJoined, id) {
		return
	}
	r.Peers.Upsert(id, nil)
	r.send(protocol.WelcomeUser(r.state.SelfID, id))
}

func (r *Router) onUserDisconnected(id domain.ParticipantID) {
	if r.Peers.Remove(id) {
		log.Info().Str("module", "orch").Str("pid", string(id)).Msg("peer left")
	}
}

func (r *Router) setMicDisabled(on bool) {
	if r.state.MicDisabled == on {
		return
	}
	r.state.MicDisabled = on
	log.Info().Str("module", "orch").Bool("mic_disabled", on).Msg("mic gate")
}

// admit applies the preconditions shared by the mesh-building events.
func (r *Router) admit(t protocol.Type, id domain.ParticipantID) bool {
	logger := log.With().Str("module", "orch").Str("type", string(t)).Str("pid", string(id)).Logger()
	if !r.state.Joined {
		logger.Debug().Err(core.ErrNotJoined).Msg("dropped")
		return false
	}
	if r.isSelf(id) {
		logger.Debug().Msg("names self, ignored")
		return false
	}
	return true
}
