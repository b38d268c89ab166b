package app

import (
	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay routes negotiation messages between sockets and arbitrates the
// single speaker slot of each room. It never inspects signal payloads.
type Relay struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
}

func NewRelay() *Relay {
	return &Relay{
		Registry: NewRegistry(),
		Rooms:    NewRoomManager(),
		Policy:   KickPolicy{},
	}
}

// Connect registers a fresh socket and hands it its id and TURN credentials.
func (r *Relay) Connect(sess core.MemberSession, creds domain.Credentials, cancel func()) {
	id := sess.Meta().ID
	r.Registry.Bind(id, sess, cancel)
	r.sendTo(id, protocol.InitInfo(creds, id))
}

// OnMessage handles one decoded frame from socket from.
func (r *Relay) OnMessage(from domain.ParticipantID, msg protocol.Message) {
	logger := log.With().Str("module", "app.relay").Str("pid", string(from)).Str("type", string(msg.Type)).Logger()

	switch msg.Type {
	case protocol.TypeJoinRoom:
		r.join(from, domain.DefaultRoom)
	case protocol.TypeWelcomeUser:
		r.forward(from, msg.To, protocol.Welcomed(from))
	case protocol.TypeCallUser:
		r.forward(from, msg.To, protocol.IncomingCall(from, msg.Signal))
	case protocol.TypeAnswerCall:
		r.forward(from, msg.To, protocol.CallAccepted(from, msg.Signal))
	case protocol.TypeStartSpeaking:
		r.startSpeaking(from)
	case protocol.TypeStopSpeaking:
		r.stopSpeaking(from)
	default:
		logger.Warn().Msg("unexpected message from client")
	}
}

func (r *Relay) join(id domain.ParticipantID, name domain.RoomName) {
	if current, _, ok := r.Registry.RoomOf(id); ok {
		log.Debug().Str("module", "app.relay").Str("pid", string(id)).Str("room", string(current)).Msg("already joined")
		return
	}
	sess, ok := r.Registry.GetSession(id)
	if !ok {
		return
	}
	room := r.Rooms.GetOrCreate(name)
	room.AddMember(sess)
	r.Registry.UpdateRoom(id, name)
	log.Info().Str("module", "app.relay").Str("pid", string(id)).Str("room", string(name)).Msg("added to room")

	r.broadcast(room, id, protocol.UserJoined(id))
	// A late joiner must not talk over the current speaker.
	if speaker, busy := room.Speaker(); busy && speaker != id {
		r.sendTo(id, protocol.DisableMic())
	}
}

// forward delivers a directed message if both ends share a room.
func (r *Relay) forward(from, to domain.ParticipantID, msg protocol.Message) {
	logger := log.With().Str("module", "app.relay").Str("pid", string(from)).Str("to", string(to)).Logger()
	if to == "" || to == from {
		logger.Warn().Str("type", string(msg.Type)).Msg("bad recipient")
		return
	}
	fromRoom, _, ok := r.Registry.RoomOf(from)
	if !ok {
		logger.Warn().Msg("sender not joined")
		return
	}
	if toRoom, _, ok := r.Registry.RoomOf(to); !ok || toRoom != fromRoom {
		logger.Debug().Msg("recipient gone")
		return
	}
	r.sendTo(to, msg)
}

func (r *Relay) startSpeaking(id domain.ParticipantID) {
	name, _, ok := r.Registry.RoomOf(id)
	if !ok {
		return
	}
	room := r.Rooms.GetOrCreate(name)
	if !room.ClaimSpeaker(id) {
		r.sendTo(id, protocol.DisableMic())
		return
	}
	log.Info().Str("module", "app.relay").Str("pid", string(id)).Msg("speaker claimed")
	r.broadcast(room, id, protocol.DisableMic())
}

func (r *Relay) stopSpeaking(id domain.ParticipantID) {
	name, _, ok := r.Registry.RoomOf(id)
	if !ok {
		return
	}
	room := r.Rooms.GetOrCreate(name)
	if room.ReleaseSpeaker(id) {
		log.Info().Str("module", "app.relay").Str("pid", string(id)).Msg("speaker released")
		r.broadcast(room, id, protocol.EnableMic())
	}
}

// Disconnect removes the socket and tells the room it left.
func (r *Relay) Disconnect(id domain.ParticipantID) {
	name, ok := r.Registry.Unbind(id)
	if !ok {
		return
	}
	room, ok := r.Rooms.GetRoom(name)
	if !ok {
		return
	}
	released := room.ReleaseSpeaker(id)
	room.RemoveMember(id)
	r.broadcast(room, id, protocol.UserDisconnected(id))
	if released {
		r.broadcast(room, id, protocol.EnableMic())
	}
	if room.MemberCount() == 0 {
		r.Rooms.StopRoom(name)
		log.Info().Str("module", "app.relay").Str("room", string(name)).Msg("room stopped")
	}
}

// Kick cancels the socket's pumps; the adapter then calls Disconnect.
func (r *Relay) Kick(id domain.ParticipantID) {
	r.Registry.Cancel(id)
}

// RoomState reports the default room for the HTTP API.
func (r *Relay) RoomState() core.RoomInfo {
	room, ok := r.Rooms.GetRoom(domain.DefaultRoom)
	if !ok {
		return core.RoomInfo{Name: domain.DefaultRoom}
	}
	return describe(room)
}

func (r *Relay) sendTo(id domain.ParticipantID, msg protocol.Message) {
	sess, ok := r.Registry.GetSession(id)
	if !ok {
		return
	}
	data, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode")
		return
	}
	if err := sess.Signal().TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("pid", string(id)).Msg("send failed")
		name, _, _ := r.Registry.RoomOf(id)
		room, _ := r.Rooms.GetRoom(name)
		r.onBackpressure(room, sess)
	}
}

func (r *Relay) broadcast(room core.RoomService, from domain.ParticipantID, msg protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode")
		return
	}
	res := room.Broadcast(from, data)
	for _, slow := range res.Dropped {
		r.onBackpressure(room, slow)
	}
}

func (r *Relay) onBackpressure(room core.RoomService, member core.MemberSession) {
	if r.Policy == nil {
		return
	}
	switch r.Policy.OnBackPressure(room, member) {
	case KickMember:
		log.Warn().Str("module", "app.relay").Str("pid", string(member.Meta().ID)).Msg("kicking slow member")
		r.Kick(member.Meta().ID)
	case DropFrame:
		log.Debug().Str("module", "app.relay").Str("pid", string(member.Meta().ID)).Msg("frame dropped for slow member")
	}
}
