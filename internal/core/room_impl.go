package core

import (
	"sync"

	"github.com/dkeye/walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	byID    map[domain.ParticipantID]MemberSession
	speaker domain.ParticipantID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room: room,
		byID: make(map[domain.ParticipantID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *roomImpl) AddMember(ms MemberSession) {
	id := ms.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("pid", string(id)).Msg("member added")
}

func (r *roomImpl) RemoveMember(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("pid", string(id)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.byID {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}

func (r *roomImpl) ClaimSpeaker(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	if r.speaker != "" && r.speaker != id {
		return false
	}
	r.speaker = id
	return true
}

func (r *roomImpl) ReleaseSpeaker(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.speaker == "" || r.speaker != id {
		return false
	}
	r.speaker = ""
	return true
}

func (r *roomImpl) Speaker() (domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.speaker, r.speaker != ""
}
