package app

import (
	"sort"
	"sync"

	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

// PeerEntry is one remote participant of the mesh. Conn is nil while the
// entry waits for the first negotiation step.
type PeerEntry struct {
	ID   domain.ParticipantID
	Conn core.PeerConnection
}

// Pending reports whether no handle is attached yet.
func (e PeerEntry) Pending() bool { return e.Conn == nil }

// PeerSet maps participant ids to their connection handle. There is at most
// one entry per id; a later Upsert replaces and closes the earlier one.
type PeerSet struct {
	mu      sync.RWMutex
	entries map[domain.ParticipantID]*PeerEntry
}

func NewPeerSet() *PeerSet {
	return &PeerSet{entries: make(map[domain.ParticipantID]*PeerEntry)}
}

// Upsert installs conn (possibly nil) for id. A previous handle for the same
// id is closed before the new one becomes visible to Find.
func (s *PeerSet) Upsert(id domain.ParticipantID, conn core.PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[id]; ok && prev.Conn != nil && prev.Conn != conn {
		closeConn(prev.Conn)
		log.Info().Str("module", "app.peers").Str("pid", string(id)).Msg("replaced peer handle")
	}
	s.entries[id] = &PeerEntry{ID: id, Conn: conn}
	log.Debug().Str("module", "app.peers").Str("pid", string(id)).Bool("pending", conn == nil).Msg("upsert peer")
}

// Remove closes the handle for id, if any, and deletes the entry.
func (s *PeerSet) Remove(id domain.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	if e.Conn != nil {
		closeConn(e.Conn)
	}
	log.Info().Str("module", "app.peers").Str("pid", string(id)).Msg("removed peer")
	return true
}

func (s *PeerSet) Find(id domain.ParticipantID) (PeerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return PeerEntry{}, false
	}
	return *e, true
}

// Current reports whether conn is still the handle installed for id.
func (s *PeerSet) Current(id domain.ParticipantID, conn core.PeerConnection) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return ok && e.Conn != nil && e.Conn == conn
}

func (s *PeerSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IDs returns the participant ids in a stable order.
func (s *PeerSet) IDs() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReplaceTrack moves every live handle from old to new in one pass. The
// write lock keeps Upsert and Remove out until the fan-out is done.
// A handle that cannot take the new track is closed and dropped, since
// old is released right after this returns.
func (s *PeerSet) ReplaceTrack(old, new core.LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.Conn == nil {
			continue
		}
		if err := e.Conn.ReplaceLocalTrack(old, new); err != nil {
			log.Error().Err(err).Str("module", "app.peers").Str("pid", string(id)).Msg("replace local track, dropping peer")
			delete(s.entries, id)
			closeConn(e.Conn)
		}
	}
}

// CloseAll closes every handle and empties the set.
func (s *PeerSet) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.Conn != nil {
			closeConn(e.Conn)
		}
		delete(s.entries, id)
	}
}

func closeConn(c core.PeerConnection) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.peers").Str("pid", string(c.Peer())).Msg("close peer")
	}
}
