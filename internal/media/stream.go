package media

import "sync"

// Stream is the local capture stream: the ordered set of tracks currently
// offered to peers. In practice it holds at most one audio track.
type Stream struct {
	mu     sync.RWMutex
	tracks []*Track
}

func (s *Stream) Add(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.tracks {
		if have == t {
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

func (s *Stream) Remove(t *Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.tracks {
		if have == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return true
		}
	}
	return false
}

// AudioTrack returns the first track, mirroring getAudioTracks()[0].
func (s *Stream) AudioTrack() (*Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.tracks) == 0 {
		return nil, false
	}
	return s.tracks[0], true
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}
