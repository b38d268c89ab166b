package session

// View is the presentation snapshot. Subscribers read it and never write
// back; commands go through Join and ToggleAudio.
type View struct {
	UserCounter int  `json:"userCounter"`
	MicDisabled bool `json:"micDisabled"`
	Speaking    bool `json:"speaking"`
	Connected   bool `json:"connected"`
	// Degraded means no capture device: the session runs without outgoing audio.
	Degraded bool `json:"degraded"`
}

// Subscribe returns a channel carrying the latest View. Slow readers only
// miss intermediate snapshots. The channel is closed when the session ends.
func (s *Session) Subscribe() <-chan View {
	ch := make(chan View, 1)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch <- s.last
	s.subs = append(s.subs, ch)
	return ch
}

// Snapshot returns the most recently published View.
func (s *Session) Snapshot() View {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.last
}

// publish runs on the loop.
func (s *Session) publish() {
	st := s.router.State()
	v := View{
		UserCounter: s.peers.Count() + 1,
		MicDisabled: st.MicDisabled,
		Speaking:    s.speaking,
		Connected:   st.Connected,
		Degraded:    s.audio.Current() == nil,
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if v == s.last {
		return
	}
	s.last = v
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}
