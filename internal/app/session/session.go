// Package session runs one participant's lifetime: a single event loop that
// owns the router, the peer set and the local audio track.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/walkie/internal/app"
	"github.com/dkeye/walkie/internal/app/orch"
	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/media"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const taskBuffer = 64

const reasonStartup media.Reason = "startup"

type Options struct {
	Device  media.Device
	Dialer  core.PeerDialer
	Signal  core.SignalConnection
	Resolve func(*domain.Credentials) webrtc.Configuration
	Cue     Cue
	// ProbeInterval is the device liveness probe period.
	ProbeInterval time.Duration
	// OnRemoteTrack receives incoming audio for playback.
	OnRemoteTrack func(domain.ParticipantID, *webrtc.TrackRemote)
}

type Session struct {
	router  *orch.Router
	peers   *app.PeerSet
	audio   *media.Controller
	watcher *media.Watcher
	signal  core.SignalConnection
	cue     Cue

	tasks chan func()
	done  chan struct{}

	// Loop-owned.
	prev     orch.State
	speaking bool

	subMu sync.Mutex
	subs  []chan View
	last  View
}

func New(ctx context.Context, opts Options) *Session {
	s := &Session{
		peers:  app.NewPeerSet(),
		signal: opts.Signal,
		cue:    opts.Cue,
		tasks:  make(chan func(), taskBuffer),
		done:   make(chan struct{}),
	}
	if s.cue == nil {
		s.cue = NopCue{}
	}
	interval := opts.ProbeInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	s.audio = media.NewController(ctx, opts.Device, s.peers)
	s.audio.OnEnabledChange(s.onEnabled)

	s.router = orch.NewRouter(ctx, s.peers, opts.Dialer, opts.Signal, s.audio, opts.Resolve)
	s.router.Post = s.Post
	s.router.OnChange = s.onChange
	s.router.OnRemoteTrack = opts.OnRemoteTrack

	s.watcher = media.NewWatcher(opts.Device, interval, func(r media.Reason) { s.swap(ctx, r) })
	s.last = View{UserCounter: 1, Degraded: true}
	return s
}

// Run drives the event loop until ctx is done, then tears the session down.
func (s *Session) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	wg.Go(func() {
		// Startup acquire happens off the loop; a failure leaves the
		// session degraded until the watcher sees a device.
		if !s.swap(ctx, reasonStartup) {
			s.watcher.StartMissing()
		}
		s.watcher.Run(ctx)
	})

	logger := log.With().Str("module", "session").Logger()
	logger.Info().Msg("session loop started")
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			close(s.done)
			wg.Wait()
			s.closeSubscribers()
			logger.Info().Msg("session loop stopped")
			return nil
		case fn := <-s.tasks:
			fn()
		}
	}
}

// Post schedules fn on the loop. It is dropped once the loop has stopped.
func (s *Session) Post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// do runs fn on the loop and waits for it. It reports false if the loop
// stopped first.
func (s *Session) do(fn func()) bool {
	finished := make(chan struct{})
	s.Post(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

// Deliver hands an inbound relay message to the loop, preserving order.
func (s *Session) Deliver(msg protocol.Message) {
	s.Post(func() { s.router.Handle(msg) })
}

// Join joins the channel. It succeeds once per session.
func (s *Session) Join() bool {
	var ok bool
	if !s.do(func() { ok = s.router.Join() }) {
		return false
	}
	return ok
}

// ToggleAudio opens or closes the push-to-talk gate. It reports whether the
// gate is now in the requested position.
func (s *Session) ToggleAudio(on bool) bool {
	var ok bool
	if !s.do(func() { ok = s.toggle(on) }) {
		return false
	}
	return ok
}

// Resume signals that the app regained the foreground; the capture device
// is re-acquired.
func (s *Session) Resume() { s.watcher.Resume() }

func (s *Session) toggle(on bool) bool {
	logger := log.With().Str("module", "session").Bool("on", on).Logger()
	if s.audio.Current() == nil {
		logger.Info().Msg("no local track, toggle ignored")
		return false
	}
	if on && s.router.State().MicDisabled {
		logger.Info().Msg("mic disabled by relay, toggle refused")
		return false
	}
	if s.speaking == on {
		return true
	}
	return s.audio.SetEnabled(on)
}

// onEnabled runs inside Controller.SetEnabled, on the loop.
func (s *Session) onEnabled(on bool) {
	s.speaking = on
	s.router.Speaking(on)
	s.publish()
}

func (s *Session) onChange(st orch.State) {
	if st.Joined != s.prev.Joined || (st.Joined && st.MicDisabled != s.prev.MicDisabled) {
		s.cue.Play()
	}
	if st.MicDisabled && !s.prev.MicDisabled && s.speaking {
		log.Info().Str("module", "session").Msg("another participant speaks, closing gate")
		s.audio.SetEnabled(false)
	}
	s.prev = st
	s.publish()
}

// swap opens the capture device on the caller's goroutine and installs it on
// the loop. It reports whether a device could be opened. A failed swap keeps
// whatever track is installed, so the view only degrades when none is.
func (s *Session) swap(ctx context.Context, reason media.Reason) bool {
	logger := log.With().Str("module", "session").Str("reason", string(reason)).Logger()
	open := s.audio.Open
	if reason == reasonStartup {
		open = s.audio.OpenListed
	}
	capture, err := open(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("capture unavailable")
		s.Post(s.publish)
		return false
	}

	posted := s.do(func() {
		if _, err := s.router.SwapTrack(capture); err == nil && s.speaking {
			// The new track starts disabled.
			s.speaking = false
			s.router.Speaking(false)
		}
		s.publish()
	})
	if !posted {
		_ = capture.Close()
		return false
	}
	logger.Info().Msg("capture installed")
	return true
}

func (s *Session) teardown() {
	s.router.Close()
	s.audio.Close()
	if s.signal != nil {
		s.signal.Close()
	}
}
