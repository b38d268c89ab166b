package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/walkie/internal/core"
	"github.com/rs/zerolog/log"
)

// TrackSink receives the track fan-out on swap. The peer set implements it.
// old may be nil when recovering from a session that had no capture.
type TrackSink interface {
	ReplaceTrack(old, new core.LocalTrack)
}

// Controller owns the local capture track. It is the only writer; peer
// connections borrow the current track by reference.
type Controller struct {
	device Device
	sink   TrackSink

	mu      sync.RWMutex
	ctx     context.Context
	stream  Stream
	current *Track

	onEnabled func(bool)
}

func NewController(ctx context.Context, device Device, sink TrackSink) *Controller {
	return &Controller{device: device, sink: sink, ctx: ctx}
}

// OnEnabledChange sets a hook fired after every effective SetEnabled.
func (c *Controller) OnEnabledChange(fn func(bool)) { c.onEnabled = fn }

// Current returns the current track or nil.
func (c *Controller) Current() *Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Local is Current as a core.LocalTrack, nil interface when absent.
func (c *Controller) Local() core.LocalTrack {
	if t := c.Current(); t != nil {
		return t
	}
	return nil
}

func (c *Controller) Stream() *Stream { return &c.stream }

// Open opens the capture device without installing it. Callers that must
// not block their loop run this elsewhere and hand the result to Install.
// Enumeration is not consulted: an empty listing is how an interrupted audio
// session shows up, and reopening is what recovers it.
func (c *Controller) Open(ctx context.Context) (Capture, error) {
	capture, err := c.device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
	}
	return capture, nil
}

// OpenListed is Open gated on an audio input being listed. Used for the
// first acquisition only.
func (c *Controller) OpenListed(ctx context.Context) (Capture, error) {
	devs, err := c.device.Enumerate(ctx)
	if err == nil && !HasAudioInput(devs) {
		return nil, core.ErrDeviceUnavailable
	}
	return c.Open(ctx)
}

// Acquire opens a listed capture device and installs a disabled track.
func (c *Controller) Acquire(ctx context.Context) (*Track, error) {
	capture, err := c.OpenListed(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("acquire failed")
		return nil, err
	}
	return c.Install(capture)
}

// Swap re-acquires the capture device and replaces the current track on
// every peer. With no current track it behaves as Acquire.
func (c *Controller) Swap(ctx context.Context) (*Track, error) {
	capture, err := c.Open(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("swap failed, keeping current track")
		return nil, err
	}
	return c.Install(capture)
}

// Install wraps an opened capture in a new disabled track and makes it
// current. The old track, if any, is disabled before it is detached, every
// peer is moved to the new track, and only then is the old capture released.
func (c *Controller) Install(capture Capture) (*Track, error) {
	next, err := newTrack(capture)
	if err != nil {
		_ = capture.Close()
		return nil, err
	}

	c.mu.Lock()
	old := c.current
	if old != nil {
		old.SetEnabled(false)
		c.stream.Remove(old)
	}
	c.stream.Add(next)
	c.current = next
	ctx := c.ctx
	c.mu.Unlock()

	next.start(ctx)

	if c.sink != nil {
		var oldLocal core.LocalTrack
		if old != nil {
			oldLocal = old
		}
		c.sink.ReplaceTrack(oldLocal, next)
	}

	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("track_id", old.ID()).Msg("close old capture")
		}
		log.Info().Str("module", "media").Str("old", old.ID()).Str("new", next.ID()).Msg("track swapped")
	} else {
		log.Info().Str("module", "media").Str("track_id", next.ID()).Msg("track acquired")
	}
	return next, nil
}

// SetEnabled opens or closes the push-to-talk gate. Returns false when no
// track is held.
func (c *Controller) SetEnabled(on bool) bool {
	t := c.Current()
	if t == nil {
		return false
	}
	t.SetEnabled(on)
	if c.onEnabled != nil {
		c.onEnabled(on)
	}
	return true
}

// Close releases the current track and capture.
func (c *Controller) Close() {
	c.mu.Lock()
	t := c.current
	c.current = nil
	if t != nil {
		c.stream.Remove(t)
	}
	c.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}
