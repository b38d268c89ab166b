package media

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Reason string

const (
	// ReasonResume: the app came back to the foreground.
	ReasonResume Reason = "resume"
	// ReasonDeviceLost: the probe moved into the no-input-device state.
	ReasonDeviceLost Reason = "device_lost"
	// ReasonDeviceReturned: the probe moved out of the no-input-device state.
	ReasonDeviceReturned Reason = "device_returned"
)

// Watcher probes the capture devices on a fixed interval and reports state
// transitions, not ticks.
type Watcher struct {
	device   Device
	interval time.Duration
	trigger  func(Reason)
	resume   chan struct{}

	missing bool
}

func NewWatcher(device Device, interval time.Duration, trigger func(Reason)) *Watcher {
	return &Watcher{
		device:   device,
		interval: interval,
		trigger:  trigger,
		resume:   make(chan struct{}, 1),
	}
}

// StartMissing records that the device was already unavailable at startup,
// so the first probe that finds one reports ReasonDeviceReturned. Call it
// before Run.
func (w *Watcher) StartMissing() { w.missing = true }

// Resume requests a swap after a background period. Non-blocking; repeated
// calls before the watcher runs collapse into one.
func (w *Watcher) Resume() {
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.resume:
			w.trigger(ReasonResume)
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) {
	devs, err := w.device.Enumerate(ctx)
	missing := err != nil || !HasAudioInput(devs)
	if err != nil {
		log.Debug().Err(err).Str("module", "media.watcher").Msg("enumerate devices")
	}
	switch {
	case missing && !w.missing:
		log.Warn().Str("module", "media.watcher").Msg("no audio input device")
		w.trigger(ReasonDeviceLost)
	case !missing && w.missing:
		log.Info().Str("module", "media.watcher").Msg("audio input device back")
		w.trigger(ReasonDeviceReturned)
	}
	w.missing = missing
}
