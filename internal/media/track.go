package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const streamID = "walkie"

// Track is the local outgoing audio track. Packets from the capture are
// forwarded to every bound peer only while the push-to-talk gate is open.
type Track struct {
	*webrtc.TrackLocalStaticRTP

	enabled atomic.Bool // false by default (push-to-talk off)
	capture Capture

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newTrack(capture Capture) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+uuid.NewString(),
		streamID,
	)
	if err != nil {
		return nil, err
	}
	return &Track{
		TrackLocalStaticRTP: local,
		capture:             capture,
		done:                make(chan struct{}),
	}, nil
}

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

func (t *Track) start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	logger := log.With().
		Str("module", "media.track").
		Str("track_id", t.ID()).
		Logger()
	go t.loop(ctx, &logger)
}

// loop reads RTP packets from the capture and forwards them while enabled.
func (t *Track) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("track ctx done")
			return
		default:
		}
		pkts, release, err := t.capture.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Error().Err(err).Msg("capture read error, stopping")
			}
			return
		}
		t.forward(pkts, logger)
		if release != nil {
			release()
		}
	}
}

func (t *Track) forward(pkts []*rtp.Packet, logger *zerolog.Logger) {
	if !t.Enabled() {
		return
	}
	for _, pkt := range pkts {
		if pkt == nil {
			continue
		}
		if err := t.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			logger.Warn().Err(err).Msg("write RTP")
		}
	}
}

// Close stops forwarding and releases the capture device. Idempotent.
func (t *Track) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.SetEnabled(false)
		if t.cancel != nil {
			t.cancel()
		}
		err = t.capture.Close()
		if t.cancel != nil {
			<-t.done
		}
	})
	return err
}
