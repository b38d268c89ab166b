// Package mic implements media.Device on top of pion/mediadevices.
package mic

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone adapter
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/media"
)

const mtu = 1200

type Device struct {
	selector *mediadevices.CodecSelector
}

func New() (*Device, error) {
	params, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	params.Latency = opus.Latency20ms

	return &Device{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&params)),
	}, nil
}

func (d *Device) Enumerate(_ context.Context) ([]media.DeviceInfo, error) {
	infos := mediadevices.EnumerateDevices()
	out := make([]media.DeviceInfo, 0, len(infos))
	for _, info := range infos {
		var kind media.DeviceKind
		switch info.Kind {
		case mediadevices.AudioInput:
			kind = media.AudioInput
		case mediadevices.AudioOutput:
			kind = media.AudioOutput
		case mediadevices.VideoInput:
			kind = media.VideoInput
		default:
			continue
		}
		out = append(out, media.DeviceInfo{ID: info.DeviceID, Label: info.Label, Kind: kind})
	}
	return out, nil
}

func (d *Device) Open(_ context.Context) (media.Capture, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
		},
		Codec: d.selector,
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, core.ErrDeviceUnavailable
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	src := tracks[0]

	// NewRTPReader wants the codec name, i.e. the part after "audio/".
	codec := strings.TrimPrefix(strings.ToLower(webrtc.MimeTypeOpus), "audio/")
	reader, err := src.NewRTPReader(codec, rand.Uint32(), mtu)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("rtp reader: %w", err)
	}
	log.Info().Str("module", "media.mic").Str("track_id", src.ID()).Msg("microphone opened")
	return &capture{src: src, reader: reader}, nil
}

type capture struct {
	src    mediadevices.Track
	reader mediadevices.RTPReadCloser

	once sync.Once
}

func (c *capture) Read() ([]*rtp.Packet, func(), error) {
	return c.reader.Read()
}

func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.reader.Close()
		err = c.src.Close()
	})
	return err
}
