package media

import (
	"context"

	"github.com/pion/rtp"
)

type DeviceKind int

const (
	AudioInput DeviceKind = iota + 1
	AudioOutput
	VideoInput
)

type DeviceInfo struct {
	ID    string
	Label string
	Kind  DeviceKind
}

// Capture is an open capture device producing encoded RTP.
// Read blocks until packets are available; Close unblocks it.
type Capture interface {
	Read() ([]*rtp.Packet, func(), error)
	Close() error
}

// Device is the platform capture collaborator.
type Device interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context) (Capture, error)
}

// HasAudioInput reports whether devs contains a usable microphone.
// Entries without an id are placeholders some platforms return before
// permission is granted and do not count.
func HasAudioInput(devs []DeviceInfo) bool {
	for _, d := range devs {
		if d.Kind == AudioInput && d.ID != "" {
			return true
		}
	}
	return false
}
