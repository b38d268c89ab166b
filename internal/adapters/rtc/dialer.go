package rtc

import (
	"context"
	"time"

	"github.com/dkeye/walkie/internal/adapters/pionlog"
	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Dialer builds WebRTCConnections in either role from one shared API.
type Dialer struct {
	api *webrtc.API
	// Timeout bounds how long a connection may take to bring its transport
	// up before it is reported as failed. Zero disables the bound.
	Timeout time.Duration
}

func NewDialer(timeout time.Duration) (*Dialer, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{LoggerFactory: pionlog.Factory{}}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)
	return &Dialer{api: api, Timeout: timeout}, nil
}

// Call creates an Initiator. The offer is delivered through cb.OnSignal
// once candidate gathering completes.
func (d *Dialer) Call(ctx context.Context, peer domain.ParticipantID, cfg webrtc.Configuration, track core.LocalTrack, cb core.PeerCallbacks) (core.PeerConnection, error) {
	c, err := newWebRTCConnection(ctx, d.api, cfg, peer, core.RoleInitiator, track, cb)
	if err != nil {
		return nil, err
	}
	c.expireAfter(d.Timeout)
	if err := c.offer(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Answer creates a Responder from the remote offer. The answer is
// delivered through cb.OnSignal once candidate gathering completes.
func (d *Dialer) Answer(ctx context.Context, peer domain.ParticipantID, cfg webrtc.Configuration, track core.LocalTrack, offer domain.Signal, cb core.PeerCallbacks) (core.PeerConnection, error) {
	c, err := newWebRTCConnection(ctx, d.api, cfg, peer, core.RoleResponder, track, cb)
	if err != nil {
		return nil, err
	}
	c.expireAfter(d.Timeout)
	if err := c.answer(offer); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
