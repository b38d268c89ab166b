// Package coretest provides in-memory doubles for the core interfaces.
package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Conn is a scripted core.PeerConnection. It follows the same single
// remote signal rule as the real handle.
type Conn struct {
	PeerID domain.ParticipantID
	R      core.Role
	Cfg    webrtc.Configuration
	Offer  domain.Signal
	CB     core.PeerCallbacks

	// ReplaceErr, when set, fails every ReplaceLocalTrack.
	ReplaceErr error

	mu      sync.Mutex
	state   core.ConnState
	track   core.LocalTrack
	applied []domain.Signal
	closes  int
}

func NewConn(peer domain.ParticipantID, role core.Role, track core.LocalTrack) *Conn {
	return &Conn{PeerID: peer, R: role, track: track}
}

func (c *Conn) Peer() domain.ParticipantID { return c.PeerID }
func (c *Conn) Role() core.Role            { return c.R }

func (c *Conn) State() core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) ApplyRemoteSignal(sig domain.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == core.StateClosed {
		return core.ErrClosed
	}
	if c.R != core.RoleInitiator || len(c.applied) > 0 {
		return fmt.Errorf("%w: second remote signal", core.ErrProtocolViolation)
	}
	c.applied = append(c.applied, sig)
	c.state = core.StateConnected
	return nil
}

func (c *Conn) ReplaceLocalTrack(old, new core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReplaceErr != nil {
		return c.ReplaceErr
	}
	if c.state == core.StateClosed || c.track != old {
		return nil
	}
	c.track = new
	return nil
}

func (c *Conn) CurrentTrack() core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.state = core.StateClosed
	return nil
}

// Emit plays the handle's outbound payload, as the real handle does once
// gathering completes. Responders move to Connected.
func (c *Conn) Emit(sig domain.Signal) {
	c.mu.Lock()
	if c.R == core.RoleResponder && c.state == core.StateNegotiating {
		c.state = core.StateConnected
	}
	c.mu.Unlock()
	if c.CB.OnSignal != nil {
		c.CB.OnSignal(sig)
	}
}

// Fail reports a transport failure through the handle's callbacks.
func (c *Conn) Fail() {
	if c.CB.OnFailure != nil {
		c.CB.OnFailure(core.ErrNegotiationFailure)
	}
}

func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *Conn) Applied() []domain.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Signal(nil), c.applied...)
}

// Dialer records every handle it builds.
type Dialer struct {
	// Err, when set, is returned by the next Call or Answer.
	Err error

	mu    sync.Mutex
	conns []*Conn
}

func (d *Dialer) Call(_ context.Context, peer domain.ParticipantID, cfg webrtc.Configuration, track core.LocalTrack, cb core.PeerCallbacks) (core.PeerConnection, error) {
	return d.build(peer, core.RoleInitiator, cfg, track, nil, cb)
}

func (d *Dialer) Answer(_ context.Context, peer domain.ParticipantID, cfg webrtc.Configuration, track core.LocalTrack, offer domain.Signal, cb core.PeerCallbacks) (core.PeerConnection, error) {
	return d.build(peer, core.RoleResponder, cfg, track, offer, cb)
}

func (d *Dialer) build(peer domain.ParticipantID, role core.Role, cfg webrtc.Configuration, track core.LocalTrack, offer domain.Signal, cb core.PeerCallbacks) (core.PeerConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		err := d.Err
		d.Err = nil
		return nil, err
	}
	c := NewConn(peer, role, track)
	c.Cfg, c.Offer, c.CB = cfg, offer, cb
	d.conns = append(d.conns, c)
	return c, nil
}

// Conns returns the handles built so far, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent handle, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Signal is a core.SignalConnection that keeps every frame it is given.
type Signal struct {
	// Full makes TrySend report backpressure.
	Full bool

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	if s.Full {
		return core.ErrBackpressure
	}
	s.frames = append(s.frames, append(core.Frame(nil), f...))
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Signal) Frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Frame(nil), s.frames...)
}

func (s *Signal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reset drops the recorded frames.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}
