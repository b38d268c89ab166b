package media

import (
	"io"
	"sync"

	"github.com/dkeye/walkie/internal/core"
	"github.com/pion/rtp"
)

var mic = []DeviceInfo{{ID: "default", Label: "Built-in Microphone", Kind: AudioInput}}

// fakeCapture blocks in Read until packets are pushed or it is closed.
type fakeCapture struct {
	pkts chan []*rtp.Packet

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{pkts: make(chan []*rtp.Packet, 8), done: make(chan struct{})}
}

func (c *fakeCapture) Read() ([]*rtp.Packet, func(), error) {
	select {
	case p := <-c.pkts:
		return p, nil, nil
	case <-c.done:
		return nil, nil, io.EOF
	}
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type replaceCall struct {
	old, new core.LocalTrack
	// oldClosed records whether the old capture was already released when
	// the fan-out ran.
	oldClosed bool
}

type recordingSink struct {
	calls   []replaceCall
	capture func(core.LocalTrack) *fakeCapture
}

func (s *recordingSink) ReplaceTrack(old, new core.LocalTrack) {
	call := replaceCall{old: old, new: new}
	if old != nil && s.capture != nil {
		call.oldClosed = s.capture(old).isClosed()
	}
	s.calls = append(s.calls, call)
}
